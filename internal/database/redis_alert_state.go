package database

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"spot-ladder-bot/internal/logging"
)

// Redis keys for alert state
const (
	// MilestoneKeyPrefix holds one set per symbol: spotbot:milestones:{symbol}
	MilestoneKeyPrefix = "spotbot:milestones"

	// MilestoneIndexKey is the set of symbols with at least one milestone sent
	MilestoneIndexKey = "spotbot:milestones:index"

	// CooldownKey is a hash of symbol -> expiry (unix millis)
	CooldownKey = "spotbot:cooldowns"

	// AlertStateTTL bounds how long milestone sets live without being touched
	AlertStateTTL = 7 * 24 * time.Hour

	// RedisReprobeInterval is how long a failed Redis stays bypassed before the next ping
	RedisReprobeInterval = 30 * time.Second
)

// AlertStateStore keeps milestone markers and cooldown expiries.
// Writes go to an in-memory cache and, when reachable, to Redis so the state survives restarts.
// After a Redis failure the store runs from memory and pings again every RedisReprobeInterval;
// writes made while Redis was down are not replayed.
type AlertStateStore struct {
	client         *redis.Client
	logger         *logging.Logger
	mu             sync.RWMutex
	milestones     map[string]map[float64]struct{}
	cooldowns      map[string]time.Time
	redisAvailable atomic.Bool
	now            func() time.Time

	probeMu   sync.Mutex
	nextProbe time.Time
}

// NewAlertStateStore creates the store. A nil client means memory-only mode.
func NewAlertStateStore(ctx context.Context, client *redis.Client, logger *logging.Logger) *AlertStateStore {
	if logger == nil {
		logger = logging.Default()
	}
	s := &AlertStateStore{
		client:     client,
		logger:     logger.WithComponent("alert-state"),
		milestones: make(map[string]map[float64]struct{}),
		cooldowns:  make(map[string]time.Time),
		now:        time.Now,
	}

	if client == nil {
		s.logger.Info("No Redis client provided, alert state is memory-only")
		return s
	}

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		s.logger.Warn("Redis unavailable at startup, using in-memory alert state", "error", err)
		s.nextProbe = s.now().Add(RedisReprobeInterval)
		return s
	}
	s.logger.Info("Redis connected for alert state")
	s.redisAvailable.Store(true)
	return s
}

// IsRedisAvailable reports whether writes currently reach Redis
func (s *AlertStateStore) IsRedisAvailable() bool {
	return s.redisAvailable.Load()
}

func (s *AlertStateStore) milestoneKey(symbol string) string {
	return fmt.Sprintf("%s:%s", MilestoneKeyPrefix, symbol)
}

func (s *AlertStateStore) markRedisDown(op string, err error) {
	if s.redisAvailable.CompareAndSwap(true, false) {
		s.probeMu.Lock()
		s.nextProbe = s.now().Add(RedisReprobeInterval)
		s.probeMu.Unlock()
		s.logger.Warn("Redis write failed, falling back to memory", "op", op, "error", err)
	}
}

// useRedis reports whether this call should go to Redis, pinging a failed
// server again once the reprobe interval has passed
func (s *AlertStateStore) useRedis(ctx context.Context) bool {
	if s.redisAvailable.Load() {
		return true
	}
	if s.client == nil {
		return false
	}

	s.probeMu.Lock()
	defer s.probeMu.Unlock()
	if s.redisAvailable.Load() {
		return true
	}
	now := s.now()
	if now.Before(s.nextProbe) {
		return false
	}
	s.nextProbe = now.Add(RedisReprobeInterval)

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := s.client.Ping(pingCtx).Err(); err != nil {
		s.logger.Debug("Redis still unavailable", "error", err)
		return false
	}
	s.redisAvailable.Store(true)
	s.logger.Info("Redis reachable again, alert state persistence resumed")
	return true
}

// AddMilestone records that the milestone alert for symbol was sent
func (s *AlertStateStore) AddMilestone(ctx context.Context, symbol string, milestone float64) error {
	s.mu.Lock()
	set, ok := s.milestones[symbol]
	if !ok {
		set = make(map[float64]struct{})
		s.milestones[symbol] = set
	}
	set[milestone] = struct{}{}
	s.mu.Unlock()

	if !s.useRedis(ctx) {
		return nil
	}
	key := s.milestoneKey(symbol)
	pipe := s.client.TxPipeline()
	pipe.SAdd(ctx, key, strconv.FormatFloat(milestone, 'f', -1, 64))
	pipe.Expire(ctx, key, AlertStateTTL)
	pipe.SAdd(ctx, MilestoneIndexKey, symbol)
	if _, err := pipe.Exec(ctx); err != nil {
		s.markRedisDown("add_milestone", err)
		return fmt.Errorf("persist milestone %s@%v: %w", symbol, milestone, err)
	}
	return nil
}

// ClearMilestones forgets every milestone of symbol
func (s *AlertStateStore) ClearMilestones(ctx context.Context, symbol string) error {
	s.mu.Lock()
	delete(s.milestones, symbol)
	s.mu.Unlock()

	if !s.useRedis(ctx) {
		return nil
	}
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, s.milestoneKey(symbol))
	pipe.SRem(ctx, MilestoneIndexKey, symbol)
	if _, err := pipe.Exec(ctx); err != nil {
		s.markRedisDown("clear_milestones", err)
		return fmt.Errorf("clear milestones %s: %w", symbol, err)
	}
	return nil
}

// LoadMilestones returns every recorded milestone, sorted per symbol
func (s *AlertStateStore) LoadMilestones(ctx context.Context) (map[string][]float64, error) {
	if s.useRedis(ctx) {
		symbols, err := s.client.SMembers(ctx, MilestoneIndexKey).Result()
		if err != nil {
			s.markRedisDown("load_milestones", err)
		} else {
			for _, symbol := range symbols {
				members, err := s.client.SMembers(ctx, s.milestoneKey(symbol)).Result()
				if err != nil {
					return nil, fmt.Errorf("load milestones %s: %w", symbol, err)
				}
				for _, m := range members {
					v, err := strconv.ParseFloat(m, 64)
					if err != nil {
						continue
					}
					s.mu.Lock()
					if s.milestones[symbol] == nil {
						s.milestones[symbol] = make(map[float64]struct{})
					}
					s.milestones[symbol][v] = struct{}{}
					s.mu.Unlock()
				}
			}
		}
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string][]float64, len(s.milestones))
	for symbol, set := range s.milestones {
		list := make([]float64, 0, len(set))
		for m := range set {
			list = append(list, m)
		}
		sort.Float64s(list)
		out[symbol] = list
	}
	return out, nil
}

// SaveCooldown records the cooldown expiry of symbol
func (s *AlertStateStore) SaveCooldown(ctx context.Context, symbol string, expiry time.Time) error {
	s.mu.Lock()
	s.cooldowns[symbol] = expiry
	s.mu.Unlock()

	if !s.useRedis(ctx) {
		return nil
	}
	if err := s.client.HSet(ctx, CooldownKey, symbol, expiry.UnixMilli()).Err(); err != nil {
		s.markRedisDown("save_cooldown", err)
		return fmt.Errorf("persist cooldown %s: %w", symbol, err)
	}
	return nil
}

// LoadCooldowns returns unexpired cooldowns and prunes the rest
func (s *AlertStateStore) LoadCooldowns(ctx context.Context, now time.Time) (map[string]time.Time, error) {
	if s.useRedis(ctx) {
		raw, err := s.client.HGetAll(ctx, CooldownKey).Result()
		if err != nil {
			s.markRedisDown("load_cooldowns", err)
		} else {
			var expired []string
			s.mu.Lock()
			for symbol, v := range raw {
				ms, err := strconv.ParseInt(v, 10, 64)
				if err != nil {
					expired = append(expired, symbol)
					continue
				}
				s.cooldowns[symbol] = time.UnixMilli(ms)
			}
			s.mu.Unlock()
			for symbol, expiry := range s.snapshotCooldowns() {
				if !expiry.After(now) {
					expired = append(expired, symbol)
				}
			}
			if len(expired) > 0 {
				if err := s.client.HDel(ctx, CooldownKey, expired...).Err(); err != nil {
					s.logger.Warn("Failed to prune expired cooldowns", "error", err)
				}
			}
		}
	}

	out := make(map[string]time.Time)
	s.mu.Lock()
	defer s.mu.Unlock()
	for symbol, expiry := range s.cooldowns {
		if expiry.After(now) {
			out[symbol] = expiry
		} else {
			delete(s.cooldowns, symbol)
		}
	}
	return out, nil
}

func (s *AlertStateStore) snapshotCooldowns() map[string]time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]time.Time, len(s.cooldowns))
	for k, v := range s.cooldowns {
		out[k] = v
	}
	return out
}
