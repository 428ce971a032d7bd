package database

import (
	"context"
	"errors"
	"strconv"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"spot-ladder-bot/internal/logging"
)

func TestAlertStateStoreMemoryMode(t *testing.T) {
	ctx := context.Background()
	s := NewAlertStateStore(ctx, nil, logging.Nop())
	assert.False(t, s.IsRedisAvailable())

	require.NoError(t, s.AddMilestone(ctx, "SOLUSDT", 5))
	require.NoError(t, s.AddMilestone(ctx, "SOLUSDT", 3))
	require.NoError(t, s.AddMilestone(ctx, "SOLUSDT", 3))
	require.NoError(t, s.AddMilestone(ctx, "ADAUSDT", 3))

	m, err := s.LoadMilestones(ctx)
	require.NoError(t, err)
	assert.Equal(t, []float64{3, 5}, m["SOLUSDT"])
	assert.Equal(t, []float64{3}, m["ADAUSDT"])

	require.NoError(t, s.ClearMilestones(ctx, "SOLUSDT"))
	m, err = s.LoadMilestones(ctx)
	require.NoError(t, err)
	assert.NotContains(t, m, "SOLUSDT")
}

func TestAlertStateStoreCooldowns(t *testing.T) {
	ctx := context.Background()
	s := NewAlertStateStore(ctx, nil, logging.Nop())
	now := time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC)

	require.NoError(t, s.SaveCooldown(ctx, "SOLUSDT", now.Add(20*time.Minute)))
	require.NoError(t, s.SaveCooldown(ctx, "ADAUSDT", now.Add(-time.Minute)))

	cd, err := s.LoadCooldowns(ctx, now)
	require.NoError(t, err)
	assert.Len(t, cd, 1)
	assert.True(t, now.Add(20*time.Minute).Equal(cd["SOLUSDT"]))
}

func newMockedAlertState(t *testing.T) (*AlertStateStore, redismock.ClientMock) {
	t.Helper()
	db, mock := redismock.NewClientMock()
	mock.ExpectPing().SetVal("PONG")
	s := NewAlertStateStore(context.Background(), db, logging.Nop())
	require.True(t, s.IsRedisAvailable())
	return s, mock
}

func TestAlertStateStoreRedisMilestones(t *testing.T) {
	ctx := context.Background()
	key := MilestoneKeyPrefix + ":SOLUSDT"

	s, mock := newMockedAlertState(t)
	mock.ExpectTxPipeline()
	mock.ExpectSAdd(key, "3").SetVal(1)
	mock.ExpectExpire(key, AlertStateTTL).SetVal(true)
	mock.ExpectSAdd(MilestoneIndexKey, "SOLUSDT").SetVal(1)
	mock.ExpectTxPipelineExec()
	require.NoError(t, s.AddMilestone(ctx, "SOLUSDT", 3))
	assert.NoError(t, mock.ExpectationsWereMet())

	// a restarted process reads the markers back from Redis
	restarted, mock := newMockedAlertState(t)
	mock.ExpectSMembers(MilestoneIndexKey).SetVal([]string{"SOLUSDT"})
	mock.ExpectSMembers(key).SetVal([]string{"5", "3", "junk"})
	m, err := restarted.LoadMilestones(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string][]float64{"SOLUSDT": {3, 5}}, m)

	mock.ExpectTxPipeline()
	mock.ExpectDel(key).SetVal(1)
	mock.ExpectSRem(MilestoneIndexKey, "SOLUSDT").SetVal(1)
	mock.ExpectTxPipelineExec()
	require.NoError(t, restarted.ClearMilestones(ctx, "SOLUSDT"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAlertStateStoreRedisCooldownExpiry(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC)
	live := now.Add(20 * time.Minute)
	stale := now.Add(-time.Minute)

	s, mock := newMockedAlertState(t)
	mock.ExpectHSet(CooldownKey, "SOLUSDT", live.UnixMilli()).SetVal(1)
	require.NoError(t, s.SaveCooldown(ctx, "SOLUSDT", live))
	assert.NoError(t, mock.ExpectationsWereMet())

	restarted, mock := newMockedAlertState(t)
	mock.ExpectHGetAll(CooldownKey).SetVal(map[string]string{
		"SOLUSDT": strconv.FormatInt(live.UnixMilli(), 10),
		"ADAUSDT": strconv.FormatInt(stale.UnixMilli(), 10),
	})
	mock.ExpectHDel(CooldownKey, "ADAUSDT").SetVal(1)

	cd, err := restarted.LoadCooldowns(ctx, now)
	require.NoError(t, err)
	require.Len(t, cd, 1)
	assert.True(t, live.Equal(cd["SOLUSDT"]))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAlertStateStoreRedisRecovers(t *testing.T) {
	ctx := context.Background()
	clock := time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC)
	expiry := clock.Add(30 * time.Minute)

	s, mock := newMockedAlertState(t)
	s.now = func() time.Time { return clock }

	mock.ExpectHSet(CooldownKey, "SOLUSDT", expiry.UnixMilli()).SetErr(errors.New("connection refused"))
	assert.Error(t, s.SaveCooldown(ctx, "SOLUSDT", expiry))
	assert.False(t, s.IsRedisAvailable())

	// inside the reprobe interval nothing reaches Redis
	clock = clock.Add(RedisReprobeInterval / 2)
	require.NoError(t, s.SaveCooldown(ctx, "ADAUSDT", expiry))

	// a failed ping keeps memory mode and waits another interval
	clock = clock.Add(RedisReprobeInterval)
	mock.ExpectPing().SetErr(errors.New("connection refused"))
	require.NoError(t, s.SaveCooldown(ctx, "ADAUSDT", expiry))
	assert.False(t, s.IsRedisAvailable())

	clock = clock.Add(RedisReprobeInterval)
	mock.ExpectPing().SetVal("PONG")
	mock.ExpectHSet(CooldownKey, "ADAUSDT", expiry.UnixMilli()).SetVal(1)
	require.NoError(t, s.SaveCooldown(ctx, "ADAUSDT", expiry))
	assert.True(t, s.IsRedisAvailable())
	assert.NoError(t, mock.ExpectationsWereMet())

	// memory still holds what was written during the outage
	cdMem := s.snapshotCooldowns()
	assert.Contains(t, cdMem, "SOLUSDT")
	assert.Contains(t, cdMem, "ADAUSDT")
}
