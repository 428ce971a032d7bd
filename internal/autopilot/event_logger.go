package autopilot

import (
	"context"

	"spot-ladder-bot/internal/database"
	"spot-ladder-bot/internal/logging"
)

// logEvent writes an operator log line and appends the same message to the
// audit trail users see. kv are extra structured fields for the log line only.
func (sc *SpotController) logEvent(ctx context.Context, level database.EventLevel, category, message string, kv ...interface{}) {
	log := sc.logger
	if logging.TraceIDFromContext(ctx) != "" {
		log = logging.FromContext(ctx)
	}
	args := append([]interface{}{"category", category}, kv...)
	switch level {
	case database.LevelError:
		log.Error(message, args...)
	case database.LevelWarn:
		log.Warn(message, args...)
	default:
		log.Info(message, args...)
	}

	event := database.SystemEvent{
		Timestamp: sc.clock.Now(),
		Level:     level,
		Category:  category,
		Message:   message,
	}
	if err := sc.store.AppendSystemEvent(ctx, event); err != nil {
		// no recursion into logEvent here
		sc.logger.Error("Failed to persist system event", "error", err, "message", message)
		sc.recordStoreErr("append system event", err)
	}
	sc.events.PublishSystemEvent(string(level), category, message)
}
