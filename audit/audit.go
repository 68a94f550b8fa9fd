// Package audit records operator-reported reversals: free-text notes that a
// partially applied change needs undoing by hand. Nothing here undoes
// anything.
package audit

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/nomis52/roster/apperr"
	"github.com/redis/go-redis/v9"
)

// EventName tags every reversal record.
const EventName = "REVERT_ERROR"

// DefaultStream is the Redis stream reversals are appended to.
const DefaultStream = "roster:audit:reversals"

// maxMessageLen bounds the free-text message.
const maxMessageLen = 4096

// Reversal is one recorded reversal note.
type Reversal struct {
	ID         string    `json:"id"`
	Message    string    `json:"message"`
	Actor      string    `json:"actor,omitempty"`
	RecordedAt time.Time `json:"recorded_at"`
}

// NewReversal validates message and stamps a new reversal.
func NewReversal(message, actor string, now time.Time) (Reversal, error) {
	msg := strings.TrimSpace(message)
	if msg == "" {
		return Reversal{}, apperr.BadRequest("message is required")
	}
	if len(msg) > maxMessageLen {
		return Reversal{}, apperr.BadRequest(fmt.Sprintf("message exceeds %d bytes", maxMessageLen))
	}
	return Reversal{
		ID:         uuid.NewString(),
		Message:    msg,
		Actor:      actor,
		RecordedAt: now.UTC(),
	}, nil
}

func (r Reversal) values() map[string]interface{} {
	return map[string]interface{}{
		"event":       EventName,
		"id":          r.ID,
		"message":     r.Message,
		"actor":       r.Actor,
		"recorded_at": r.RecordedAt.Format(time.RFC3339Nano),
	}
}

// Recorder persists reversals.
type Recorder interface {
	Record(ctx context.Context, r Reversal) error
}

// LogRecorder writes reversals to the structured log only.
type LogRecorder struct {
	logger *slog.Logger
}

// NewLogRecorder creates a LogRecorder.
func NewLogRecorder(logger *slog.Logger) *LogRecorder {
	return &LogRecorder{logger: logger.With("component", "audit")}
}

func (l *LogRecorder) Record(ctx context.Context, r Reversal) error {
	l.logger.ErrorContext(ctx, EventName,
		"reversal_id", r.ID,
		"actor", r.Actor,
		"message", r.Message,
	)
	return nil
}

// RedisRecorder appends reversals to a Redis stream and logs them.
type RedisRecorder struct {
	client *redis.Client
	stream string
	maxLen int64
	log    *LogRecorder
}

// RedisConfig configures a RedisRecorder.
type RedisConfig struct {
	// URL is a redis:// URL, e.g. "redis://localhost:6379/0".
	URL string
	// Stream defaults to DefaultStream.
	Stream string
	// MaxLen caps the stream length approximately. Zero keeps everything.
	MaxLen int64
}

// NewRedisRecorder connects to Redis and checks the connection.
func NewRedisRecorder(ctx context.Context, cfg RedisConfig, logger *slog.Logger) (*RedisRecorder, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	stream := cfg.Stream
	if stream == "" {
		stream = DefaultStream
	}
	return &RedisRecorder{
		client: client,
		stream: stream,
		maxLen: cfg.MaxLen,
		log:    NewLogRecorder(logger),
	}, nil
}

// Close closes the Redis connection.
func (r *RedisRecorder) Close() error {
	return r.client.Close()
}

func (r *RedisRecorder) Record(ctx context.Context, rev Reversal) error {
	_ = r.log.Record(ctx, rev)

	args := &redis.XAddArgs{
		Stream: r.stream,
		Values: rev.values(),
	}
	if r.maxLen > 0 {
		args.MaxLen = r.maxLen
		args.Approx = true
	}
	if err := r.client.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("appending reversal %s to %s: %w", rev.ID, r.stream, err)
	}
	return nil
}
