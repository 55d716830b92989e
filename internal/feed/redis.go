package feed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisConfig selects the stream and consumer group to read from.
type RedisConfig struct {
	URL           string
	Password      string
	StreamKey     string // e.g. "feeder:binance"
	ConsumerGroup string
	ConsumerName  string
	BlockTime     time.Duration
	BatchSize     int64
}

// RedisFeed replays Binance payloads that another process has appended to a
// Redis stream. Each entry stores the raw combined-stream JSON in its "data"
// field. Entries are acknowledged once decoded, including undecodable ones, so
// they are not redelivered forever.
type RedisFeed struct {
	client *redis.Client
	cfg    RedisConfig
	log    *slog.Logger

	evCh  chan Event
	errCh chan error

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
}

// NewRedisFeed parses the URL and builds a client; it does not dial.
func NewRedisFeed(cfg RedisConfig, logger *slog.Logger) (*RedisFeed, error) {
	opt, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	if cfg.Password != "" {
		opt.Password = cfg.Password
	}
	return newRedisFeed(redis.NewClient(opt), cfg, logger), nil
}

func newRedisFeed(client *redis.Client, cfg RedisConfig, logger *slog.Logger) *RedisFeed {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.BlockTime <= 0 {
		cfg.BlockTime = 5 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 64
	}
	return &RedisFeed{
		client: client,
		cfg:    cfg,
		log:    logger.With("component", "redis_feed", "stream_key", cfg.StreamKey),
		evCh:   make(chan Event, 1024),
		errCh:  make(chan error, 16),
	}
}

func (f *RedisFeed) Events() <-chan Event { return f.evCh }
func (f *RedisFeed) Errors() <-chan error { return f.errCh }

// Close stops Run, closes the output channels and the client. Call it only
// after Run returns.
func (f *RedisFeed) Close() {
	f.closeOnce.Do(func() {
		if f.cancel != nil {
			f.cancel()
		}
		close(f.errCh)
		close(f.evCh)
		_ = f.client.Close()
	})
}

func (f *RedisFeed) Run(ctx context.Context, onStatus func(connected bool)) {
	if f.cancel != nil {
		return
	}
	f.ctx, f.cancel = context.WithCancel(ctx)

	backoff := time.Second
	connected := false
	setStatus := func(v bool) {
		if v != connected {
			connected = v
			onStatus(v)
		}
	}
	defer setStatus(false)

	for f.ctx.Err() == nil {
		if !connected {
			if err := f.ensureGroup(f.ctx); err != nil {
				f.emitErr(err)
				if !sleepCtx(f.ctx, backoff) {
					return
				}
				backoff = min(backoff*2, maxBackoff)
				continue
			}
			setStatus(true)
			backoff = time.Second
		}

		streams, err := f.client.XReadGroup(f.ctx, &redis.XReadGroupArgs{
			Group:    f.cfg.ConsumerGroup,
			Consumer: f.cfg.ConsumerName,
			Streams:  []string{f.cfg.StreamKey, ">"},
			Count:    f.cfg.BatchSize,
			Block:    f.cfg.BlockTime,
		}).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			if f.ctx.Err() != nil {
				return
			}
			setStatus(false)
			f.emitErr(fmt.Errorf("xreadgroup: %w", err))
			if !sleepCtx(f.ctx, backoff) {
				return
			}
			continue
		}

		for _, stream := range streams {
			for _, msg := range stream.Messages {
				if !f.deliver(msg) {
					return
				}
			}
		}
	}
}

func (f *RedisFeed) ensureGroup(ctx context.Context) error {
	err := f.client.XGroupCreateMkStream(ctx, f.cfg.StreamKey, f.cfg.ConsumerGroup, "$").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("create consumer group: %w", err)
	}
	return nil
}

// deliver decodes and forwards one entry. It returns false when ctx ended
// before the event could be handed off.
func (f *RedisFeed) deliver(msg redis.XMessage) bool {
	ev, err := decodeEntry(msg)
	if err != nil {
		f.log.Warn("entry_rejected", "stream_id", msg.ID, "error", err)
	} else {
		select {
		case f.evCh <- ev:
		case <-f.ctx.Done():
			return false
		}
	}
	if err := f.client.XAck(f.ctx, f.cfg.StreamKey, f.cfg.ConsumerGroup, msg.ID).Err(); err != nil {
		f.log.Error("xack_failed", "stream_id", msg.ID, "error", err)
	}
	return true
}

func decodeEntry(msg redis.XMessage) (Event, error) {
	raw, ok := msg.Values["data"]
	if !ok {
		return Event{}, errors.New("entry missing 'data' field")
	}
	s, ok := raw.(string)
	if !ok {
		return Event{}, errors.New("data field is not a string")
	}
	ev, ok := Decode([]byte(s))
	if !ok {
		return Event{}, errors.New("undecodable payload")
	}
	return ev, nil
}

func (f *RedisFeed) emitErr(err error) {
	select {
	case f.errCh <- err:
	default:
	}
}
