package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	goredis "github.com/go-redis/redis/v8"

	"signalengine/internal/metrics"
)

const (
	LatestKeyPrefix  = "sig:latest:"
	StreamKey        = "sig:stream"
	ChannelPrefix    = "pub:sig:"
	defaultLatestTTL = 30 * time.Minute
	defaultMaxLen    = 10000
	defaultMaxBuffer = 1000
)

// LatestKey is the key holding the most recent decision for an asset.
func LatestKey(assetID string) string { return LatestKeyPrefix + assetID }

// Channel is the pub/sub channel decisions for an asset are published on.
func Channel(assetID string) string { return ChannelPrefix + assetID }

// Config configures the Redis publisher.
type Config struct {
	Addr     string // Redis address, e.g. "localhost:6379"
	Password string
	DB       int

	LatestTTL    time.Duration // TTL of sig:latest:<asset>; default 30m
	StreamMaxLen int64         // approximate MAXLEN of sig:stream; default 10000
	MaxFailures  int           // consecutive failures before the breaker opens; default 5
	ResetTimeout time.Duration // open → half-open delay; default 10s
	MaxBuffer    int           // decisions held while the breaker is open; default 1000
}

func (c *Config) defaults() {
	if c.LatestTTL <= 0 {
		c.LatestTTL = defaultLatestTTL
	}
	if c.StreamMaxLen <= 0 {
		c.StreamMaxLen = defaultMaxLen
	}
	if c.MaxFailures <= 0 {
		c.MaxFailures = 5
	}
	if c.ResetTimeout <= 0 {
		c.ResetTimeout = 10 * time.Second
	}
	if c.MaxBuffer <= 0 {
		c.MaxBuffer = defaultMaxBuffer
	}
}

type pending struct {
	assetID string
	payload []byte
}

// Publisher writes engine decisions to Redis: the latest decision per asset
// under a TTL key, every decision on a capped stream, and a pub/sub
// notification per asset. Writes go through a circuit breaker; while it is
// open, decisions are buffered (oldest dropped first) and flushed when it
// closes again.
type Publisher struct {
	client *goredis.Client
	cfg    Config
	cb     *CircuitBreaker
	prom   *metrics.Metrics
	log    *slog.Logger

	// write performs the Redis round trip; replaced in tests.
	write func(ctx context.Context, assetID string, payload []byte) error

	mu     sync.Mutex
	buffer []pending
}

// Option customises a Publisher.
type Option func(*Publisher)

// WithMetrics exports breaker state, publish latency and drops.
func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Publisher) { p.prom = m }
}

// New connects to Redis, pings it and returns a Publisher.
func New(cfg Config, opts ...Option) (*Publisher, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	p := newPublisher(cfg, opts...)
	p.client = client
	p.write = p.pipeline
	p.log.Info("connected", slog.String("addr", cfg.Addr))
	return p, nil
}

func newPublisher(cfg Config, opts ...Option) *Publisher {
	cfg.defaults()
	p := &Publisher{
		cfg: cfg,
		cb:  NewCircuitBreaker(cfg.MaxFailures, cfg.ResetTimeout),
		log: slog.Default().With(slog.String("component", "redis")),
	}
	for _, o := range opts {
		o(p)
	}
	p.cb.OnStateChange = func(from, to State) {
		p.log.Warn("circuit breaker transition", slog.String("from", from.String()), slog.String("to", to.String()))
		if p.prom != nil {
			p.prom.PublishCircuitState.Set(float64(to))
			if to == StateOpen {
				p.prom.PublishCircuitTrips.Inc()
			}
		}
		if to == StateClosed {
			go p.flush()
		}
	}
	return p
}

// Breaker exposes the circuit breaker for health reporting.
func (p *Publisher) Breaker() *CircuitBreaker { return p.cb }

// Publish marshals v as JSON and writes it for assetID. When the breaker is
// open the decision is buffered and Publish returns nil.
func (p *Publisher) Publish(ctx context.Context, assetID string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("redis publish %s: marshal: %w", assetID, err)
	}

	start := time.Now()
	err = p.cb.Execute(func() error { return p.write(ctx, assetID, payload) })
	if p.prom != nil {
		p.prom.PublishDur.Observe(time.Since(start).Seconds())
	}
	if errors.Is(err, ErrCircuitOpen) {
		p.bufferWrite(assetID, payload)
		return nil
	}
	if err != nil {
		return fmt.Errorf("redis publish %s: %w", assetID, err)
	}
	return nil
}

// pipeline batches SET + XADD + PUBLISH into one round trip.
func (p *Publisher) pipeline(ctx context.Context, assetID string, payload []byte) error {
	data := string(payload)
	pipe := p.client.Pipeline()
	pipe.Set(ctx, LatestKey(assetID), data, p.cfg.LatestTTL)
	pipe.XAdd(ctx, &goredis.XAddArgs{
		Stream: StreamKey,
		MaxLen: p.cfg.StreamMaxLen,
		Approx: true,
		Values: map[string]interface{}{"asset_id": assetID, "data": data},
	})
	pipe.Publish(ctx, Channel(assetID), data)
	_, err := pipe.Exec(ctx)
	return err
}

func (p *Publisher) bufferWrite(assetID string, payload []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.buffer) >= p.cfg.MaxBuffer {
		p.buffer = p.buffer[1:]
		if p.prom != nil {
			p.prom.PublishDroppedDecision.Inc()
		}
	}
	p.buffer = append(p.buffer, pending{assetID: assetID, payload: payload})
}

// flush replays buffered decisions in arrival order.
func (p *Publisher) flush() {
	p.mu.Lock()
	toFlush := p.buffer
	p.buffer = nil
	p.mu.Unlock()

	if len(toFlush) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	flushed := 0
	for _, pw := range toFlush {
		if err := p.write(ctx, pw.assetID, pw.payload); err != nil {
			p.log.Error("flush failed", slog.String("asset", pw.assetID), slog.Any("error", err))
			continue
		}
		flushed++
	}
	p.log.Info("flushed buffered decisions", slog.Int("count", flushed), slog.Int("pending", len(toFlush)))
}

// PendingCount returns the number of buffered decisions waiting to be flushed.
func (p *Publisher) PendingCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.buffer)
}

// Latest returns the most recent decision JSON for an asset, or nil if none
// is stored.
func (p *Publisher) Latest(ctx context.Context, assetID string) ([]byte, error) {
	b, err := p.client.Get(ctx, LatestKey(assetID)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis GET %s: %w", LatestKey(assetID), err)
	}
	return b, nil
}

// Watch forwards published decisions to out until ctx is cancelled. An empty
// assetID watches every asset.
func (p *Publisher) Watch(ctx context.Context, assetID string, out chan<- []byte) error {
	var sub *goredis.PubSub
	if assetID == "" {
		sub = p.client.PSubscribe(ctx, ChannelPrefix+"*")
	} else {
		sub = p.client.Subscribe(ctx, Channel(assetID))
	}
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("redis subscribe: %w", err)
	}

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			select {
			case out <- []byte(msg.Payload):
			case <-ctx.Done():
				return nil
			}
		}
	}
}

// Close closes the Redis connection.
func (p *Publisher) Close() error {
	if p.client == nil {
		return nil
	}
	return p.client.Close()
}
