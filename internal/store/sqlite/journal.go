package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"signalengine/internal/metrics"
	"signalengine/internal/model"
)

const (
	defaultBatchSize  = 100
	defaultFlushDelay = 200 * time.Millisecond
)

// Journal persists recorded observations to SQLite for replay.
// Writes are serialized through a single connection in WAL mode.
type Journal struct {
	db   *sql.DB
	prom *metrics.Metrics
	log  *slog.Logger
}

// Option customises a Journal.
type Option func(*Journal)

// WithMetrics records batch commit latency.
func WithMetrics(m *metrics.Metrics) Option {
	return func(j *Journal) { j.prom = m }
}

// Open opens (or creates) the journal database at path.
func Open(path string, opts ...Option) (*Journal, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}

	// Single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}

	j := &Journal{db: db, log: slog.Default().With(slog.String("component", "sqlite"))}
	for _, o := range opts {
		o(j)
	}
	j.log.Info("opened journal", slog.String("path", path))
	return j, nil
}

// DB returns the underlying sql.DB for health checks.
func (j *Journal) DB() *sql.DB { return j.db }

// ts keeps the ISO-8601 form; ts_ns orders and filters rows.
func createSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS observations (
			asset_id   TEXT    NOT NULL,
			ts         TEXT    NOT NULL,
			ts_ns      INTEGER NOT NULL,
			price      REAL    NOT NULL,
			volume     REAL    NOT NULL,
			buy_count  INTEGER NOT NULL,
			sell_count INTEGER NOT NULL,
			market_cap REAL,
			PRIMARY KEY (asset_id, ts_ns)
		);
	`)
	return err
}

// Append writes one observation synchronously.
func (j *Journal) Append(ctx context.Context, obs model.Observation) error {
	if err := obs.Validate(); err != nil {
		return err
	}
	return j.insertBatch(ctx, []model.Observation{obs})
}

// Run reads observations from obsCh and inserts them in batched transactions.
// Flushes every batchSize observations or every flushDelay, whichever first.
// Blocks until ctx is cancelled or obsCh is closed.
func (j *Journal) Run(ctx context.Context, obsCh <-chan model.Observation) {
	batch := make([]model.Observation, 0, defaultBatchSize)
	timer := time.NewTimer(defaultFlushDelay)
	defer timer.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		// Final flush may run after ctx is cancelled.
		if err := j.insertBatch(context.WithoutCancel(ctx), batch); err != nil {
			j.log.Error("batch insert failed", slog.Int("count", len(batch)), slog.Any("error", err))
		} else {
			j.log.Debug("committed batch", slog.Int("count", len(batch)))
		}
		batch = batch[:0]
	}

	for {
		select {
		case <-ctx.Done():
			// Drain what is already queued.
			for {
				select {
				case obs, ok := <-obsCh:
					if !ok {
						flush()
						return
					}
					batch = append(batch, obs)
				default:
					flush()
					return
				}
			}

		case obs, ok := <-obsCh:
			if !ok {
				flush()
				return
			}
			batch = append(batch, obs)
			if len(batch) >= defaultBatchSize {
				flush()
				timer.Reset(defaultFlushDelay)
			}

		case <-timer.C:
			flush()
			timer.Reset(defaultFlushDelay)
		}
	}
}

// insertBatch inserts a batch of observations in a single transaction.
// Re-inserting an (asset, timestamp) pair replaces the row.
func (j *Journal) insertBatch(ctx context.Context, batch []model.Observation) error {
	start := time.Now()
	tx, err := j.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO observations (asset_id, ts, ts_ns, price, volume, buy_count, sell_count, market_cap)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()

	for _, o := range batch {
		rec := o.Record()
		var mc sql.NullFloat64
		if rec.MarketCap != nil {
			mc = sql.NullFloat64{Float64: *rec.MarketCap, Valid: true}
		}
		_, err := stmt.ExecContext(ctx, o.AssetID, rec.Timestamp, o.ObservedAt.UnixNano(),
			rec.Price, rec.Volume, rec.BuyCount, rec.SellCount, mc)
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("insert %s: %w", o.AssetID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	if j.prom != nil {
		j.prom.JournalCommitDur.Observe(time.Since(start).Seconds())
	}
	return nil
}

// Read returns the observations of an asset at or after since, oldest first.
// A zero since reads everything.
func (j *Journal) Read(ctx context.Context, assetID string, since time.Time) ([]model.Observation, error) {
	var sinceNS int64
	if !since.IsZero() {
		sinceNS = since.UnixNano()
	}
	rows, err := j.db.QueryContext(ctx, `
		SELECT ts, price, volume, buy_count, sell_count, market_cap
		FROM observations
		WHERE asset_id = ? AND ts_ns >= ?
		ORDER BY ts_ns ASC
	`, assetID, sinceNS)
	if err != nil {
		return nil, fmt.Errorf("sqlite query observations: %w", err)
	}
	defer rows.Close()

	var out []model.Observation
	for rows.Next() {
		var rec model.ObservationRecord
		var mc sql.NullFloat64
		if err := rows.Scan(&rec.Timestamp, &rec.Price, &rec.Volume, &rec.BuyCount, &rec.SellCount, &mc); err != nil {
			return nil, fmt.Errorf("sqlite scan observations: %w", err)
		}
		if mc.Valid {
			v := mc.Float64
			rec.MarketCap = &v
		}
		obs, err := rec.Observation(assetID)
		if err != nil {
			return nil, err
		}
		out = append(out, obs)
	}
	return out, rows.Err()
}

// Assets lists the journaled asset ids in ascending order.
func (j *Journal) Assets(ctx context.Context) ([]string, error) {
	rows, err := j.db.QueryContext(ctx, `SELECT DISTINCT asset_id FROM observations ORDER BY asset_id`)
	if err != nil {
		return nil, fmt.Errorf("sqlite query assets: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// Close closes the database.
func (j *Journal) Close() error {
	return j.db.Close()
}

// Queue adapts a channel consumed by Journal.Run to model.ObservationJournal,
// so producers never wait on a disk commit.
type Queue chan<- model.Observation

// Append enqueues obs, waiting only while the queue is full.
func (q Queue) Append(ctx context.Context, obs model.Observation) error {
	select {
	case q <- obs:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close is a no-op; the owner of the channel closes it.
func (q Queue) Close() error { return nil }
