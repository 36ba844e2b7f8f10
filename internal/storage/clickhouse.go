package storage

import (
	"context"
	"crypto/tls"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"go.uber.org/zap"
)

const (
	bufferSize    = 10_000
	flushInterval = 100 * time.Millisecond
	flushBatch    = 1000
	drainTimeout  = 2 * time.Second
)

// AttackEventsDDL creates the attack event table.
const AttackEventsDDL = `
CREATE TABLE IF NOT EXISTS rasp_attack_events (
	request_id      String,
	project_id      String,
	timestamp       DateTime64(3, 'UTC'),
	kind            LowCardinality(String),
	algorithm       LowCardinality(String),
	action          LowCardinality(String),
	verdict         LowCardinality(String),
	message         String,
	confidence      UInt8,
	is_shadow       UInt8,
	url             String,
	method          LowCardinality(String),
	language        LowCardinality(String),
	payload_preview String,
	payload_hash    String,
	payload_size    UInt32,
	stack           Array(String),
	latency_ms      Float32,
	source          LowCardinality(String)
) ENGINE = MergeTree
ORDER BY (project_id, timestamp)`

const insertAttackEvents = `
INSERT INTO rasp_attack_events (
	request_id, project_id, timestamp, kind, algorithm,
	action, verdict, message, confidence, is_shadow,
	url, method, language,
	payload_preview, payload_hash, payload_size,
	stack, latency_ms, source
)`

// insertFunc writes one batch. It is the only part of the writer that
// talks to ClickHouse.
type insertFunc func(ctx context.Context, events []*AttackEvent) error

// ClickHouseWriter writes attack events to ClickHouse asynchronously.
// Write() is non-blocking: events are buffered and batch-inserted in a
// background goroutine.
type ClickHouseWriter struct {
	insert  insertFunc
	buffer  chan *AttackEvent
	done    chan struct{}
	flushed chan struct{} // closed by flushLoop when it returns
	logger  *zap.Logger
}

// OpenClickHouse parses dsn, connects and pings.
func OpenClickHouse(ctx context.Context, dsn string) (driver.Conn, error) {
	opts, err := clickhouse.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("OpenClickHouse: %w", err)
	}
	// ClickHouse Cloud requires TLS even when the DSN omits ?secure=true.
	if opts.TLS == nil {
		opts.TLS = &tls.Config{}
	}
	conn, err := clickhouse.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("OpenClickHouse: %w", err)
	}
	if err := conn.Ping(ctx); err != nil {
		return nil, fmt.Errorf("OpenClickHouse: %w", err)
	}
	return conn, nil
}

// NewClickHouseWriter connects, creates the event table if needed and
// starts the background flush loop.
func NewClickHouseWriter(dsn string, logger *zap.Logger) (*ClickHouseWriter, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	conn, err := OpenClickHouse(ctx, dsn)
	if err != nil {
		return nil, err
	}
	if err := conn.Exec(ctx, AttackEventsDDL); err != nil {
		return nil, fmt.Errorf("NewClickHouseWriter: create table: %w", err)
	}
	return newClickHouseWriter(func(ctx context.Context, events []*AttackEvent) error {
		return insertBatch(ctx, conn, events)
	}, logger), nil
}

func newClickHouseWriter(insert insertFunc, logger *zap.Logger) *ClickHouseWriter {
	w := &ClickHouseWriter{
		insert:  insert,
		buffer:  make(chan *AttackEvent, bufferSize),
		done:    make(chan struct{}),
		flushed: make(chan struct{}),
		logger:  logger,
	}
	go w.flushLoop()
	return w
}

// Write queues an attack event for async insertion.
// Non-blocking: drops the event if the buffer is full.
func (w *ClickHouseWriter) Write(event *AttackEvent) {
	select {
	case w.buffer <- event:
	default:
		w.logger.Warn("clickhouse buffer full, dropping attack event",
			zap.String("request_id", event.RequestID),
			zap.String("algorithm", event.Algorithm),
		)
	}
}

// Close signals the flush loop to drain remaining events, waits for it to
// finish (up to drainTimeout), and then returns. Safe to call once.
func (w *ClickHouseWriter) Close() {
	close(w.done)
	<-w.flushed
}

func (w *ClickHouseWriter) flushLoop() {
	defer close(w.flushed)

	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	batch := make([]*AttackEvent, 0, flushBatch)

	for {
		select {
		case event := <-w.buffer:
			batch = append(batch, event)
			if len(batch) >= flushBatch {
				w.flush(batch)
				batch = batch[:0]
			}
		case <-ticker.C:
			if len(batch) > 0 {
				w.flush(batch)
				batch = batch[:0]
			}
		case <-w.done:
			drainCtx, cancel := context.WithTimeout(context.Background(), drainTimeout)
			defer cancel()
		drainLoop:
			for {
				select {
				case event := <-w.buffer:
					batch = append(batch, event)
				case <-drainCtx.Done():
					break drainLoop
				default:
					break drainLoop
				}
			}
			if len(batch) > 0 {
				w.flush(batch)
			}
			return
		}
	}
}

func (w *ClickHouseWriter) flush(events []*AttackEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := w.insert(ctx, events); err != nil {
		w.logger.Error("clickhouse batch insert failed",
			zap.Int("batch_size", len(events)),
			zap.Error(err),
		)
	}
}

func insertBatch(ctx context.Context, conn driver.Conn, events []*AttackEvent) error {
	batch, err := conn.PrepareBatch(ctx, insertAttackEvents)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}
	for _, e := range events {
		if err := batch.Append(row(e)...); err != nil {
			return fmt.Errorf("append %s: %w", e.RequestID, err)
		}
	}
	return batch.Send()
}

// row orders an event's columns as in insertAttackEvents.
func row(e *AttackEvent) []any {
	var isShadow uint8
	if e.IsShadow {
		isShadow = 1
	}
	return []any{
		e.RequestID, e.ProjectID, e.Timestamp, e.Kind, e.Algorithm,
		e.Action, e.Verdict, e.Message, e.Confidence, isShadow,
		e.URL, e.Method, e.Language,
		e.PayloadPreview, e.PayloadHash, e.PayloadSize,
		e.Stack, e.LatencyMs, e.Source,
	}
}

// LogWriter is a fallback EventWriter for local development.
// It logs events as structured JSON via zap.
type LogWriter struct {
	logger *zap.Logger
}

// NewLogWriter creates a LogWriter that outputs events to the given logger.
func NewLogWriter(logger *zap.Logger) *LogWriter {
	return &LogWriter{logger: logger}
}

func (w *LogWriter) Write(event *AttackEvent) {
	w.logger.Info("attack_event",
		zap.String("request_id", event.RequestID),
		zap.String("project_id", event.ProjectID),
		zap.String("kind", event.Kind),
		zap.String("algorithm", event.Algorithm),
		zap.String("action", event.Action),
		zap.String("verdict", event.Verdict),
		zap.Bool("is_shadow", event.IsShadow),
		zap.Uint8("confidence", event.Confidence),
		zap.String("message", event.Message),
		zap.String("url", event.URL),
		zap.Float32("latency_ms", event.LatencyMs),
		zap.String("payload_preview", event.PayloadPreview),
	)
}

func (w *LogWriter) Close() {}
