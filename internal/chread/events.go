package chread

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/triage-ai/palisade-rasp/internal/storage"
	"go.uber.org/zap"
)

// Reader provides read access to the ClickHouse rasp_attack_events table.
type Reader struct {
	conn   driver.Conn
	logger *zap.Logger
}

// NewReader opens a ClickHouse connection for read queries.
func NewReader(dsn string, logger *zap.Logger) (*Reader, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	conn, err := storage.OpenClickHouse(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("NewReader: %w", err)
	}
	return &Reader{conn: conn, logger: logger}, nil
}

// Close closes the ClickHouse connection.
func (r *Reader) Close() error {
	return r.conn.Close()
}

// EventRow represents a single row from rasp_attack_events.
type EventRow struct {
	RequestID      string    `json:"request_id"`
	ProjectID      string    `json:"project_id"`
	Timestamp      time.Time `json:"timestamp"`
	Kind           string    `json:"kind"`
	Algorithm      string    `json:"algorithm"`
	Action         string    `json:"action"`
	Verdict        string    `json:"verdict"`
	Message        string    `json:"message"`
	Confidence     uint8     `json:"confidence"`
	IsShadow       uint8     `json:"is_shadow"`
	URL            string    `json:"url"`
	Method         string    `json:"method"`
	Language       string    `json:"language"`
	PayloadPreview string    `json:"payload_preview"`
	Stack          []string  `json:"stack"`
	LatencyMs      float32   `json:"latency_ms"`
	Source         string    `json:"source"`
}

const eventColumns = "request_id, project_id, timestamp, kind, algorithm, action, verdict, " +
	"message, confidence, is_shadow, url, method, language, payload_preview, stack, latency_ms, source"

func (e *EventRow) dest() []any {
	return []any{
		&e.RequestID, &e.ProjectID, &e.Timestamp, &e.Kind, &e.Algorithm, &e.Action, &e.Verdict,
		&e.Message, &e.Confidence, &e.IsShadow, &e.URL, &e.Method, &e.Language,
		&e.PayloadPreview, &e.Stack, &e.LatencyMs, &e.Source,
	}
}

// ListEventsParams holds filters and pagination for event listing.
type ListEventsParams struct {
	ProjectID string
	Kind      *string
	Algorithm *string
	Verdict   *string
	IsShadow  *bool
	StartTime *time.Time
	EndTime   *time.Time
	Page      int
	PageSize  int
}

// where renders the filter as a ClickHouse WHERE clause with named args.
func (p ListEventsParams) where() (string, []any) {
	conditions := []string{"project_id = @project_id"}
	args := []any{clickhouse.Named("project_id", p.ProjectID)}

	eq := func(col string, v *string) {
		if v != nil {
			conditions = append(conditions, col+" = @"+col)
			args = append(args, clickhouse.Named(col, *v))
		}
	}
	eq("kind", p.Kind)
	eq("algorithm", p.Algorithm)
	eq("verdict", p.Verdict)

	if p.IsShadow != nil {
		var v uint8
		if *p.IsShadow {
			v = 1
		}
		conditions = append(conditions, "is_shadow = @is_shadow")
		args = append(args, clickhouse.Named("is_shadow", v))
	}
	if p.StartTime != nil {
		conditions = append(conditions, "timestamp >= @start_time")
		args = append(args, clickhouse.Named("start_time", *p.StartTime))
	}
	if p.EndTime != nil {
		conditions = append(conditions, "timestamp <= @end_time")
		args = append(args, clickhouse.Named("end_time", *p.EndTime))
	}
	return strings.Join(conditions, " AND "), args
}

// ListEvents returns paginated, filtered attack events and the total count.
func (r *Reader) ListEvents(ctx context.Context, params ListEventsParams) ([]EventRow, int, error) {
	where, args := params.where()
	offset := (params.Page - 1) * params.PageSize

	var total uint64
	countQuery := fmt.Sprintf("SELECT count() FROM rasp_attack_events WHERE %s", where)
	if err := r.conn.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("ListEvents count: %w", err)
	}

	dataQuery := fmt.Sprintf(
		"SELECT %s FROM rasp_attack_events WHERE %s "+
			"ORDER BY timestamp DESC LIMIT @limit OFFSET @offset",
		eventColumns, where,
	)
	args = append(args,
		clickhouse.Named("limit", uint32(params.PageSize)),
		clickhouse.Named("offset", uint32(offset)),
	)

	rows, err := r.conn.Query(ctx, dataQuery, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("ListEvents query: %w", err)
	}
	defer func() { _ = rows.Close() }()

	events := []EventRow{}
	for rows.Next() {
		var e EventRow
		if err := rows.Scan(e.dest()...); err != nil {
			return nil, 0, fmt.Errorf("ListEvents scan: %w", err)
		}
		events = append(events, e)
	}
	return events, int(total), rows.Err()
}

// GetEvent returns a single event by project ID and request ID, or nil if not found.
func (r *Reader) GetEvent(ctx context.Context, projectID, requestID string) (*EventRow, error) {
	rows, err := r.conn.Query(ctx,
		"SELECT "+eventColumns+" FROM rasp_attack_events "+
			"WHERE project_id = @project_id AND request_id = @request_id LIMIT 1",
		clickhouse.Named("project_id", projectID),
		clickhouse.Named("request_id", requestID),
	)
	if err != nil {
		return nil, fmt.Errorf("GetEvent: %w", err)
	}
	defer func() { _ = rows.Close() }()

	if !rows.Next() {
		return nil, rows.Err()
	}
	var e EventRow
	if err := rows.Scan(e.dest()...); err != nil {
		return nil, fmt.Errorf("GetEvent: %w", err)
	}
	return &e, nil
}

// SummaryStats holds aggregate counts.
type SummaryStats struct {
	Attacks int `json:"attacks"`
	Blocks  int `json:"blocks"`
	Logs    int `json:"logs"`
	Shadow  int `json:"shadow"`
}

// TimeSeriesBucket holds an hourly count.
type TimeSeriesBucket struct {
	Hour  string `json:"hour"`
	Count int    `json:"count"`
}

// NamedCount pairs a grouping key (algorithm, kind, url) with its count.
type NamedCount struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

// LatencyStats holds latency percentiles.
type LatencyStats struct {
	P50 float64 `json:"p50"`
	P95 float64 `json:"p95"`
	P99 float64 `json:"p99"`
}

// AnalyticsResult holds all analytics aggregations.
type AnalyticsResult struct {
	Summary            SummaryStats       `json:"summary"`
	AttacksOverTime    []TimeSeriesBucket `json:"attacks_over_time"`
	TopAlgorithms      []NamedCount       `json:"top_algorithms"`
	TopKinds           []NamedCount       `json:"top_kinds"`
	TopURLs            []NamedCount       `json:"top_urls"`
	LatencyPercentiles LatencyStats       `json:"latency_percentiles"`
}

// GetAnalytics returns aggregated analytics for a project over the given number of days.
func (r *Reader) GetAnalytics(ctx context.Context, projectID string, days int) (*AnalyticsResult, error) {
	rangeStart := time.Now().UTC().Add(-time.Duration(days) * 24 * time.Hour)
	args := []any{
		clickhouse.Named("project_id", projectID),
		clickhouse.Named("range_start", rangeStart),
	}
	const scope = "FROM rasp_attack_events WHERE project_id = @project_id AND timestamp >= @range_start "

	result := &AnalyticsResult{}

	var attacks, blocks, logs, shadow uint64
	err := r.conn.QueryRow(ctx,
		"SELECT count(), countIf(verdict = 'block'), countIf(verdict = 'log'), countIf(is_shadow = 1) "+scope,
		args...,
	).Scan(&attacks, &blocks, &logs, &shadow)
	if err != nil {
		return nil, fmt.Errorf("GetAnalytics summary: %w", err)
	}
	result.Summary = SummaryStats{
		Attacks: int(attacks),
		Blocks:  int(blocks),
		Logs:    int(logs),
		Shadow:  int(shadow),
	}

	rows, err := r.conn.Query(ctx,
		"SELECT toStartOfHour(timestamp) AS hour, count() "+scope+"GROUP BY hour ORDER BY hour",
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("GetAnalytics attacks_over_time: %w", err)
	}
	defer func() { _ = rows.Close() }()
	result.AttacksOverTime = []TimeSeriesBucket{}
	for rows.Next() {
		var hour time.Time
		var count uint64
		if err := rows.Scan(&hour, &count); err != nil {
			return nil, fmt.Errorf("GetAnalytics attacks_over_time scan: %w", err)
		}
		result.AttacksOverTime = append(result.AttacksOverTime, TimeSeriesBucket{
			Hour:  hour.Format(time.RFC3339),
			Count: int(count),
		})
	}

	if result.TopAlgorithms, err = r.topN(ctx, "algorithm", scope, args); err != nil {
		return nil, err
	}
	if result.TopKinds, err = r.topN(ctx, "kind", scope, args); err != nil {
		return nil, err
	}
	if result.TopURLs, err = r.topN(ctx, "url", scope, args); err != nil {
		return nil, err
	}

	var p50, p95, p99 float64
	err = r.conn.QueryRow(ctx,
		"SELECT quantile(0.5)(latency_ms), quantile(0.95)(latency_ms), quantile(0.99)(latency_ms) "+scope,
		args...,
	).Scan(&p50, &p95, &p99)
	if err != nil {
		return nil, fmt.Errorf("GetAnalytics latency: %w", err)
	}
	result.LatencyPercentiles = LatencyStats{
		P50: safeFloat(p50), P95: safeFloat(p95), P99: safeFloat(p99),
	}
	return result, nil
}

// topN returns the ten most frequent values of col. col is always a
// constant column name, never user input.
func (r *Reader) topN(ctx context.Context, col, scope string, args []any) ([]NamedCount, error) {
	rows, err := r.conn.Query(ctx,
		"SELECT "+col+", count() AS c "+scope+"AND "+col+" != '' GROUP BY "+col+" ORDER BY c DESC LIMIT 10",
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("GetAnalytics top %s: %w", col, err)
	}
	defer func() { _ = rows.Close() }()

	out := []NamedCount{}
	for rows.Next() {
		var name string
		var count uint64
		if err := rows.Scan(&name, &count); err != nil {
			return nil, fmt.Errorf("GetAnalytics top %s scan: %w", col, err)
		}
		out = append(out, NamedCount{Name: name, Count: int(count)})
	}
	return out, rows.Err()
}

// safeFloat replaces NaN/Inf with 0.0.
// ClickHouse returns NaN for quantile() on empty result sets.
func safeFloat(f float64) float64 {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0.0
	}
	return f
}
