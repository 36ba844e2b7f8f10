package chread

import (
	"math"
	"strings"
	"testing"
	"time"
)

func strPtr(s string) *string { return &s }

func TestListEventsParams_Where(t *testing.T) {
	shadow := true
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name     string
		params   ListEventsParams
		want     string
		wantArgs int
	}{
		{
			name:     "project only",
			params:   ListEventsParams{ProjectID: "p1"},
			want:     "project_id = @project_id",
			wantArgs: 1,
		},
		{
			name:     "kind and algorithm",
			params:   ListEventsParams{ProjectID: "p1", Kind: strPtr("sql"), Algorithm: strPtr("sqli_policy")},
			want:     "project_id = @project_id AND kind = @kind AND algorithm = @algorithm",
			wantArgs: 3,
		},
		{
			name:     "shadow and time",
			params:   ListEventsParams{ProjectID: "p1", Verdict: strPtr("block"), IsShadow: &shadow, StartTime: &start},
			want:     "project_id = @project_id AND verdict = @verdict AND is_shadow = @is_shadow AND timestamp >= @start_time",
			wantArgs: 4,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, args := tt.params.where()
			if got != tt.want {
				t.Errorf("where() = %q, want %q", got, tt.want)
			}
			if len(args) != tt.wantArgs {
				t.Errorf("expected %d args, got %d", tt.wantArgs, len(args))
			}
		})
	}
}

func TestEventRow_DestMatchesColumns(t *testing.T) {
	var e EventRow
	cols := strings.Count(eventColumns, ",") + 1
	if got := len(e.dest()); got != cols {
		t.Errorf("dest has %d pointers, select names %d columns", got, cols)
	}
}

func TestSafeFloat(t *testing.T) {
	tests := []struct {
		in   float64
		want float64
	}{
		{1.5, 1.5},
		{math.NaN(), 0},
		{math.Inf(1), 0},
		{math.Inf(-1), 0},
	}
	for _, tt := range tests {
		if got := safeFloat(tt.in); got != tt.want {
			t.Errorf("safeFloat(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
