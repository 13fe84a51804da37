package repositories

import (
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: true}
}

func TestWatermarkTime(t *testing.T) {
	earlier := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	later := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name         string
		lastRead     sql.NullTime
		lastSelfSent sql.NullTime
		want         sql.NullTime
	}{
		{name: "both absent", want: sql.NullTime{}},
		{name: "only last read", lastRead: nullTime(earlier), want: nullTime(earlier)},
		{name: "only self sent", lastSelfSent: nullTime(earlier), want: nullTime(earlier)},
		{name: "self sent newer wins", lastRead: nullTime(earlier), lastSelfSent: nullTime(later), want: nullTime(later)},
		{name: "last read newer wins", lastRead: nullTime(later), lastSelfSent: nullTime(earlier), want: nullTime(later)},
		{name: "equal keeps last read", lastRead: nullTime(earlier), lastSelfSent: nullTime(earlier), want: nullTime(earlier)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, watermarkTime(tt.lastRead, tt.lastSelfSent))
		})
	}
}

func TestShouldAdvance(t *testing.T) {
	earlier := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	later := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name      string
		current   sql.NullTime
		candidate time.Time
		want      bool
	}{
		{name: "no watermark yet", candidate: earlier, want: true},
		{name: "newer candidate advances", current: nullTime(earlier), candidate: later, want: true},
		{name: "older candidate stays", current: nullTime(later), candidate: earlier, want: false},
		{name: "equal candidate stays", current: nullTime(earlier), candidate: earlier, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, shouldAdvance(tt.current, tt.candidate))
		})
	}
}

func TestDedupe(t *testing.T) {
	require.Equal(t, []string{"a", "b", "c"}, dedupe([]string{"a", "b", "a", "c", "b"}))
	require.Empty(t, dedupe(nil))
}
