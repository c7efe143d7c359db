package db

import (
	"context"
	"fmt"
	"time"

	"github.com/soaringjerry/Formsy/internal/services"
)

// Store is everything the server needs from persistence. SQLiteStore,
// PostgresStore and MemoryStore all satisfy it.
type Store interface {
	services.FormStore
	services.SubmissionStore
	services.ExportStore
	services.AuthStore

	ListExportJobs(ctx context.Context, formID string) ([]*services.ExportJob, error)
	// ClaimPendingExportJobs returns undispatched jobs with fewer than
	// maxAttempts attempts, oldest first.
	ClaimPendingExportJobs(ctx context.Context, limit, maxAttempts int) ([]*services.ExportJob, error)
	MarkExportJobDispatched(ctx context.Context, id string, at time.Time) error
	MarkExportJobFailed(ctx context.Context, id, reason string) error
	Close() error
}

// appendAttempts bounds the retries of AppendField on a position collision.
const appendAttempts = 5

// timeLayout is fixed width so text columns sort chronologically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		t, err = time.Parse(time.RFC3339Nano, s)
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("parse time %q: %w", s, err)
	}
	return t.UTC(), nil
}

// samePermutation reports whether ids lists every element of current exactly once.
func samePermutation(current, ids []string) bool {
	if len(current) != len(ids) {
		return false
	}
	want := make(map[string]bool, len(current))
	for _, id := range current {
		want[id] = true
	}
	for _, id := range ids {
		if !want[id] {
			return false
		}
		delete(want, id)
	}
	return len(want) == 0
}
