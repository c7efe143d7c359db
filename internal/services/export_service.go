package services

import (
	"context"
	"strconv"
	"time"
)

type ExportStore interface {
	GetForm(ctx context.Context, id string) (*Form, error)
	ListSubmissions(ctx context.Context, formID string, newestFirst bool) ([]*Submission, error)
	AddAudit(ctx context.Context, entry AuditEntry)
}

type ExportResult struct {
	Filename    string
	ContentType string
	Data        []byte
}

type ExportService struct {
	store ExportStore
	now   func() time.Time
}

func NewExportService(store ExportStore) *ExportService {
	return &ExportService{store: store, now: func() time.Time { return time.Now().UTC() }}
}

// ExportCSV renders every submission of the form oldest first.
func (s *ExportService) ExportCSV(ctx context.Context, principalID, formID string) (*ExportResult, error) {
	if principalID == "" {
		return nil, NewUnauthorizedError("unauthorized")
	}
	form, err := s.store.GetForm(ctx, formID)
	if err != nil {
		return nil, err
	}
	if form == nil {
		return nil, NewNotFoundError("not found")
	}
	if err := Authorize(principalID, form); err != nil {
		return nil, err
	}
	subs, err := s.store.ListSubmissions(ctx, form.ID, false)
	if err != nil {
		return nil, err
	}
	s.store.AddAudit(ctx, AuditEntry{Time: s.now(), Actor: principalID, Action: "export_csv", Target: form.ID, Note: strconv.Itoa(len(subs))})
	return &ExportResult{
		Filename:    "export-" + form.ID + ".csv",
		ContentType: "text/csv",
		Data:        ExportSubmissionsCSV(subs),
	}, nil
}
