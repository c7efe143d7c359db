package services

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// SubmissionStore abstracts persistence operations required by SubmissionService.
type SubmissionStore interface {
	GetForm(ctx context.Context, id string) (*Form, error)
	GetFormBySlug(ctx context.Context, slug string) (*Form, error)
	InsertSubmission(ctx context.Context, s *Submission) error
	// ListSubmissions orders by created_at, newest first when newestFirst is set.
	ListSubmissions(ctx context.Context, formID string, newestFirst bool) ([]*Submission, error)
}

// SubmissionService accepts anonymous submissions and serves them back to owners.
type SubmissionService struct {
	store SubmissionStore
	now   func() time.Time
	newID func() string
}

func NewSubmissionService(store SubmissionStore) *SubmissionService {
	return &SubmissionService{
		store: store,
		now:   func() time.Time { return time.Now().UTC() },
		newID: uuid.NewString,
	}
}

// Submit stores body against the form published at slug and returns the new
// submission id. A closed form yields a closed error and nothing is written.
func (s *SubmissionService) Submit(ctx context.Context, slug string, body []byte) (string, error) {
	if s.store == nil {
		return "", errors.New("submission service store is nil")
	}
	form, err := s.store.GetFormBySlug(ctx, slug)
	if err != nil {
		return "", err
	}
	if form == nil {
		return "", NewNotFoundError("not found")
	}
	now := s.now()
	if IsClosed(form, now) {
		return "", NewClosedError("form closed")
	}
	data, answers, err := EncodePayload(body)
	if err != nil {
		return "", err
	}
	sub := &Submission{ID: s.newID(), FormID: form.ID, Data: data, Answers: answers, CreatedAt: now}
	if err := s.store.InsertSubmission(ctx, sub); err != nil {
		return "", err
	}
	return sub.ID, nil
}

// ListSubmissions returns the form's submissions newest first.
func (s *SubmissionService) ListSubmissions(ctx context.Context, principalID, formID string) ([]*Submission, error) {
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
	return s.store.ListSubmissions(ctx, form.ID, true)
}
