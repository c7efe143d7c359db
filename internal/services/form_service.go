package services

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// FormStore is the persistence boundary for forms and their fields.
// Lookups return (nil, nil) when the record does not exist.
type FormStore interface {
	InsertForm(ctx context.Context, f *Form) error
	GetForm(ctx context.Context, id string) (*Form, error)
	GetFormBySlug(ctx context.Context, slug string) (*Form, error)
	ListFormsByOwner(ctx context.Context, ownerID string) ([]*Form, error)
	ListFields(ctx context.Context, formID string) ([]*Field, error)
	// AppendField assigns f.Order = max(order)+1 atomically and persists f.
	AppendField(ctx context.Context, f *Field) error
	// ReorderFields gives ids[i] order i+1 in one transaction.
	ReorderFields(ctx context.Context, formID string, ids []string) error
	// PauseForm sets the pause flag and records job in one transaction. It
	// reports false, and writes nothing, when the form was already paused.
	PauseForm(ctx context.Context, formID string, job *ExportJob) (bool, error)
	AddAudit(ctx context.Context, entry AuditEntry)
	// ListAudit returns up to limit entries about target, newest first.
	ListAudit(ctx context.Context, target string, limit int) ([]AuditEntry, error)
}

type FormService struct {
	store   FormStore
	now     func() time.Time
	newID   func() string
	newSlug func() string
}

type CreateFormInput struct {
	Title         string
	Deadline      *time.Time
	ClosedMessage *string
}

type FieldInput struct {
	Key   string
	Label string
	Type  string
}

// PublicForm is what anonymous respondents may see of a form.
type PublicForm struct {
	ID            string    `json:"id"`
	Title         string    `json:"title"`
	Slug          string    `json:"slug"`
	Fields        []*Field  `json:"fields"`
	Closed        bool      `json:"closed"`
	ClosedMessage *string   `json:"closedMessage"`
	State         FormState `json:"state"`
}

const slugAttempts = 3

func NewFormService(store FormStore) *FormService {
	return &FormService{
		store:   store,
		now:     func() time.Time { return time.Now().UTC() },
		newID:   uuid.NewString,
		newSlug: func() string { return shortID(10) },
	}
}

func (s *FormService) CreateForm(ctx context.Context, principalID string, in CreateFormInput) (*Form, error) {
	if principalID == "" {
		return nil, NewUnauthorizedError("unauthorized")
	}
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return nil, NewInvalidError("title required")
	}
	form := &Form{
		ID:            s.newID(),
		OwnerID:       principalID,
		Title:         title,
		Deadline:      in.Deadline,
		ClosedMessage: in.ClosedMessage,
		CreatedAt:     s.now(),
	}
	if form.Deadline != nil {
		d := form.Deadline.UTC()
		form.Deadline = &d
	}
	var err error
	for i := 0; i < slugAttempts; i++ {
		form.Slug = s.newSlug()
		if err = s.store.InsertForm(ctx, form); err == nil {
			break
		}
		if !IsCode(err, ErrorConflict) {
			return nil, err
		}
	}
	if err != nil {
		return nil, err
	}
	form.Fields = []*Field{}
	s.store.AddAudit(ctx, AuditEntry{Time: s.now(), Actor: principalID, Action: "create_form", Target: form.ID, Note: form.Slug})
	return form, nil
}

func (s *FormService) ListForms(ctx context.Context, principalID string) ([]*Form, error) {
	if principalID == "" {
		return nil, NewUnauthorizedError("unauthorized")
	}
	forms, err := s.store.ListFormsByOwner(ctx, principalID)
	if err != nil {
		return nil, err
	}
	for _, f := range forms {
		fields, err := s.store.ListFields(ctx, f.ID)
		if err != nil {
			return nil, err
		}
		f.Fields = fields
	}
	return forms, nil
}

// GetPublicForm resolves a form by slug for respondents. It is served even when
// the form is closed so the caller can show the closed state.
func (s *FormService) GetPublicForm(ctx context.Context, slug string) (*PublicForm, error) {
	form, err := s.store.GetFormBySlug(ctx, slug)
	if err != nil {
		return nil, err
	}
	if form == nil {
		return nil, NewNotFoundError("not found")
	}
	fields, err := s.store.ListFields(ctx, form.ID)
	if err != nil {
		return nil, err
	}
	now := s.now()
	return &PublicForm{
		ID:            form.ID,
		Title:         form.Title,
		Slug:          form.Slug,
		Fields:        fields,
		Closed:        IsClosed(form, now),
		ClosedMessage: form.ClosedMessage,
		State:         State(form, now),
	}, nil
}

// ownedForm loads formID and runs the ownership guard on it.
func (s *FormService) ownedForm(ctx context.Context, principalID, formID string) (*Form, error) {
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
	return form, nil
}

func (s *FormService) AddField(ctx context.Context, principalID, formID string, in FieldInput) (*Field, error) {
	form, err := s.ownedForm(ctx, principalID, formID)
	if err != nil {
		return nil, err
	}
	key := strings.TrimSpace(in.Key)
	if key == "" {
		return nil, NewInvalidError("key required")
	}
	field := &Field{ID: s.newID(), FormID: form.ID, Key: key, Label: in.Label, Type: in.Type}
	if err := s.store.AppendField(ctx, field); err != nil {
		return nil, err
	}
	s.store.AddAudit(ctx, AuditEntry{Time: s.now(), Actor: principalID, Action: "add_field", Target: form.ID, Note: field.ID})
	return field, nil
}

// ReorderFields applies a full reordering. rawOrder must be a JSON array that
// lists every field of the form exactly once.
func (s *FormService) ReorderFields(ctx context.Context, principalID, formID string, rawOrder json.RawMessage) ([]*Field, error) {
	form, err := s.ownedForm(ctx, principalID, formID)
	if err != nil {
		return nil, err
	}
	var ids []string
	if len(rawOrder) == 0 || json.Unmarshal(rawOrder, &ids) != nil || ids == nil {
		return nil, NewInvalidError("order must be an array of field ids")
	}
	current, err := s.store.ListFields(ctx, form.ID)
	if err != nil {
		return nil, err
	}
	if err := checkPermutation(current, ids); err != nil {
		return nil, err
	}
	if err := s.store.ReorderFields(ctx, form.ID, ids); err != nil {
		return nil, err
	}
	s.store.AddAudit(ctx, AuditEntry{Time: s.now(), Actor: principalID, Action: "reorder_fields", Target: form.ID, Note: strconv.Itoa(len(ids))})
	return s.store.ListFields(ctx, form.ID)
}

func checkPermutation(current []*Field, ids []string) error {
	if len(ids) != len(current) {
		return NewInvalidError("order must list every field of the form exactly once")
	}
	known := make(map[string]bool, len(current))
	for _, f := range current {
		known[f.ID] = false
	}
	for _, id := range ids {
		seen, ok := known[id]
		if !ok {
			return NewInvalidError("unknown field id " + strconv.Quote(id))
		}
		if seen {
			return NewInvalidError("duplicate field id " + strconv.Quote(id))
		}
		known[id] = true
	}
	return nil
}

// Pause closes the form for good and records a csv export job with it.
func (s *FormService) Pause(ctx context.Context, principalID, formID string) error {
	form, err := s.ownedForm(ctx, principalID, formID)
	if err != nil {
		return err
	}
	job := &ExportJob{ID: s.newID(), FormID: form.ID, Type: ExportTypeCSV, CreatedAt: s.now()}
	paused, err := s.store.PauseForm(ctx, form.ID, job)
	if err != nil {
		return err
	}
	if paused {
		s.store.AddAudit(ctx, AuditEntry{Time: s.now(), Actor: principalID, Action: "pause_form", Target: form.ID, Note: job.ID})
	}
	return nil
}

// ActivityLimit caps how many audit entries Activity returns.
const ActivityLimit = 100

// Activity lists the owner actions recorded against a form, newest first.
func (s *FormService) Activity(ctx context.Context, principalID, formID string) ([]AuditEntry, error) {
	form, err := s.ownedForm(ctx, principalID, formID)
	if err != nil {
		return nil, err
	}
	return s.store.ListAudit(ctx, form.ID, ActivityLimit)
}

func shortID(n int) string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:n]
}
