package db

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/soaringjerry/Formsy/internal/services"
)

// MemoryStore keeps everything in process. It backs the "memory" driver and
// the HTTP tests.
type MemoryStore struct {
	mu           sync.RWMutex
	forms        map[string]*services.Form
	formsBySlug  map[string]string
	fieldsByForm map[string][]*services.Field
	submissions  []*services.Submission
	jobs         []*services.ExportJob
	users        map[string]*services.User
	usersByEmail map[string]string
	audit        []services.AuditEntry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		forms:        map[string]*services.Form{},
		formsBySlug:  map[string]string{},
		fieldsByForm: map[string][]*services.Field{},
		users:        map[string]*services.User{},
		usersByEmail: map[string]string{},
	}
}

func (s *MemoryStore) Close() error { return nil }

func (s *MemoryStore) InsertForm(_ context.Context, f *services.Form) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.formsBySlug[f.Slug]; ok {
		return services.NewConflictError("slug already in use")
	}
	cp := *f
	cp.Fields = nil
	s.forms[f.ID] = &cp
	s.formsBySlug[f.Slug] = f.ID
	return nil
}

func (s *MemoryStore) GetForm(_ context.Context, id string) (*services.Form, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if f, ok := s.forms[id]; ok {
		cp := *f
		return &cp, nil
	}
	return nil, nil
}

func (s *MemoryStore) GetFormBySlug(ctx context.Context, slug string) (*services.Form, error) {
	s.mu.RLock()
	id, ok := s.formsBySlug[slug]
	s.mu.RUnlock()
	if !ok {
		return nil, nil
	}
	return s.GetForm(ctx, id)
}

func (s *MemoryStore) ListFormsByOwner(_ context.Context, ownerID string) ([]*services.Form, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []*services.Form{}
	for _, f := range s.forms {
		if f.OwnerID == ownerID {
			cp := *f
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (s *MemoryStore) ListFields(_ context.Context, formID string) ([]*services.Field, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.fieldsLocked(formID), nil
}

func (s *MemoryStore) fieldsLocked(formID string) []*services.Field {
	out := make([]*services.Field, 0, len(s.fieldsByForm[formID]))
	for _, f := range s.fieldsByForm[formID] {
		cp := *f
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Order < out[j].Order })
	return out
}

// AppendField holds the write lock across read-max and insert, so two
// appends can never observe the same maximum.
func (s *MemoryStore) AppendField(_ context.Context, f *services.Field) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	max := 0
	for _, existing := range s.fieldsByForm[f.FormID] {
		if existing.Order > max {
			max = existing.Order
		}
	}
	f.Order = max + 1
	cp := *f
	s.fieldsByForm[f.FormID] = append(s.fieldsByForm[f.FormID], &cp)
	return nil
}

// ReorderFields validates against the current fields and swaps in the new
// orders only when every id matched.
func (s *MemoryStore) ReorderFields(_ context.Context, formID string, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	fields := s.fieldsByForm[formID]
	currentIDs := make([]string, 0, len(fields))
	byID := make(map[string]*services.Field, len(fields))
	for _, f := range fields {
		currentIDs = append(currentIDs, f.ID)
		byID[f.ID] = f
	}
	if !samePermutation(currentIDs, ids) {
		return services.NewConflictError("fields changed while reordering")
	}
	for i, id := range ids {
		byID[id].Order = i + 1
	}
	return nil
}

func (s *MemoryStore) PauseForm(_ context.Context, formID string, job *services.ExportJob) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.forms[formID]
	if !ok {
		return false, services.NewNotFoundError("not found")
	}
	if f.IsPaused {
		return false, nil
	}
	f.IsPaused = true
	cp := *job
	s.jobs = append(s.jobs, &cp)
	return true, nil
}

func (s *MemoryStore) ListExportJobs(_ context.Context, formID string) ([]*services.ExportJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []*services.ExportJob{}
	for _, j := range s.jobs {
		if j.FormID == formID {
			cp := *j
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *MemoryStore) ClaimPendingExportJobs(_ context.Context, limit, maxAttempts int) ([]*services.ExportJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []*services.ExportJob{}
	for _, j := range s.jobs {
		if len(out) >= limit {
			break
		}
		if j.DispatchedAt == nil && j.Attempts < maxAttempts {
			cp := *j
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *MemoryStore) findJobLocked(id string) *services.ExportJob {
	for _, j := range s.jobs {
		if j.ID == id {
			return j
		}
	}
	return nil
}

func (s *MemoryStore) MarkExportJobDispatched(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if j := s.findJobLocked(id); j != nil {
		t := at.UTC()
		j.DispatchedAt = &t
		j.LastError = ""
	}
	return nil
}

func (s *MemoryStore) MarkExportJobFailed(_ context.Context, id, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if j := s.findJobLocked(id); j != nil {
		j.Attempts++
		j.LastError = reason
	}
	return nil
}

func (s *MemoryStore) InsertSubmission(_ context.Context, sub *services.Submission) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *sub
	s.submissions = append(s.submissions, &cp)
	return nil
}

func (s *MemoryStore) ListSubmissions(_ context.Context, formID string, newestFirst bool) ([]*services.Submission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []*services.Submission{}
	for _, sub := range s.submissions {
		if sub.FormID == formID {
			cp := *sub
			out = append(out, &cp)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if newestFirst {
			a, b = b, a
		}
		if a.CreatedAt.Equal(b.CreatedAt) {
			return a.ID < b.ID
		}
		return a.CreatedAt.Before(b.CreatedAt)
	})
	return out, nil
}

func (s *MemoryStore) FindUserByEmail(_ context.Context, email string) (*services.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.usersByEmail[strings.ToLower(email)]
	if !ok {
		return nil, nil
	}
	cp := *s.users[id]
	return &cp, nil
}

func (s *MemoryStore) GetUser(_ context.Context, id string) (*services.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if u, ok := s.users[id]; ok {
		cp := *u
		return &cp, nil
	}
	return nil, nil
}

func (s *MemoryStore) AddUser(_ context.Context, u *services.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := strings.ToLower(u.Email)
	if _, ok := s.usersByEmail[key]; ok {
		return services.NewConflictError("email already in use")
	}
	cp := *u
	s.users[u.ID] = &cp
	s.usersByEmail[key] = u.ID
	return nil
}

func (s *MemoryStore) AddAudit(_ context.Context, e services.AuditEntry) {
	s.mu.Lock()
	s.audit = append(s.audit, e)
	s.mu.Unlock()
}

func (s *MemoryStore) ListAudit(_ context.Context, target string, limit int) ([]services.AuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []services.AuditEntry{}
	for i := len(s.audit) - 1; i >= 0 && len(out) < limit; i-- {
		if s.audit[i].Target == target {
			out = append(out, s.audit[i])
		}
	}
	return out, nil
}

var (
	_ Store = (*MemoryStore)(nil)
	_ Store = (*SQLiteStore)(nil)
)
