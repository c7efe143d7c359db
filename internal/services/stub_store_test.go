package services

import (
	"context"
	"errors"
	"sort"
)

// stubStore keeps everything in maps and can be told to fail specific writes.
type stubStore struct {
	forms       map[string]*Form
	fields      map[string][]*Field
	submissions []*Submission
	jobs        []*ExportJob
	audits      []AuditEntry
	users       map[string]*User

	insertFormErrs []error
	reorderErr     error
	pauseErr       error
}

func newStubStore() *stubStore {
	return &stubStore{
		forms:  map[string]*Form{},
		fields: map[string][]*Field{},
		users:  map[string]*User{},
	}
}

func (s *stubStore) InsertForm(_ context.Context, f *Form) error {
	if len(s.insertFormErrs) > 0 {
		err := s.insertFormErrs[0]
		s.insertFormErrs = s.insertFormErrs[1:]
		if err != nil {
			return err
		}
	}
	for _, existing := range s.forms {
		if existing.Slug == f.Slug {
			return NewConflictError("slug taken")
		}
	}
	cp := *f
	s.forms[f.ID] = &cp
	return nil
}

func (s *stubStore) GetForm(_ context.Context, id string) (*Form, error) {
	if f, ok := s.forms[id]; ok {
		cp := *f
		return &cp, nil
	}
	return nil, nil
}

func (s *stubStore) GetFormBySlug(_ context.Context, slug string) (*Form, error) {
	for _, f := range s.forms {
		if f.Slug == slug {
			cp := *f
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *stubStore) ListFormsByOwner(_ context.Context, ownerID string) ([]*Form, error) {
	out := []*Form{}
	for _, f := range s.forms {
		if f.OwnerID == ownerID {
			cp := *f
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *stubStore) ListFields(_ context.Context, formID string) ([]*Field, error) {
	out := []*Field{}
	for _, f := range s.fields[formID] {
		cp := *f
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Order < out[j].Order })
	return out, nil
}

func (s *stubStore) AppendField(_ context.Context, f *Field) error {
	max := 0
	for _, existing := range s.fields[f.FormID] {
		if existing.Order > max {
			max = existing.Order
		}
	}
	f.Order = max + 1
	cp := *f
	s.fields[f.FormID] = append(s.fields[f.FormID], &cp)
	return nil
}

func (s *stubStore) ReorderFields(_ context.Context, formID string, ids []string) error {
	if s.reorderErr != nil {
		return s.reorderErr
	}
	pos := map[string]int{}
	for i, id := range ids {
		pos[id] = i + 1
	}
	for _, f := range s.fields[formID] {
		f.Order = pos[f.ID]
	}
	return nil
}

func (s *stubStore) PauseForm(_ context.Context, formID string, job *ExportJob) (bool, error) {
	if s.pauseErr != nil {
		return false, s.pauseErr
	}
	f, ok := s.forms[formID]
	if !ok {
		return false, errors.New("missing form")
	}
	if f.IsPaused {
		return false, nil
	}
	f.IsPaused = true
	cp := *job
	s.jobs = append(s.jobs, &cp)
	return true, nil
}

func (s *stubStore) AddAudit(_ context.Context, entry AuditEntry) {
	s.audits = append(s.audits, entry)
}

func (s *stubStore) ListAudit(_ context.Context, target string, limit int) ([]AuditEntry, error) {
	out := []AuditEntry{}
	for i := len(s.audits) - 1; i >= 0 && len(out) < limit; i-- {
		if s.audits[i].Target == target {
			out = append(out, s.audits[i])
		}
	}
	return out, nil
}

func (s *stubStore) InsertSubmission(_ context.Context, sub *Submission) error {
	cp := *sub
	s.submissions = append(s.submissions, &cp)
	return nil
}

func (s *stubStore) ListSubmissions(_ context.Context, formID string, newestFirst bool) ([]*Submission, error) {
	out := []*Submission{}
	for _, sub := range s.submissions {
		if sub.FormID == formID {
			cp := *sub
			out = append(out, &cp)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if newestFirst {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (s *stubStore) FindUserByEmail(_ context.Context, email string) (*User, error) {
	for _, u := range s.users {
		if u.Email == email {
			cp := *u
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *stubStore) GetUser(_ context.Context, id string) (*User, error) {
	if u, ok := s.users[id]; ok {
		cp := *u
		return &cp, nil
	}
	return nil, nil
}

func (s *stubStore) AddUser(_ context.Context, u *User) error {
	for _, existing := range s.users {
		if existing.Email == u.Email {
			return NewConflictError("email already in use")
		}
	}
	cp := *u
	s.users[u.ID] = &cp
	return nil
}
