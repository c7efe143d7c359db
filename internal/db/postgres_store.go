package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/soaringjerry/Formsy/internal/services"
)

type userModel struct {
	ID        string    `gorm:"column:id;primaryKey"`
	Email     string    `gorm:"column:email"`
	Name      string    `gorm:"column:name"`
	PassHash  []byte    `gorm:"column:pass_hash"`
	CreatedAt time.Time `gorm:"column:created_at"`
}

func (userModel) TableName() string { return "users" }

type formModel struct {
	ID            string     `gorm:"column:id;primaryKey"`
	OwnerID       string     `gorm:"column:owner_id"`
	Title         string     `gorm:"column:title"`
	Slug          string     `gorm:"column:slug"`
	IsPaused      bool       `gorm:"column:is_paused"`
	Deadline      *time.Time `gorm:"column:deadline"`
	ClosedMessage *string    `gorm:"column:closed_message"`
	CreatedAt     time.Time  `gorm:"column:created_at"`
}

func (formModel) TableName() string { return "forms" }

type fieldModel struct {
	ID       string `gorm:"column:id;primaryKey"`
	FormID   string `gorm:"column:form_id"`
	Key      string `gorm:"column:key"`
	Label    string `gorm:"column:label"`
	Type     string `gorm:"column:type"`
	Position int    `gorm:"column:position"`
}

func (fieldModel) TableName() string { return "fields" }

type submissionModel struct {
	ID        string    `gorm:"column:id;primaryKey"`
	FormID    string    `gorm:"column:form_id"`
	Data      string    `gorm:"column:data"`
	Answers   *string   `gorm:"column:answers"`
	CreatedAt time.Time `gorm:"column:created_at"`
}

func (submissionModel) TableName() string { return "submissions" }

type exportJobModel struct {
	ID           string     `gorm:"column:id;primaryKey"`
	FormID       string     `gorm:"column:form_id"`
	Type         string     `gorm:"column:type"`
	CreatedAt    time.Time  `gorm:"column:created_at"`
	DispatchedAt *time.Time `gorm:"column:dispatched_at"`
	Attempts     int        `gorm:"column:attempts"`
	LastError    string     `gorm:"column:last_error"`
}

func (exportJobModel) TableName() string { return "export_jobs" }

type auditModel struct {
	ID     int64     `gorm:"column:id;primaryKey"`
	Time   time.Time `gorm:"column:time"`
	Actor  string    `gorm:"column:actor"`
	Action string    `gorm:"column:action"`
	Target string    `gorm:"column:target"`
	Note   string    `gorm:"column:note"`
}

func (auditModel) TableName() string { return "audit_log" }

// PostgresStore persists through GORM. Unique violations surface as
// gorm.ErrDuplicatedKey because the connection enables TranslateError.
type PostgresStore struct {
	db     *gorm.DB
	logger *slog.Logger
}

// ConnectPostgres opens and validates a GORM connection pool.
func ConnectPostgres(ctx context.Context, databaseURL string, maxConns int) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(databaseURL), &gorm.Config{TranslateError: true})
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("gorm sql db: %w", err)
	}
	if maxConns > 0 {
		sqlDB.SetMaxOpenConns(maxConns)
		sqlDB.SetMaxIdleConns(maxConns / 2)
	}
	sqlDB.SetConnMaxIdleTime(15 * time.Minute)
	sqlDB.SetConnMaxLifetime(time.Hour)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := sqlDB.PingContext(pingCtx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return db, nil
}

func NewPostgresStore(db *gorm.DB, logger *slog.Logger) *PostgresStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresStore{db: db, logger: logger.With("module", "postgres_store")}
}

func (s *PostgresStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func isDuplicate(err error) bool {
	return errors.Is(err, gorm.ErrDuplicatedKey)
}

func toForm(m formModel) *services.Form {
	f := &services.Form{
		ID:            m.ID,
		OwnerID:       m.OwnerID,
		Title:         m.Title,
		Slug:          m.Slug,
		IsPaused:      m.IsPaused,
		ClosedMessage: m.ClosedMessage,
		CreatedAt:     m.CreatedAt.UTC(),
	}
	if m.Deadline != nil {
		d := m.Deadline.UTC()
		f.Deadline = &d
	}
	return f
}

func toField(m fieldModel) *services.Field {
	return &services.Field{ID: m.ID, FormID: m.FormID, Key: m.Key, Label: m.Label, Type: m.Type, Order: m.Position}
}

func toExportJob(m exportJobModel) *services.ExportJob {
	j := &services.ExportJob{ID: m.ID, FormID: m.FormID, Type: m.Type, CreatedAt: m.CreatedAt.UTC(), Attempts: m.Attempts, LastError: m.LastError}
	if m.DispatchedAt != nil {
		t := m.DispatchedAt.UTC()
		j.DispatchedAt = &t
	}
	return j
}

func toUser(m userModel) *services.User {
	return &services.User{ID: m.ID, Email: m.Email, Name: m.Name, PassHash: m.PassHash, CreatedAt: m.CreatedAt.UTC()}
}

func (s *PostgresStore) InsertForm(ctx context.Context, f *services.Form) error {
	rec := formModel{
		ID:            f.ID,
		OwnerID:       f.OwnerID,
		Title:         f.Title,
		Slug:          f.Slug,
		IsPaused:      f.IsPaused,
		Deadline:      f.Deadline,
		ClosedMessage: f.ClosedMessage,
		CreatedAt:     f.CreatedAt,
	}
	err := s.db.WithContext(ctx).Create(&rec).Error
	if isDuplicate(err) {
		return services.NewConflictError("slug already in use")
	}
	if err != nil {
		return fmt.Errorf("insert form: %w", err)
	}
	return nil
}

func (s *PostgresStore) getFormWhere(ctx context.Context, query string, arg any) (*services.Form, error) {
	var rec formModel
	err := s.db.WithContext(ctx).Where(query, arg).Take(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get form: %w", err)
	}
	return toForm(rec), nil
}

func (s *PostgresStore) GetForm(ctx context.Context, id string) (*services.Form, error) {
	return s.getFormWhere(ctx, "id = ?", id)
}

func (s *PostgresStore) GetFormBySlug(ctx context.Context, slug string) (*services.Form, error) {
	return s.getFormWhere(ctx, "slug = ?", slug)
}

func (s *PostgresStore) ListFormsByOwner(ctx context.Context, ownerID string) ([]*services.Form, error) {
	var rows []formModel
	if err := s.db.WithContext(ctx).Where("owner_id = ?", ownerID).Order("created_at ASC, id ASC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list forms: %w", err)
	}
	out := make([]*services.Form, 0, len(rows))
	for _, r := range rows {
		out = append(out, toForm(r))
	}
	return out, nil
}

func fieldsOf(tx *gorm.DB, formID string) ([]*services.Field, error) {
	var rows []fieldModel
	if err := tx.Where("form_id = ?", formID).Order("position ASC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list fields: %w", err)
	}
	out := make([]*services.Field, 0, len(rows))
	for _, r := range rows {
		out = append(out, toField(r))
	}
	return out, nil
}

func (s *PostgresStore) ListFields(ctx context.Context, formID string) ([]*services.Field, error) {
	return fieldsOf(s.db.WithContext(ctx), formID)
}

func (s *PostgresStore) AppendField(ctx context.Context, f *services.Field) error {
	for attempt := 1; attempt <= appendAttempts; attempt++ {
		var order int
		err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			if err := tx.Exec(`INSERT INTO fields (id, form_id, key, label, type, position)
              SELECT ?, ?, ?, ?, ?, COALESCE(MAX(position), 0) + 1 FROM fields WHERE form_id = ?`,
				f.ID, f.FormID, f.Key, f.Label, f.Type, f.FormID).Error; err != nil {
				return err
			}
			return tx.Model(&fieldModel{}).Select("position").Where("id = ?", f.ID).Scan(&order).Error
		})
		if err == nil {
			f.Order = order
			return nil
		}
		if !isDuplicate(err) {
			return fmt.Errorf("append field: %w", err)
		}
		s.logger.WarnContext(ctx, "field position collision", "operation", "append_field", "form_id", f.FormID, "attempt", attempt)
	}
	return services.NewConflictError("could not assign a field position, try again")
}

func (s *PostgresStore) ReorderFields(ctx context.Context, formID string, ids []string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var current []fieldModel
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("form_id = ?", formID).Find(&current).Error; err != nil {
			return fmt.Errorf("reorder fields: lock: %w", err)
		}
		currentIDs := make([]string, 0, len(current))
		for _, f := range current {
			currentIDs = append(currentIDs, f.ID)
		}
		if !samePermutation(currentIDs, ids) {
			return services.NewConflictError("fields changed while reordering")
		}
		if err := tx.Model(&fieldModel{}).Where("form_id = ?", formID).
			Update("position", gorm.Expr("-position")).Error; err != nil {
			return fmt.Errorf("reorder fields: park: %w", err)
		}
		for i, id := range ids {
			res := tx.Model(&fieldModel{}).Where("id = ? AND form_id = ?", id, formID).Update("position", i+1)
			if res.Error != nil {
				return fmt.Errorf("reorder fields: set %s: %w", id, res.Error)
			}
			if res.RowsAffected != 1 {
				return fmt.Errorf("reorder fields: field %s not updated", id)
			}
		}
		return nil
	})
}

func (s *PostgresStore) PauseForm(ctx context.Context, formID string, job *services.ExportJob) (bool, error) {
	paused := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&formModel{}).Where("id = ? AND is_paused = ?", formID, false).Update("is_paused", true)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}
		rec := exportJobModel{ID: job.ID, FormID: job.FormID, Type: job.Type, CreatedAt: job.CreatedAt}
		if err := tx.Create(&rec).Error; err != nil {
			return fmt.Errorf("record export job: %w", err)
		}
		paused = true
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("pause form: %w", err)
	}
	return paused, nil
}

func (s *PostgresStore) ListExportJobs(ctx context.Context, formID string) ([]*services.ExportJob, error) {
	var rows []exportJobModel
	if err := s.db.WithContext(ctx).Where("form_id = ?", formID).Order("created_at ASC, id ASC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list export jobs: %w", err)
	}
	out := make([]*services.ExportJob, 0, len(rows))
	for _, r := range rows {
		out = append(out, toExportJob(r))
	}
	return out, nil
}

func (s *PostgresStore) ClaimPendingExportJobs(ctx context.Context, limit, maxAttempts int) ([]*services.ExportJob, error) {
	var rows []exportJobModel
	if err := s.db.WithContext(ctx).
		Where("dispatched_at IS NULL").
		Where("attempts < ?", maxAttempts).
		Order("created_at ASC, id ASC").
		Limit(limit).
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("claim export jobs: %w", err)
	}
	out := make([]*services.ExportJob, 0, len(rows))
	for _, r := range rows {
		out = append(out, toExportJob(r))
	}
	return out, nil
}

func (s *PostgresStore) MarkExportJobDispatched(ctx context.Context, id string, at time.Time) error {
	return s.db.WithContext(ctx).Model(&exportJobModel{}).Where("id = ?", id).
		Updates(map[string]any{"dispatched_at": at.UTC(), "last_error": ""}).Error
}

func (s *PostgresStore) MarkExportJobFailed(ctx context.Context, id, reason string) error {
	return s.db.WithContext(ctx).Model(&exportJobModel{}).Where("id = ?", id).
		Updates(map[string]any{"attempts": gorm.Expr("attempts + 1"), "last_error": reason}).Error
}

func (s *PostgresStore) InsertSubmission(ctx context.Context, sub *services.Submission) error {
	rec := submissionModel{ID: sub.ID, FormID: sub.FormID, Data: sub.Data, CreatedAt: sub.CreatedAt}
	if len(sub.Answers) > 0 {
		a := string(sub.Answers)
		rec.Answers = &a
	}
	if err := s.db.WithContext(ctx).Create(&rec).Error; err != nil {
		return fmt.Errorf("insert submission: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListSubmissions(ctx context.Context, formID string, newestFirst bool) ([]*services.Submission, error) {
	order := "created_at ASC, id ASC"
	if newestFirst {
		order = "created_at DESC, id DESC"
	}
	var rows []submissionModel
	if err := s.db.WithContext(ctx).Where("form_id = ?", formID).Order(order).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list submissions: %w", err)
	}
	out := make([]*services.Submission, 0, len(rows))
	for _, r := range rows {
		sub := &services.Submission{ID: r.ID, FormID: r.FormID, Data: r.Data, CreatedAt: r.CreatedAt.UTC()}
		if r.Answers != nil {
			sub.Answers = json.RawMessage(*r.Answers)
		}
		out = append(out, sub)
	}
	return out, nil
}

func (s *PostgresStore) findUser(ctx context.Context, query string, arg any) (*services.User, error) {
	var rec userModel
	err := s.db.WithContext(ctx).Where(query, arg).Take(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find user: %w", err)
	}
	return toUser(rec), nil
}

func (s *PostgresStore) FindUserByEmail(ctx context.Context, email string) (*services.User, error) {
	return s.findUser(ctx, "lower(email) = lower(?)", email)
}

func (s *PostgresStore) GetUser(ctx context.Context, id string) (*services.User, error) {
	return s.findUser(ctx, "id = ?", id)
}

func (s *PostgresStore) AddUser(ctx context.Context, u *services.User) error {
	rec := userModel{ID: u.ID, Email: u.Email, Name: u.Name, PassHash: u.PassHash, CreatedAt: u.CreatedAt}
	err := s.db.WithContext(ctx).Create(&rec).Error
	if isDuplicate(err) {
		return services.NewConflictError("email already in use")
	}
	if err != nil {
		return fmt.Errorf("add user: %w", err)
	}
	return nil
}

func (s *PostgresStore) AddAudit(ctx context.Context, e services.AuditEntry) {
	rec := auditModel{Time: e.Time, Actor: e.Actor, Action: e.Action, Target: e.Target, Note: e.Note}
	if err := s.db.WithContext(ctx).Create(&rec).Error; err != nil {
		s.logger.ErrorContext(ctx, "postgres store failure", "operation", "AddAudit", "outcome", "failure", "error", err)
	}
}

func (s *PostgresStore) ListAudit(ctx context.Context, target string, limit int) ([]services.AuditEntry, error) {
	var rows []auditModel
	if err := s.db.WithContext(ctx).Where("target = ?", target).Order("id DESC").Limit(limit).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list audit: %w", err)
	}
	out := make([]services.AuditEntry, 0, len(rows))
	for _, r := range rows {
		out = append(out, services.AuditEntry{Time: r.Time.UTC(), Actor: r.Actor, Action: r.Action, Target: r.Target, Note: r.Note})
	}
	return out, nil
}

var _ Store = (*PostgresStore)(nil)
