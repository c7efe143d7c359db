package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/soaringjerry/Formsy/internal/services"
)

type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// OpenSQLite opens (creating if needed) the database file at path with a single
// writer connection.
func OpenSQLite(path string) (*sql.DB, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create sqlite dir: %w", err)
		}
	}
	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000&_foreign_keys=on", filepath.ToSlash(path))
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	return db, nil
}

func NewSQLiteStore(db *sql.DB, logger *slog.Logger) (*SQLiteStore, error) {
	if db == nil {
		return nil, errors.New("nil db")
	}
	if logger == nil {
		logger = slog.Default()
	}
	pragmas := []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
	}
	for _, stmt := range pragmas {
		if _, err := db.Exec(stmt); err != nil {
			return nil, fmt.Errorf("apply sqlite pragma %q: %w", stmt, err)
		}
	}
	return &SQLiteStore{db: db, logger: logger.With("module", "sqlite_store")}, nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

func (s *SQLiteStore) logErr(ctx context.Context, operation string, err error) {
	if err != nil {
		s.logger.ErrorContext(ctx, "sqlite store failure", "operation", operation, "outcome", "failure", "error", err)
	}
}

func isUniqueViolation(err error) bool {
	var se sqlite3.Error
	if errors.As(err, &se) {
		return se.ExtendedCode == sqlite3.ErrConstraintUnique
	}
	return false
}

func boolToInt64(v bool) int64 {
	if v {
		return 1
	}
	return 0
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func nullString(p *string) sql.NullString {
	if p == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *p, Valid: true}
}

// rollback is deferred by every transaction; it is a no-op after Commit.
func (s *SQLiteStore) rollback(ctx context.Context, tx *sql.Tx, operation string) {
	if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		s.logErr(ctx, operation+": rollback", err)
	}
}

// --- Forms ---

const formColumns = `id, owner_id, title, slug, is_paused, deadline, closed_message, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanForm(row rowScanner) (*services.Form, error) {
	var f services.Form
	var paused int64
	var deadline, closed sql.NullString
	var created string
	if err := row.Scan(&f.ID, &f.OwnerID, &f.Title, &f.Slug, &paused, &deadline, &closed, &created); err != nil {
		return nil, err
	}
	f.IsPaused = paused != 0
	if deadline.Valid {
		t, err := parseTime(deadline.String)
		if err != nil {
			return nil, err
		}
		f.Deadline = &t
	}
	if closed.Valid {
		msg := closed.String
		f.ClosedMessage = &msg
	}
	t, err := parseTime(created)
	if err != nil {
		return nil, err
	}
	f.CreatedAt = t
	return &f, nil
}

func (s *SQLiteStore) InsertForm(ctx context.Context, f *services.Form) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO forms (`+formColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		f.ID, f.OwnerID, f.Title, f.Slug, boolToInt64(f.IsPaused), nullTime(f.Deadline), nullString(f.ClosedMessage), formatTime(f.CreatedAt))
	if isUniqueViolation(err) {
		return services.NewConflictError("slug already in use")
	}
	if err != nil {
		return fmt.Errorf("insert form: %w", err)
	}
	return nil
}

func (s *SQLiteStore) getFormWhere(ctx context.Context, where string, arg any) (*services.Form, error) {
	f, err := scanForm(s.db.QueryRowContext(ctx, `SELECT `+formColumns+` FROM forms WHERE `+where, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get form: %w", err)
	}
	return f, nil
}

func (s *SQLiteStore) GetForm(ctx context.Context, id string) (*services.Form, error) {
	return s.getFormWhere(ctx, "id = ?", id)
}

func (s *SQLiteStore) GetFormBySlug(ctx context.Context, slug string) (*services.Form, error) {
	return s.getFormWhere(ctx, "slug = ?", slug)
}

func (s *SQLiteStore) ListFormsByOwner(ctx context.Context, ownerID string) ([]*services.Form, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+formColumns+` FROM forms WHERE owner_id = ? ORDER BY created_at ASC, id ASC`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list forms: %w", err)
	}
	defer func() {
		if cerr := rows.Close(); cerr != nil {
			s.logErr(ctx, "ListFormsByOwner: rows.Close", cerr)
		}
	}()
	out := []*services.Form{}
	for rows.Next() {
		f, err := scanForm(rows)
		if err != nil {
			return nil, fmt.Errorf("scan form: %w", err)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// --- Fields ---

func (s *SQLiteStore) ListFields(ctx context.Context, formID string) ([]*services.Field, error) {
	return listFields(ctx, s.db, formID)
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func listFields(ctx context.Context, q querier, formID string) ([]*services.Field, error) {
	rows, err := q.QueryContext(ctx, `SELECT id, form_id, key, label, type, position FROM fields WHERE form_id = ? ORDER BY position ASC`, formID)
	if err != nil {
		return nil, fmt.Errorf("list fields: %w", err)
	}
	defer rows.Close()
	out := []*services.Field{}
	for rows.Next() {
		var f services.Field
		if err := rows.Scan(&f.ID, &f.FormID, &f.Key, &f.Label, &f.Type, &f.Order); err != nil {
			return nil, fmt.Errorf("scan field: %w", err)
		}
		out = append(out, &f)
	}
	return out, rows.Err()
}

// AppendField computes the next position inside the INSERT itself. A
// concurrent writer that took the same position trips UNIQUE(form_id, position)
// and the insert is retried.
func (s *SQLiteStore) AppendField(ctx context.Context, f *services.Field) error {
	for attempt := 1; attempt <= appendAttempts; attempt++ {
		err := s.appendFieldOnce(ctx, f)
		if err == nil {
			return nil
		}
		if !isUniqueViolation(err) {
			return fmt.Errorf("append field: %w", err)
		}
		s.logger.WarnContext(ctx, "field position collision", "operation", "append_field", "form_id", f.FormID, "attempt", attempt)
	}
	return services.NewConflictError("could not assign a field position, try again")
}

func (s *SQLiteStore) appendFieldOnce(ctx context.Context, f *services.Field) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer s.rollback(ctx, tx, "AppendField")
	if _, err := tx.ExecContext(ctx, `INSERT INTO fields (id, form_id, key, label, type, position)
      SELECT ?, ?, ?, ?, ?, COALESCE(MAX(position), 0) + 1 FROM fields WHERE form_id = ?`,
		f.ID, f.FormID, f.Key, f.Label, f.Type, f.FormID); err != nil {
		return err
	}
	var order int
	if err := tx.QueryRowContext(ctx, `SELECT position FROM fields WHERE id = ?`, f.ID).Scan(&order); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	f.Order = order
	return nil
}

// ReorderFields rewrites every position of the form in one transaction. The
// rows are first parked on negative positions so the unique constraint holds
// at every step.
func (s *SQLiteStore) ReorderFields(ctx context.Context, formID string, ids []string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("reorder fields: %w", err)
	}
	defer s.rollback(ctx, tx, "ReorderFields")

	current, err := listFields(ctx, tx, formID)
	if err != nil {
		return err
	}
	currentIDs := make([]string, 0, len(current))
	for _, f := range current {
		currentIDs = append(currentIDs, f.ID)
	}
	if !samePermutation(currentIDs, ids) {
		return services.NewConflictError("fields changed while reordering")
	}
	if _, err := tx.ExecContext(ctx, `UPDATE fields SET position = -position WHERE form_id = ?`, formID); err != nil {
		return fmt.Errorf("reorder fields: park: %w", err)
	}
	for i, id := range ids {
		res, err := tx.ExecContext(ctx, `UPDATE fields SET position = ? WHERE id = ? AND form_id = ?`, i+1, id, formID)
		if err != nil {
			return fmt.Errorf("reorder fields: set %s: %w", id, err)
		}
		if n, err := res.RowsAffected(); err != nil || n != 1 {
			return fmt.Errorf("reorder fields: field %s not updated", id)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("reorder fields: commit: %w", err)
	}
	return nil
}

// --- Lifecycle ---

func (s *SQLiteStore) PauseForm(ctx context.Context, formID string, job *services.ExportJob) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("pause form: %w", err)
	}
	defer s.rollback(ctx, tx, "PauseForm")

	res, err := tx.ExecContext(ctx, `UPDATE forms SET is_paused = 1 WHERE id = ? AND is_paused = 0`, formID)
	if err != nil {
		return false, fmt.Errorf("pause form: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("pause form: %w", err)
	}
	if n == 0 {
		return false, nil
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO export_jobs (id, form_id, type, created_at) VALUES (?, ?, ?, ?)`,
		job.ID, job.FormID, job.Type, formatTime(job.CreatedAt)); err != nil {
		return false, fmt.Errorf("pause form: record export job: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("pause form: commit: %w", err)
	}
	return true, nil
}

// --- Export jobs ---

func (s *SQLiteStore) queryJobs(ctx context.Context, query string, args ...any) ([]*services.ExportJob, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list export jobs: %w", err)
	}
	defer rows.Close()
	out := []*services.ExportJob{}
	for rows.Next() {
		var j services.ExportJob
		var created string
		var dispatched sql.NullString
		if err := rows.Scan(&j.ID, &j.FormID, &j.Type, &created, &dispatched, &j.Attempts, &j.LastError); err != nil {
			return nil, fmt.Errorf("scan export job: %w", err)
		}
		if j.CreatedAt, err = parseTime(created); err != nil {
			return nil, err
		}
		if dispatched.Valid {
			t, err := parseTime(dispatched.String)
			if err != nil {
				return nil, err
			}
			j.DispatchedAt = &t
		}
		out = append(out, &j)
	}
	return out, rows.Err()
}

const jobColumns = `id, form_id, type, created_at, dispatched_at, attempts, last_error`

func (s *SQLiteStore) ListExportJobs(ctx context.Context, formID string) ([]*services.ExportJob, error) {
	return s.queryJobs(ctx, `SELECT `+jobColumns+` FROM export_jobs WHERE form_id = ? ORDER BY created_at ASC, id ASC`, formID)
}

func (s *SQLiteStore) ClaimPendingExportJobs(ctx context.Context, limit, maxAttempts int) ([]*services.ExportJob, error) {
	return s.queryJobs(ctx, `SELECT `+jobColumns+` FROM export_jobs
      WHERE dispatched_at IS NULL AND attempts < ? ORDER BY created_at ASC, id ASC LIMIT ?`, maxAttempts, limit)
}

func (s *SQLiteStore) MarkExportJobDispatched(ctx context.Context, id string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `UPDATE export_jobs SET dispatched_at = ?, last_error = '' WHERE id = ?`, formatTime(at), id)
	if err != nil {
		return fmt.Errorf("mark export job dispatched: %w", err)
	}
	return nil
}

func (s *SQLiteStore) MarkExportJobFailed(ctx context.Context, id, reason string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE export_jobs SET attempts = attempts + 1, last_error = ? WHERE id = ?`, reason, id)
	if err != nil {
		return fmt.Errorf("mark export job failed: %w", err)
	}
	return nil
}

// --- Submissions ---

func (s *SQLiteStore) InsertSubmission(ctx context.Context, sub *services.Submission) error {
	var answers sql.NullString
	if len(sub.Answers) > 0 {
		answers = sql.NullString{String: string(sub.Answers), Valid: true}
	}
	if _, err := s.db.ExecContext(ctx, `INSERT INTO submissions (id, form_id, data, answers, created_at) VALUES (?, ?, ?, ?, ?)`,
		sub.ID, sub.FormID, sub.Data, answers, formatTime(sub.CreatedAt)); err != nil {
		return fmt.Errorf("insert submission: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ListSubmissions(ctx context.Context, formID string, newestFirst bool) ([]*services.Submission, error) {
	order := "ASC"
	if newestFirst {
		order = "DESC"
	}
	rows, err := s.db.QueryContext(ctx, `SELECT id, form_id, data, answers, created_at FROM submissions
      WHERE form_id = ? ORDER BY created_at `+order+`, id `+order, formID)
	if err != nil {
		return nil, fmt.Errorf("list submissions: %w", err)
	}
	defer rows.Close()
	out := []*services.Submission{}
	for rows.Next() {
		var sub services.Submission
		var answers sql.NullString
		var created string
		if err := rows.Scan(&sub.ID, &sub.FormID, &sub.Data, &answers, &created); err != nil {
			return nil, fmt.Errorf("scan submission: %w", err)
		}
		if answers.Valid {
			sub.Answers = json.RawMessage(answers.String)
		}
		if sub.CreatedAt, err = parseTime(created); err != nil {
			return nil, err
		}
		out = append(out, &sub)
	}
	return out, rows.Err()
}

// --- Users ---

func (s *SQLiteStore) scanUser(row rowScanner) (*services.User, error) {
	var u services.User
	var created string
	if err := row.Scan(&u.ID, &u.Email, &u.Name, &u.PassHash, &created); err != nil {
		return nil, err
	}
	t, err := parseTime(created)
	if err != nil {
		return nil, err
	}
	u.CreatedAt = t
	return &u, nil
}

func (s *SQLiteStore) FindUserByEmail(ctx context.Context, email string) (*services.User, error) {
	u, err := s.scanUser(s.db.QueryRowContext(ctx, `SELECT id, email, name, pass_hash, created_at FROM users WHERE email = ? COLLATE NOCASE`, email))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find user: %w", err)
	}
	return u, nil
}

func (s *SQLiteStore) GetUser(ctx context.Context, id string) (*services.User, error) {
	u, err := s.scanUser(s.db.QueryRowContext(ctx, `SELECT id, email, name, pass_hash, created_at FROM users WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return u, nil
}

func (s *SQLiteStore) AddUser(ctx context.Context, u *services.User) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO users (id, email, name, pass_hash, created_at) VALUES (?, ?, ?, ?, ?)`,
		u.ID, u.Email, u.Name, u.PassHash, formatTime(u.CreatedAt))
	if isUniqueViolation(err) {
		return services.NewConflictError("email already in use")
	}
	if err != nil {
		return fmt.Errorf("add user: %w", err)
	}
	return nil
}

// --- Audit ---

func (s *SQLiteStore) AddAudit(ctx context.Context, e services.AuditEntry) {
	_, err := s.db.ExecContext(ctx, `INSERT INTO audit_log (time, actor, action, target, note) VALUES (?, ?, ?, ?, ?)`,
		formatTime(e.Time), e.Actor, e.Action, e.Target, e.Note)
	s.logErr(ctx, "AddAudit", err)
}

func (s *SQLiteStore) ListAudit(ctx context.Context, target string, limit int) ([]services.AuditEntry, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT time, actor, action, target, note FROM audit_log WHERE target = ? ORDER BY id DESC LIMIT ?`, target, limit)
	if err != nil {
		return nil, fmt.Errorf("list audit: %w", err)
	}
	defer rows.Close()
	out := []services.AuditEntry{}
	for rows.Next() {
		var e services.AuditEntry
		var at string
		if err := rows.Scan(&at, &e.Actor, &e.Action, &e.Target, &e.Note); err != nil {
			return nil, fmt.Errorf("scan audit: %w", err)
		}
		if e.Time, err = parseTime(at); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
