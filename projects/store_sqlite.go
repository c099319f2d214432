package projects

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/klarnow/tracker/common/errors"
	commonModels "github.com/klarnow/tracker/common/models"
	"github.com/klarnow/tracker/projects/models"
	"github.com/klarnow/tracker/projects/phases"
)

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS projects (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		email TEXT NOT NULL,
		name TEXT,
		kit_type TEXT NOT NULL CHECK (kit_type IN ('LAUNCH', 'GROWTH')),
		onboarding_percent INTEGER NOT NULL DEFAULT 0,
		onboarding_finished INTEGER NOT NULL DEFAULT 0,
		current_day_of_14 INTEGER CHECK (current_day_of_14 BETWEEN 0 AND 14),
		next_from_us TEXT,
		next_from_you TEXT,
		phases_state TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		UNIQUE (user_id, kit_type)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_projects_kit_finished ON projects (kit_type, onboarding_finished)`,
	`CREATE TABLE IF NOT EXISTS onboarding_steps (
		id TEXT PRIMARY KEY,
		project_id TEXT NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
		step_number INTEGER NOT NULL CHECK (step_number BETWEEN 1 AND 3),
		step_id TEXT NOT NULL,
		title TEXT NOT NULL,
		time_estimate TEXT NOT NULL,
		status TEXT NOT NULL,
		required_fields_total INTEGER NOT NULL DEFAULT 0,
		required_fields_completed INTEGER NOT NULL DEFAULT 0,
		fields TEXT,
		started_at TEXT,
		completed_at TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		UNIQUE (project_id, step_number)
	)`,
}

// SQLiteStore implements Store on an embedded sqlite database. It backs
// single-node development and the handler tests.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens the database at path (":memory:" for an in-memory one),
// enables WAL and foreign keys, and creates the schema.
func OpenSQLite(path string) (*SQLiteStore, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("creating db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// One connection: sqlite serialises writers anyway, and an in-memory
	// database exists per connection.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{"PRAGMA journal_mode = WAL", "PRAGMA foreign_keys = ON"} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}
	for i, stmt := range sqliteSchema {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("schema %d: %w", i, err)
		}
	}
	return &SQLiteStore{db: db}, nil
}

// Fixed width so that text ordering matches time ordering
const sqliteTimeFormat = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(sqliteTimeFormat)
}

func formatTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(sqliteTimeFormat, s)
}

func parseNullTime(s sql.NullString) (*time.Time, error) {
	if !s.Valid {
		return nil, nil
	}
	t, err := parseTime(s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func nullString(p *string) any {
	if p == nil {
		return nil
	}
	return *p
}

func nullInt(p *int) any {
	if p == nil {
		return nil
	}
	return *p
}

func nullBytes(b []byte) any {
	if b == nil {
		return nil
	}
	return string(b)
}

func scanSQLiteProject(row rowScanner) (*models.Project, error) {
	var (
		p                     models.Project
		name, fromUs, fromYou sql.NullString
		day                   sql.NullInt64
		createdAt, updatedAt  string
	)
	err := row.Scan(
		&p.ID, &p.UserID, &p.Email, &name, &p.KitType, &p.OnboardingPercent, &p.OnboardingFinished,
		&day, &fromUs, &fromYou, &createdAt, &updatedAt,
	)
	if err != nil {
		if stderrors.Is(err, sql.ErrNoRows) {
			return nil, errors.ErrProjectNotFound
		}
		return nil, fmt.Errorf("scan project: %w", err)
	}
	if name.Valid {
		p.Name = &name.String
	}
	if fromUs.Valid {
		p.NextFromUs = &fromUs.String
	}
	if fromYou.Valid {
		p.NextFromYou = &fromYou.String
	}
	if day.Valid {
		d := int(day.Int64)
		p.CurrentDayOf14 = &d
	}
	if p.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	if p.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("parse updated_at: %w", err)
	}
	return &p, nil
}

func isSQLiteUnique(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func (s *SQLiteStore) CreateProject(ctx context.Context, p *models.Project) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO projects (id, user_id, email, name, kit_type, onboarding_percent, onboarding_finished,
		 current_day_of_14, next_from_us, next_from_you, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID.String(), p.UserID.String(), p.Email, nullString(p.Name), string(p.KitType),
		p.OnboardingPercent, p.OnboardingFinished, nullInt(p.CurrentDayOf14),
		nullString(p.NextFromUs), nullString(p.NextFromYou), formatTime(p.CreatedAt), formatTime(p.UpdatedAt),
	)
	if err != nil {
		if isSQLiteUnique(err) {
			return errors.ErrAlreadyExists
		}
		return fmt.Errorf("insert project: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetProject(ctx context.Context, id uuid.UUID) (*models.Project, error) {
	return scanSQLiteProject(s.db.QueryRowContext(ctx,
		`SELECT `+projectColumns+` FROM projects WHERE id = ?`, id.String()))
}

func (s *SQLiteStore) FindProject(ctx context.Context, userID uuid.UUID, kit *commonModels.KitType) (*models.Project, error) {
	if kit != nil {
		return scanSQLiteProject(s.db.QueryRowContext(ctx,
			`SELECT `+projectColumns+` FROM projects WHERE user_id = ? AND kit_type = ?`, userID.String(), string(*kit)))
	}
	return scanSQLiteProject(s.db.QueryRowContext(ctx,
		`SELECT `+projectColumns+` FROM projects WHERE user_id = ? ORDER BY updated_at DESC LIMIT 1`, userID.String()))
}

func (s *SQLiteStore) UpdateProject(ctx context.Context, id uuid.UUID, upd models.ProjectUpdate) (*models.Project, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	p, err := scanSQLiteProject(tx.QueryRowContext(ctx,
		`SELECT `+projectColumns+` FROM projects WHERE id = ?`, id.String()))
	if err != nil {
		return nil, err
	}

	upd.Apply(p)
	p.UpdatedAt = time.Now().UTC()

	_, err = tx.ExecContext(ctx,
		`UPDATE projects SET current_day_of_14 = ?, next_from_us = ?, next_from_you = ?, updated_at = ? WHERE id = ?`,
		nullInt(p.CurrentDayOf14), nullString(p.NextFromUs), nullString(p.NextFromYou), formatTime(p.UpdatedAt), id.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("update project: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return p, nil
}

func (s *SQLiteStore) ListProjects(ctx context.Context, f models.ProjectFilter) ([]*models.Project, int64, error) {
	var (
		where []string
		args  []any
	)
	if f.KitType != nil {
		where = append(where, "kit_type = ?")
		args = append(args, string(*f.KitType))
	}
	if f.OnboardingFinished != nil {
		where = append(where, "onboarding_finished = ?")
		args = append(args, *f.OnboardingFinished)
	}
	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	var total int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM projects`+clause, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count projects: %w", err)
	}

	limit := f.Limit
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+projectColumns+` FROM projects`+clause+` ORDER BY created_at DESC LIMIT ? OFFSET ?`,
		append(args, limit, f.Offset)...,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("list projects: %w", err)
	}
	defer rows.Close()

	projects := make([]*models.Project, 0)
	for rows.Next() {
		p, err := scanSQLiteProject(rows)
		if err != nil {
			return nil, 0, err
		}
		projects = append(projects, p)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("list projects: %w", err)
	}
	return projects, total, nil
}

func (s *SQLiteStore) loadState(ctx context.Context, q interface {
	QueryRowContext(context.Context, string, ...any) *sql.Row
}, projectID uuid.UUID) (phases.StateMap, error) {
	var raw sql.NullString
	err := q.QueryRowContext(ctx, `SELECT phases_state FROM projects WHERE id = ?`, projectID.String()).Scan(&raw)
	if err != nil {
		if stderrors.Is(err, sql.ErrNoRows) {
			return nil, errors.ErrProjectNotFound
		}
		return nil, fmt.Errorf("load phases_state: %w", err)
	}
	if !raw.Valid {
		return nil, nil
	}
	return unmarshalState([]byte(raw.String))
}

func (s *SQLiteStore) PhaseState(ctx context.Context, projectID uuid.UUID) (phases.StateMap, error) {
	return s.loadState(ctx, s.db, projectID)
}

func (s *SQLiteStore) PhaseStates(ctx context.Context, projectIDs []uuid.UUID) (map[uuid.UUID]phases.StateMap, error) {
	out := make(map[uuid.UUID]phases.StateMap, len(projectIDs))
	if len(projectIDs) == 0 {
		return out, nil
	}
	placeholders := make([]string, len(projectIDs))
	args := make([]any, len(projectIDs))
	for i, id := range projectIDs {
		placeholders[i] = "?"
		args[i] = id.String()
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, phases_state FROM projects WHERE id IN (`+strings.Join(placeholders, ", ")+`)`, args...)
	if err != nil {
		return nil, fmt.Errorf("load phases_state: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			id  uuid.UUID
			raw sql.NullString
		)
		if err := rows.Scan(&id, &raw); err != nil {
			return nil, fmt.Errorf("scan phases_state: %w", err)
		}
		var state phases.StateMap
		if raw.Valid {
			if state, err = unmarshalState([]byte(raw.String)); err != nil {
				return nil, err
			}
		}
		out[id] = state
	}
	return out, rows.Err()
}

// UpdatePhaseState runs fn inside a transaction. With a single connection
// the transaction also excludes every other reader and writer.
func (s *SQLiteStore) UpdatePhaseState(ctx context.Context, projectID uuid.UUID, fn PhaseStateFunc) (phases.StateMap, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	current, err := s.loadState(ctx, tx, projectID)
	if err != nil {
		return nil, err
	}
	next, err := fn(current)
	if err != nil {
		return nil, err
	}
	data, err := marshalState(next)
	if err != nil {
		return nil, err
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE projects SET phases_state = ?, updated_at = ? WHERE id = ?`,
		nullBytes(data), formatTime(time.Now()), projectID.String(),
	); err != nil {
		return nil, fmt.Errorf("update phases_state: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return next, nil
}

func (s *SQLiteStore) ListSteps(ctx context.Context, projectID uuid.UUID) ([]*models.OnboardingStep, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+stepColumns+` FROM onboarding_steps WHERE project_id = ? ORDER BY step_number`, projectID.String())
	if err != nil {
		return nil, fmt.Errorf("list steps: %w", err)
	}
	defer rows.Close()

	steps := make([]*models.OnboardingStep, 0, models.OnboardingStepCount)
	for rows.Next() {
		var (
			st                   models.OnboardingStep
			fields               sql.NullString
			started, completed   sql.NullString
			createdAt, updatedAt string
		)
		if err := rows.Scan(
			&st.ID, &st.ProjectID, &st.StepNumber, &st.StepID, &st.Title, &st.TimeEstimate, &st.Status,
			&st.RequiredFieldsTotal, &st.RequiredFieldsCompleted, &fields, &started, &completed,
			&createdAt, &updatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan step: %w", err)
		}
		if fields.Valid {
			if st.Fields, err = unmarshalFields([]byte(fields.String)); err != nil {
				return nil, err
			}
		}
		if st.StartedAt, err = parseNullTime(started); err != nil {
			return nil, fmt.Errorf("parse started_at: %w", err)
		}
		if st.CompletedAt, err = parseNullTime(completed); err != nil {
			return nil, fmt.Errorf("parse completed_at: %w", err)
		}
		if st.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, fmt.Errorf("parse created_at: %w", err)
		}
		if st.UpdatedAt, err = parseTime(updatedAt); err != nil {
			return nil, fmt.Errorf("parse updated_at: %w", err)
		}
		steps = append(steps, &st)
	}
	return steps, rows.Err()
}

func (s *SQLiteStore) SaveStep(ctx context.Context, step *models.OnboardingStep, onboardingPercent int) error {
	fields, err := marshalFields(step.Fields)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO onboarding_steps (`+stepColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (project_id, step_number) DO UPDATE SET
		   status = excluded.status,
		   required_fields_total = excluded.required_fields_total,
		   required_fields_completed = excluded.required_fields_completed,
		   fields = excluded.fields,
		   started_at = excluded.started_at,
		   completed_at = excluded.completed_at,
		   updated_at = excluded.updated_at`,
		step.ID.String(), step.ProjectID.String(), step.StepNumber, step.StepID, step.Title, step.TimeEstimate,
		string(step.Status), step.RequiredFieldsTotal, step.RequiredFieldsCompleted, nullBytes(fields),
		formatTimePtr(step.StartedAt), formatTimePtr(step.CompletedAt), formatTime(step.CreatedAt), formatTime(step.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("upsert step: %w", err)
	}

	res, err := tx.ExecContext(ctx,
		`UPDATE projects SET onboarding_percent = ?, updated_at = ? WHERE id = ?`,
		onboardingPercent, formatTime(step.UpdatedAt), step.ProjectID.String(),
	)
	if err != nil {
		return fmt.Errorf("update onboarding_percent: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.ErrProjectNotFound
	}
	return tx.Commit()
}

func (s *SQLiteStore) FinishOnboarding(ctx context.Context, projectID uuid.UUID, name string, initial phases.StateMap) (*models.Project, error) {
	data, err := marshalState(initial)
	if err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`UPDATE projects SET
		   onboarding_finished = 1,
		   onboarding_percent = 100,
		   name = NULLIF(?, ''),
		   phases_state = COALESCE(phases_state, ?),
		   updated_at = ?
		 WHERE id = ?`,
		name, nullBytes(data), formatTime(time.Now()), projectID.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("finish onboarding: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, errors.ErrProjectNotFound
	}

	p, err := scanSQLiteProject(tx.QueryRowContext(ctx,
		`SELECT `+projectColumns+` FROM projects WHERE id = ?`, projectID.String()))
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return p, nil
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteStore) Close() {
	_ = s.db.Close()
}
