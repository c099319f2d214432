package projects

import (
	"context"
	stderrors "errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/klarnow/tracker/common/errors"
	commonModels "github.com/klarnow/tracker/common/models"
	"github.com/klarnow/tracker/pkg/config"
	"github.com/klarnow/tracker/projects/models"
	"github.com/klarnow/tracker/projects/phases"
)

// PostgresStore implements Store on a pgx connection pool
type PostgresStore struct {
	db *pgxpool.Pool
}

// NewPostgresStore wraps an open pool
func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

// OpenPostgres connects a pool sized from cfg and pings it
func OpenPostgres(ctx context.Context, cfg config.DatabaseConfig) (*PostgresStore, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, err
	}

	maxConns := cfg.MaxOpenConns
	if maxConns <= 0 {
		maxConns = 25
	}
	minConns := cfg.MaxIdleConns
	if minConns <= 0 {
		minConns = 5
	}
	poolConfig.MaxConns = int32(maxConns)
	poolConfig.MinConns = int32(minConns)
	poolConfig.MaxConnLifetime = cfg.MaxLifetime

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return NewPostgresStore(pool), nil
}

func scanPGProject(row rowScanner) (*models.Project, error) {
	var p models.Project
	err := row.Scan(
		&p.ID, &p.UserID, &p.Email, &p.Name, &p.KitType, &p.OnboardingPercent, &p.OnboardingFinished,
		&p.CurrentDayOf14, &p.NextFromUs, &p.NextFromYou, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		if stderrors.Is(err, pgx.ErrNoRows) {
			return nil, errors.ErrProjectNotFound
		}
		return nil, fmt.Errorf("scan project: %w", err)
	}
	return &p, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return stderrors.As(err, &pgErr) && pgErr.Code == "23505"
}

// CreateProject inserts p. A second project for the same user and kit
// yields errors.ErrAlreadyExists.
func (s *PostgresStore) CreateProject(ctx context.Context, p *models.Project) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO projects (id, user_id, email, name, kit_type, onboarding_percent, onboarding_finished,
		 current_day_of_14, next_from_us, next_from_you, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		p.ID, p.UserID, p.Email, p.Name, p.KitType, p.OnboardingPercent, p.OnboardingFinished,
		p.CurrentDayOf14, p.NextFromUs, p.NextFromYou, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return errors.ErrAlreadyExists
		}
		return fmt.Errorf("insert project: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetProject(ctx context.Context, id uuid.UUID) (*models.Project, error) {
	return scanPGProject(s.db.QueryRow(ctx,
		`SELECT `+projectColumns+` FROM projects WHERE id = $1`, id))
}

func (s *PostgresStore) FindProject(ctx context.Context, userID uuid.UUID, kit *commonModels.KitType) (*models.Project, error) {
	if kit != nil {
		return scanPGProject(s.db.QueryRow(ctx,
			`SELECT `+projectColumns+` FROM projects WHERE user_id = $1 AND kit_type = $2`, userID, *kit))
	}
	return scanPGProject(s.db.QueryRow(ctx,
		`SELECT `+projectColumns+` FROM projects WHERE user_id = $1 ORDER BY updated_at DESC LIMIT 1`, userID))
}

func (s *PostgresStore) UpdateProject(ctx context.Context, id uuid.UUID, upd models.ProjectUpdate) (*models.Project, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	p, err := scanPGProject(tx.QueryRow(ctx,
		`SELECT `+projectColumns+` FROM projects WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return nil, err
	}

	upd.Apply(p)
	p.UpdatedAt = time.Now().UTC()

	_, err = tx.Exec(ctx,
		`UPDATE projects SET current_day_of_14 = $2, next_from_us = $3, next_from_you = $4, updated_at = $5
		 WHERE id = $1`,
		id, p.CurrentDayOf14, p.NextFromUs, p.NextFromYou, p.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("update project: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return p, nil
}

func (s *PostgresStore) ListProjects(ctx context.Context, f models.ProjectFilter) ([]*models.Project, int64, error) {
	var (
		where []string
		args  []any
	)
	if f.KitType != nil {
		args = append(args, *f.KitType)
		where = append(where, fmt.Sprintf("kit_type = $%d", len(args)))
	}
	if f.OnboardingFinished != nil {
		args = append(args, *f.OnboardingFinished)
		where = append(where, fmt.Sprintf("onboarding_finished = $%d", len(args)))
	}
	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	var total int64
	if err := s.db.QueryRow(ctx, `SELECT COUNT(*) FROM projects`+clause, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count projects: %w", err)
	}

	limit := f.Limit
	if limit <= 0 {
		limit = 20
	}
	args = append(args, limit, f.Offset)
	rows, err := s.db.Query(ctx,
		fmt.Sprintf(`SELECT `+projectColumns+` FROM projects%s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
			clause, len(args)-1, len(args)),
		args...,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("list projects: %w", err)
	}
	defer rows.Close()

	projects := make([]*models.Project, 0)
	for rows.Next() {
		p, err := scanPGProject(rows)
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

func (s *PostgresStore) PhaseState(ctx context.Context, projectID uuid.UUID) (phases.StateMap, error) {
	var raw []byte
	err := s.db.QueryRow(ctx, `SELECT phases_state FROM projects WHERE id = $1`, projectID).Scan(&raw)
	if err != nil {
		if stderrors.Is(err, pgx.ErrNoRows) {
			return nil, errors.ErrProjectNotFound
		}
		return nil, fmt.Errorf("load phases_state: %w", err)
	}
	return unmarshalState(raw)
}

func (s *PostgresStore) PhaseStates(ctx context.Context, projectIDs []uuid.UUID) (map[uuid.UUID]phases.StateMap, error) {
	out := make(map[uuid.UUID]phases.StateMap, len(projectIDs))
	if len(projectIDs) == 0 {
		return out, nil
	}
	rows, err := s.db.Query(ctx, `SELECT id, phases_state FROM projects WHERE id = ANY($1)`, projectIDs)
	if err != nil {
		return nil, fmt.Errorf("load phases_state: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			id  uuid.UUID
			raw []byte
		)
		if err := rows.Scan(&id, &raw); err != nil {
			return nil, fmt.Errorf("scan phases_state: %w", err)
		}
		state, err := unmarshalState(raw)
		if err != nil {
			return nil, err
		}
		out[id] = state
	}
	return out, rows.Err()
}

// UpdatePhaseState locks the project row with SELECT ... FOR UPDATE, runs fn
// on the current state and writes the result in the same transaction.
func (s *PostgresStore) UpdatePhaseState(ctx context.Context, projectID uuid.UUID, fn PhaseStateFunc) (phases.StateMap, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	var raw []byte
	err = tx.QueryRow(ctx, `SELECT phases_state FROM projects WHERE id = $1 FOR UPDATE`, projectID).Scan(&raw)
	if err != nil {
		if stderrors.Is(err, pgx.ErrNoRows) {
			return nil, errors.ErrProjectNotFound
		}
		return nil, fmt.Errorf("lock phases_state: %w", err)
	}
	current, err := unmarshalState(raw)
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

	if _, err := tx.Exec(ctx,
		`UPDATE projects SET phases_state = $2, updated_at = $3 WHERE id = $1`,
		projectID, data, time.Now().UTC(),
	); err != nil {
		return nil, fmt.Errorf("update phases_state: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return next, nil
}

func (s *PostgresStore) ListSteps(ctx context.Context, projectID uuid.UUID) ([]*models.OnboardingStep, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+stepColumns+` FROM onboarding_steps WHERE project_id = $1 ORDER BY step_number`, projectID)
	if err != nil {
		return nil, fmt.Errorf("list steps: %w", err)
	}
	defer rows.Close()

	steps := make([]*models.OnboardingStep, 0, models.OnboardingStepCount)
	for rows.Next() {
		var (
			st  models.OnboardingStep
			raw []byte
		)
		if err := rows.Scan(
			&st.ID, &st.ProjectID, &st.StepNumber, &st.StepID, &st.Title, &st.TimeEstimate, &st.Status,
			&st.RequiredFieldsTotal, &st.RequiredFieldsCompleted, &raw, &st.StartedAt, &st.CompletedAt,
			&st.CreatedAt, &st.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan step: %w", err)
		}
		if st.Fields, err = unmarshalFields(raw); err != nil {
			return nil, err
		}
		steps = append(steps, &st)
	}
	return steps, rows.Err()
}

func (s *PostgresStore) SaveStep(ctx context.Context, step *models.OnboardingStep, onboardingPercent int) error {
	fields, err := marshalFields(step.Fields)
	if err != nil {
		return err
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx,
		`INSERT INTO onboarding_steps (`+stepColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		 ON CONFLICT (project_id, step_number) DO UPDATE SET
		   status = EXCLUDED.status,
		   required_fields_total = EXCLUDED.required_fields_total,
		   required_fields_completed = EXCLUDED.required_fields_completed,
		   fields = EXCLUDED.fields,
		   started_at = EXCLUDED.started_at,
		   completed_at = EXCLUDED.completed_at,
		   updated_at = EXCLUDED.updated_at`,
		step.ID, step.ProjectID, step.StepNumber, step.StepID, step.Title, step.TimeEstimate, step.Status,
		step.RequiredFieldsTotal, step.RequiredFieldsCompleted, fields, step.StartedAt, step.CompletedAt,
		step.CreatedAt, step.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert step: %w", err)
	}

	tag, err := tx.Exec(ctx,
		`UPDATE projects SET onboarding_percent = $2, updated_at = $3 WHERE id = $1`,
		step.ProjectID, onboardingPercent, step.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update onboarding_percent: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return errors.ErrProjectNotFound
	}
	return tx.Commit(ctx)
}

func (s *PostgresStore) FinishOnboarding(ctx context.Context, projectID uuid.UUID, name string, initial phases.StateMap) (*models.Project, error) {
	data, err := marshalState(initial)
	if err != nil {
		return nil, err
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	p, err := scanPGProject(tx.QueryRow(ctx,
		`UPDATE projects SET
		   onboarding_finished = TRUE,
		   onboarding_percent = 100,
		   name = NULLIF($2, ''),
		   phases_state = COALESCE(phases_state, $3),
		   updated_at = $4
		 WHERE id = $1
		 RETURNING `+projectColumns,
		projectID, name, data, time.Now().UTC(),
	))
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return p, nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

func (s *PostgresStore) Close() {
	s.db.Close()
}
