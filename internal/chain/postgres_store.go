package chain

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const chainColumns = `id, activity_id, user_sequence, status, trigger_time, expire_time,
	activated_at, finished_at, completed_count, total_count, created_at, updated_at`

// PostgresStore keeps chains in review_chains and per-reviewer completions in
// review_chain_completions. Every Update holds a row lock on the chain.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) Create(ctx context.Context, c *ReviewChain) error {
	activatedAt, finishedAt := stateTimes(c.State)
	_, err := s.pool.Exec(ctx, `
		INSERT INTO review_chains (`+chainColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`,
		c.ID, c.ActivityID, c.UserSequence, string(c.Status()), c.TriggerTime, c.ExpireTime,
		activatedAt, finishedAt, c.CompletedCount, c.TotalCount, c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert review chain: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*ReviewChain, error) {
	c, err := scanChain(s.pool.QueryRow(ctx, `SELECT `+chainColumns+` FROM review_chains WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("chain %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get review chain: %w", err)
	}
	if err := attachCompletions(ctx, s.pool, []*ReviewChain{c}); err != nil {
		return nil, err
	}
	return c, nil
}

func (s *PostgresStore) List(ctx context.Context, filter ListFilter) ([]*ReviewChain, error) {
	query := `SELECT ` + chainColumns + ` FROM review_chains WHERE TRUE`
	var args []any

	if filter.ActivityID != "" {
		args = append(args, filter.ActivityID)
		query += fmt.Sprintf(" AND activity_id = $%d", len(args))
	}
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}
	if !filter.DueBefore.IsZero() {
		args = append(args, filter.DueBefore)
		n := len(args)
		query += fmt.Sprintf(
			" AND ((status = 'pending' AND trigger_time <= $%d) OR (status = 'active' AND expire_time <= $%d))",
			n, n,
		)
	}

	query += " ORDER BY created_at ASC, id ASC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query review chains: %w", err)
	}
	chains, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (*ReviewChain, error) {
		return scanChain(row)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan review chains: %w", err)
	}

	if err := attachCompletions(ctx, s.pool, chains); err != nil {
		return nil, err
	}
	return chains, nil
}

func (s *PostgresStore) Update(ctx context.Context, id string, fn UpdateFunc) (*ReviewChain, error) {
	var result *ReviewChain
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		c, err := scanChain(tx.QueryRow(ctx, `SELECT `+chainColumns+` FROM review_chains WHERE id = $1 FOR UPDATE`, id))
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return fmt.Errorf("chain %s: %w", id, ErrNotFound)
			}
			return fmt.Errorf("failed to lock review chain: %w", err)
		}
		if err := attachCompletions(ctx, tx, []*ReviewChain{c}); err != nil {
			return err
		}

		stored := len(c.Completions)
		changed, err := fn(c)
		if err != nil {
			return err
		}
		result = c
		if !changed {
			return nil
		}

		activatedAt, finishedAt := stateTimes(c.State)
		_, err = tx.Exec(ctx, `
			UPDATE review_chains
			SET status = $2, activated_at = COALESCE($3, activated_at), finished_at = $4, completed_count = $5, updated_at = $6
			WHERE id = $1
		`, c.ID, string(c.Status()), activatedAt, finishedAt, c.CompletedCount, c.UpdatedAt)
		if err != nil {
			return fmt.Errorf("failed to update review chain: %w", err)
		}

		for _, done := range c.Completions[stored:] {
			_, err = tx.Exec(ctx, `
				INSERT INTO review_chain_completions (chain_id, reviewer_id, reviewee_id, completed_at)
				VALUES ($1, $2, $3, $4)
			`, c.ID, done.ReviewerID, done.RevieweeID, done.CompletedAt)
			if err != nil {
				var pgErr *pgconn.PgError
				if errors.As(err, &pgErr) && pgErr.Code == "23505" {
					return fmt.Errorf("reviewer %s on chain %s: %w", done.ReviewerID, c.ID, ErrDuplicateReview)
				}
				return fmt.Errorf("failed to insert review completion: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func scanChain(row pgx.Row) (*ReviewChain, error) {
	var (
		c           ReviewChain
		status      string
		activatedAt *time.Time
		finishedAt  *time.Time
	)
	err := row.Scan(
		&c.ID, &c.ActivityID, &c.UserSequence, &status, &c.TriggerTime, &c.ExpireTime,
		&activatedAt, &finishedAt, &c.CompletedCount, &c.TotalCount, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	state, err := stateFromColumns(status, activatedAt, finishedAt)
	if err != nil {
		return nil, fmt.Errorf("chain %s: %w", c.ID, err)
	}
	c.State = state
	return &c, nil
}

func attachCompletions(ctx context.Context, q querier, chains []*ReviewChain) error {
	if len(chains) == 0 {
		return nil
	}
	ids := make([]string, 0, len(chains))
	byID := make(map[string]*ReviewChain, len(chains))
	for _, c := range chains {
		ids = append(ids, c.ID)
		byID[c.ID] = c
	}

	rows, err := q.Query(ctx, `
		SELECT chain_id, reviewer_id, reviewee_id, completed_at
		FROM review_chain_completions
		WHERE chain_id = ANY($1)
		ORDER BY seq ASC
	`, ids)
	if err != nil {
		return fmt.Errorf("failed to query review completions: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			chainID string
			done    Completion
		)
		if err := rows.Scan(&chainID, &done.ReviewerID, &done.RevieweeID, &done.CompletedAt); err != nil {
			return fmt.Errorf("failed to scan review completion: %w", err)
		}
		if c, ok := byID[chainID]; ok {
			c.Completions = append(c.Completions, done)
		}
	}
	return rows.Err()
}

// stateTimes splits a State into the activated_at and finished_at columns.
func stateTimes(s State) (activatedAt, finishedAt *time.Time) {
	switch st := s.(type) {
	case Active:
		return &st.Since, nil
	case Completed:
		return nil, &st.At
	case Expired:
		return nil, &st.At
	default:
		return nil, nil
	}
}

func stateFromColumns(status string, activatedAt, finishedAt *time.Time) (State, error) {
	parsed, ok := ParseStatus(status)
	if !ok {
		return nil, fmt.Errorf("unknown status %q", status)
	}
	switch parsed {
	case StatusActive:
		return Active{Since: deref(activatedAt)}, nil
	case StatusCompleted:
		return Completed{At: deref(finishedAt)}, nil
	case StatusExpired:
		return Expired{At: deref(finishedAt)}, nil
	default:
		return Pending{}, nil
	}
}

func deref(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}
