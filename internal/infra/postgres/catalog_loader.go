package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"ecolearn-gamification/internal/domain"
	"github.com/jackc/pgx/v4"
	"github.com/uptrace/bun"
)

// Querier is the subset of *pgxpool.Pool the loader needs.
type Querier interface {
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

// CatalogLoader loads quiz and challenge JSONB from Postgres.
type CatalogLoader struct {
	pool Querier
}

func NewCatalogLoader(pool Querier) *CatalogLoader {
	return &CatalogLoader{pool: pool}
}

func (l *CatalogLoader) LoadQuiz(ctx context.Context, quizID string) (domain.Quiz, error) {
	var quiz domain.Quiz
	if err := l.load(ctx, `SELECT data FROM quizzes WHERE id=$1`, quizID, &quiz); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Quiz{}, domain.ErrQuizNotFound
		}
		return domain.Quiz{}, fmt.Errorf("load quiz: %w", err)
	}
	return quiz, nil
}

func (l *CatalogLoader) LoadChallenge(ctx context.Context, challengeID string) (domain.Challenge, error) {
	var ch domain.Challenge
	if err := l.load(ctx, `SELECT data FROM challenges WHERE id=$1`, challengeID, &ch); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Challenge{}, domain.ErrChallengeNotFound
		}
		return domain.Challenge{}, fmt.Errorf("load challenge: %w", err)
	}
	return ch, nil
}

func (l *CatalogLoader) load(ctx context.Context, query, id string, out interface{}) error {
	var raw []byte
	if err := l.pool.QueryRow(ctx, query, id).Scan(&raw); err != nil {
		return err
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("unmarshal: %w", err)
	}
	return nil
}

type catalogRow struct {
	ID   string `bun:"id,pk"`
	Data string `bun:"data,type:jsonb,notnull"`
}

// SeedCatalog upserts quizzes and challenges so a fresh database has content.
func SeedCatalog(ctx context.Context, db bun.IDB, quizzes []domain.Quiz, challenges []domain.Challenge) error {
	for _, q := range quizzes {
		if err := upsertCatalogRow(ctx, db, "quizzes", q.ID, q); err != nil {
			return fmt.Errorf("seed quiz %s: %w", q.ID, err)
		}
	}
	for _, c := range challenges {
		if err := upsertCatalogRow(ctx, db, "challenges", c.ID, c); err != nil {
			return fmt.Errorf("seed challenge %s: %w", c.ID, err)
		}
	}
	return nil
}

func upsertCatalogRow(ctx context.Context, db bun.IDB, table, id string, v interface{}) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = db.NewInsert().
		Model(&catalogRow{ID: id, Data: string(raw)}).
		ModelTableExpr(table).
		On("CONFLICT (id) DO UPDATE").
		Set("data = EXCLUDED.data").
		Exec(ctx)
	return err
}
