package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"ecolearn-gamification/internal/domain"
	"github.com/uptrace/bun"
)

type documentRow struct {
	bun.BaseModel `bun:"table:documents,alias:d"`

	Key       string    `bun:"key,pk"`
	Version   int64     `bun:"version,notnull"`
	Data      string    `bun:"data,type:jsonb,notnull"`
	UpdatedAt time.Time `bun:"updated_at,notnull"`
}

// DocumentStore keeps versioned JSON documents in the documents table.
// A write only lands when the stored version still equals the expected one.
type DocumentStore struct {
	db    *bun.DB
	clock func() time.Time
}

func NewDocumentStore(db *bun.DB) *DocumentStore {
	return &DocumentStore{db: db, clock: time.Now}
}

func (s *DocumentStore) Read(ctx context.Context, key string) (domain.Document, error) {
	var row documentRow
	err := s.db.NewSelect().Model(&row).Where("key = ?", key).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Document{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Document{}, domain.StoreError("postgres read", err)
	}
	return row.document(), nil
}

func (s *DocumentStore) ConditionalWrite(ctx context.Context, key string, expectedVersion int64, data []byte) (domain.Document, error) {
	row := documentRow{
		Key:       key,
		Version:   expectedVersion + 1,
		Data:      string(data),
		UpdatedAt: s.clock().UTC(),
	}

	var (
		res sql.Result
		err error
	)
	if expectedVersion == 0 {
		res, err = s.db.NewInsert().Model(&row).On("CONFLICT (key) DO NOTHING").Exec(ctx)
	} else {
		res, err = s.db.NewUpdate().Model(&row).
			Column("version", "data", "updated_at").
			Where("key = ?", key).
			Where("version = ?", expectedVersion).
			Exec(ctx)
	}
	if err != nil {
		return domain.Document{}, domain.StoreError("postgres conditional write", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return domain.Document{}, domain.StoreError("postgres rows affected", err)
	}
	if n == 0 {
		return domain.Document{}, domain.ErrVersionConflict
	}
	return row.document(), nil
}

func (s *DocumentStore) ReadAll(ctx context.Context, prefix string) ([]domain.Document, error) {
	var rows []documentRow
	err := s.db.NewSelect().Model(&rows).
		Where("key LIKE ?", prefix+"%").
		Order("key ASC").
		Scan(ctx)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, domain.StoreError("postgres read all", err)
	}
	docs := make([]domain.Document, 0, len(rows))
	for _, row := range rows {
		docs = append(docs, row.document())
	}
	return docs, nil
}

func (r documentRow) document() domain.Document {
	return domain.Document{Key: r.Key, Version: r.Version, Data: []byte(r.Data)}
}

type counterRow struct {
	bun.BaseModel `bun:"table:counters,alias:c"`

	Key   string `bun:"key,pk"`
	Value int64  `bun:"value,notnull"`
}

// Counter is an upsert-based counter over the counters table.
type Counter struct {
	db *bun.DB
}

func NewCounter(db *bun.DB) *Counter {
	return &Counter{db: db}
}

func (c *Counter) Incr(ctx context.Context, key string, by int64) (int64, error) {
	var value int64
	err := c.db.NewInsert().
		Model(&counterRow{Key: key, Value: by}).
		On("CONFLICT (key) DO UPDATE").
		Set("value = c.value + EXCLUDED.value").
		Returning("value").
		Scan(ctx, &value)
	if err != nil {
		return 0, domain.StoreError("postgres incr", err)
	}
	return value, nil
}

func (c *Counter) Get(ctx context.Context, key string) (int64, error) {
	var value int64
	err := c.db.NewSelect().
		Model((*counterRow)(nil)).
		Column("value").
		Where("key = ?", key).
		Scan(ctx, &value)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, domain.StoreError("postgres get counter", err)
	}
	return value, nil
}
