package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/goliatone/go-autoreply/core"
	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// KVStore keeps the key value namespace in the autoreply_kv table.
type KVStore struct {
	db   *bun.DB
	repo repository.Repository[*kvRecord]
	now  func() time.Time
}

func NewKVStore(db *bun.DB) (*KVStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*kvRecord](db, kvHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid kv repository wiring: %w", err)
		}
	}
	return &KVStore{
		db:   db,
		repo: repo,
		now:  func() time.Time { return time.Now().UTC() },
	}, nil
}

func (s *KVStore) Get(ctx context.Context, key string) (string, bool, error) {
	if s == nil || s.repo == nil {
		return "", false, fmt.Errorf("sqlstore: kv store is not configured")
	}
	records, _, err := s.repo.List(ctx,
		repository.SelectBy("storage_key", "=", key),
		repository.SelectPaginate(1, 0),
	)
	if err != nil {
		return "", false, err
	}
	if len(records) == 0 {
		return "", false, nil
	}
	return records[0].Value, true, nil
}

func (s *KVStore) Set(ctx context.Context, key string, value string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: kv store is not configured")
	}
	if key == "" {
		return fmt.Errorf("sqlstore: key is required")
	}
	now := s.now()

	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		record, err := findKVTx(ctx, tx, key)
		if err != nil {
			return err
		}
		if record == nil {
			record = &kvRecord{
				ID:         uuid.NewString(),
				StorageKey: key,
				Value:      value,
				CreatedAt:  now,
				UpdatedAt:  now,
			}
			_, err := tx.NewInsert().Model(record).Exec(ctx)
			return err
		}
		record.Value = value
		record.UpdatedAt = now
		_, err = tx.NewUpdate().
			Model(record).
			Column("value", "updated_at").
			Where("id = ?", record.ID).
			Exec(ctx)
		return err
	})
}

func (s *KVStore) Delete(ctx context.Context, key string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: kv store is not configured")
	}
	_, err := s.db.NewDelete().
		Model((*kvRecord)(nil)).
		Where("storage_key = ?", key).
		Exec(ctx)
	return err
}

// Keys matches the prefix with substr rather than LIKE so that underscores in
// prefixes such as "secure_token_" are literal.
func (s *KVStore) Keys(ctx context.Context, prefix string) ([]string, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("sqlstore: kv store is not configured")
	}
	var keys []string
	query := s.db.NewSelect().
		Model((*kvRecord)(nil)).
		Column("storage_key").
		OrderExpr("?TableAlias.storage_key ASC")
	if prefix != "" {
		query = query.Where("substr(?TableAlias.storage_key, 1, ?) = ?", utf8.RuneCountInString(prefix), prefix)
	}
	if err := query.Scan(ctx, &keys); err != nil {
		return nil, err
	}
	return keys, nil
}

func findKVTx(ctx context.Context, tx bun.Tx, key string) (*kvRecord, error) {
	record := &kvRecord{}
	err := tx.NewSelect().
		Model(record).
		Where("?TableAlias.storage_key = ?", key).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return record, nil
}

var _ core.KeyValueStore = (*KVStore)(nil)
