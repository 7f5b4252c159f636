package sqlstore

import (
	"fmt"
	"strings"
	"time"

	repository "github.com/goliatone/go-repository-bun"
	repositorycache "github.com/goliatone/go-repository-cache/cache"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// kvRecord is one row of autoreply_kv: a storage key and its JSON value.
type kvRecord struct {
	bun.BaseModel `bun:"table:autoreply_kv,alias:akv"`

	ID         string    `bun:"id,pk"`
	StorageKey string    `bun:"storage_key,notnull"`
	Value      string    `bun:"value,notnull"`
	CreatedAt  time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt  time.Time `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

// kvHandlers identifies records by storage_key; ids are generated uuids.
func kvHandlers() repository.ModelHandlers[*kvRecord] {
	return repository.ModelHandlers[*kvRecord]{
		NewRecord: func() *kvRecord { return &kvRecord{} },
		GetID: func(record *kvRecord) uuid.UUID {
			if record == nil {
				return uuid.Nil
			}
			id, err := uuid.Parse(strings.TrimSpace(record.ID))
			if err != nil {
				return uuid.Nil
			}
			return id
		},
		SetID: func(record *kvRecord, id uuid.UUID) {
			if record != nil {
				record.ID = id.String()
			}
		},
		GetIdentifier: func() string { return "storage_key" },
		GetIdentifierValue: func(record *kvRecord) string {
			if record == nil {
				return ""
			}
			return strings.TrimSpace(record.StorageKey)
		},
	}
}

// Stores is the SQL persistence built on one bun handle.
type Stores struct {
	db *bun.DB
	kv *KVStore
}

// Open accepts a *bun.DB or anything exposing DB() *bun.DB, such as a
// go-persistence-bun client.
func Open(client any) (*Stores, error) {
	db, err := resolveBunDB(client)
	if err != nil {
		return nil, err
	}
	kv, err := NewKVStore(db)
	if err != nil {
		return nil, err
	}
	return &Stores{db: db, kv: kv}, nil
}

func (s *Stores) DB() *bun.DB {
	if s == nil {
		return nil
	}
	return s.db
}

func (s *Stores) KV() *KVStore {
	if s == nil {
		return nil
	}
	return s.kv
}

// CachedKV wraps the KV table with a read-through cache.
func (s *Stores) CachedKV(cacheService repositorycache.CacheService) (*CachedKVStore, error) {
	if s == nil || s.kv == nil {
		return nil, fmt.Errorf("sqlstore: stores are not open")
	}
	return NewCachedKVStore(s.kv, cacheService)
}

func resolveBunDB(candidate any) (*bun.DB, error) {
	switch typed := candidate.(type) {
	case nil:
		return nil, fmt.Errorf("sqlstore: database handle is required")
	case *bun.DB:
		if typed == nil {
			return nil, fmt.Errorf("sqlstore: database handle is required")
		}
		return typed, nil
	case interface{ DB() *bun.DB }:
		db := typed.DB()
		if db == nil {
			return nil, fmt.Errorf("sqlstore: persistence client returned nil bun db")
		}
		return db, nil
	default:
		return nil, fmt.Errorf("sqlstore: unsupported database handle %T", candidate)
	}
}
