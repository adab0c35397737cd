package redis

import (
	"context"
	"errors"
	"sort"
	"strconv"

	"ecolearn-gamification/internal/domain"
	"github.com/redis/go-redis/v9"
)

const (
	docNamespace = "doc:"
	fieldVersion = "v"
	fieldData    = "d"
)

// DocumentStore keeps versioned documents in Redis, one hash per document:
//
//	HSET doc:{key} v {version} d {json}
//
// Conditional writes use WATCH/MULTI so a concurrent writer aborts the
// transaction instead of overwriting.
type DocumentStore struct {
	client *redis.Client
}

func NewDocumentStore(client *redis.Client) *DocumentStore {
	return &DocumentStore{client: client}
}

func (s *DocumentStore) Read(ctx context.Context, key string) (domain.Document, error) {
	fields, err := s.client.HGetAll(ctx, docNamespace+key).Result()
	if err != nil {
		return domain.Document{}, domain.StoreError("redis read", err)
	}
	if len(fields) == 0 {
		return domain.Document{}, domain.ErrNotFound
	}
	return decodeDoc(key, fields)
}

func (s *DocumentStore) ConditionalWrite(ctx context.Context, key string, expectedVersion int64, data []byte) (domain.Document, error) {
	rkey := docNamespace + key
	var written domain.Document

	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		current, err := tx.HGet(ctx, rkey, fieldVersion).Int64()
		if errors.Is(err, redis.Nil) {
			current = 0
		} else if err != nil {
			return err
		}
		if current != expectedVersion {
			return domain.ErrVersionConflict
		}

		next := expectedVersion + 1
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, rkey, fieldVersion, next, fieldData, data)
			return nil
		})
		if err != nil {
			return err
		}
		written = domain.Document{Key: key, Version: next, Data: data}
		return nil
	}, rkey)

	switch {
	case err == nil:
		return written, nil
	case errors.Is(err, domain.ErrVersionConflict), errors.Is(err, redis.TxFailedErr):
		return domain.Document{}, domain.ErrVersionConflict
	default:
		return domain.Document{}, domain.StoreError("redis conditional write", err)
	}
}

// ReadAll scans for documents under prefix. The scan is not a snapshot:
// documents written during the scan may or may not be included.
func (s *DocumentStore) ReadAll(ctx context.Context, prefix string) ([]domain.Document, error) {
	var docs []domain.Document
	iter := s.client.Scan(ctx, 0, docNamespace+prefix+"*", 200).Iterator()
	for iter.Next(ctx) {
		rkey := iter.Val()
		fields, err := s.client.HGetAll(ctx, rkey).Result()
		if err != nil {
			return nil, domain.StoreError("redis read all", err)
		}
		if len(fields) == 0 {
			continue
		}
		doc, err := decodeDoc(rkey[len(docNamespace):], fields)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	if err := iter.Err(); err != nil {
		return nil, domain.StoreError("redis scan", err)
	}
	sort.Slice(docs, func(i, j int) bool { return docs[i].Key < docs[j].Key })
	return docs, nil
}

func decodeDoc(key string, fields map[string]string) (domain.Document, error) {
	version, err := strconv.ParseInt(fields[fieldVersion], 10, 64)
	if err != nil {
		return domain.Document{}, domain.StoreError("redis decode version", err)
	}
	return domain.Document{Key: key, Version: version, Data: []byte(fields[fieldData])}, nil
}

// Counter keeps best-effort counters with INCRBY.
type Counter struct {
	client *redis.Client
}

func NewCounter(client *redis.Client) *Counter {
	return &Counter{client: client}
}

func (c *Counter) Incr(ctx context.Context, key string, by int64) (int64, error) {
	v, err := c.client.IncrBy(ctx, "counter:"+key, by).Result()
	if err != nil {
		return 0, domain.StoreError("redis incr", err)
	}
	return v, nil
}

func (c *Counter) Get(ctx context.Context, key string) (int64, error) {
	v, err := c.client.Get(ctx, "counter:"+key).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, domain.StoreError("redis get counter", err)
	}
	return v, nil
}
