package cache

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	bolt "go.etcd.io/bbolt"
)

const boltFileName = "cache.db"

// boltStore 将每个缓存桶映射为一个顶层 bolt bucket，删除在单个事务内完成。
type boltStore struct {
	db    *bolt.DB
	codec codec
	opts  Options
}

// NewBoltStore 在 basePath 下打开（或创建）cache.db。
func NewBoltStore(basePath string, opts Options) (Store, error) {
	if basePath == "" {
		return nil, errors.New("storage path required")
	}
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("create storage path: %w", err)
	}

	db, err := bolt.Open(filepath.Join(basePath, boltFileName), 0o644, &bolt.Options{
		Timeout:      5 * time.Second,
		FreelistType: bolt.FreelistArrayType,
	})
	if err != nil {
		return nil, fmt.Errorf("open bolt cache: %w", err)
	}

	return &boltStore{
		db:    db,
		codec: codec{compressThreshold: opts.CompressThreshold},
		opts:  opts,
	}, nil
}

func (s *boltStore) Open(ctx context.Context, name string) (Bucket, error) {
	if err := validateBucketName(name); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	err := s.db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(name))
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("open bucket %s: %w", name, err)
	}
	return &boltBucket{store: s, name: name}, nil
}

func (s *boltStore) Keys(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var names []string
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.ForEach(func(name []byte, _ *bolt.Bucket) error {
			names = append(names, string(name))
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(names)
	return names, nil
}

func (s *boltStore) Inspect(ctx context.Context) ([]BucketInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var infos []BucketInfo
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.ForEach(func(name []byte, bucket *bolt.Bucket) error {
			infos = append(infos, BucketInfo{Name: string(name), Entries: bucket.Stats().KeyN})
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos, nil
}

func (s *boltStore) Delete(ctx context.Context, name string) (bool, error) {
	if err := validateBucketName(name); err != nil {
		return false, err
	}
	var existed bool
	err := retry(ctx, s.opts.deleteAttempts(), func() error {
		return s.db.Update(func(tx *bolt.Tx) error {
			if tx.Bucket([]byte(name)) == nil {
				existed = false
				return nil
			}
			existed = true
			return tx.DeleteBucket([]byte(name))
		})
	})
	if err != nil {
		return false, fmt.Errorf("delete bucket %s: %w", name, err)
	}
	return existed, nil
}

func (s *boltStore) Close() error {
	return s.db.Close()
}

type boltBucket struct {
	store *boltStore
	name  string
}

func (b *boltBucket) Name() string {
	return b.name
}

func (b *boltBucket) Get(ctx context.Context, key Key) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var data []byte
	err := b.store.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(b.name))
		if bucket == nil {
			return nil
		}
		if raw := bucket.Get([]byte(key.String())); raw != nil {
			data = append([]byte(nil), raw...)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if data == nil {
		return nil, ErrNotFound
	}
	return b.store.codec.decode(data)
}

func (b *boltBucket) Put(ctx context.Context, key Key, resp *Response) error {
	if err := checkPut(key, resp); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := b.store.codec.encode(key, resp)
	if err != nil {
		return err
	}
	return b.store.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(b.name))
		if bucket == nil {
			return ErrBucketDeleted
		}
		return bucket.Put([]byte(key.String()), data)
	})
}

func (b *boltBucket) Len(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	count := 0
	err := b.store.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(b.name))
		if bucket == nil {
			return nil
		}
		count = bucket.Stats().KeyN
		return nil
	})
	return count, err
}
