package cache

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/zeebo/blake3"
)

const (
	tombstonePrefix = ".trash-"
	tempPrefix      = ".cache-"
)

// NewFileStore 以 basePath 为根目录构建磁盘缓存，布局为 <basePath>/<bucket>/<blake3(key)>。
// 打开时会清扫上次未删干净的 tombstone 目录。
func NewFileStore(basePath string, opts Options) (Store, error) {
	if basePath == "" {
		return nil, errors.New("storage path required")
	}

	abs, err := filepath.Abs(basePath)
	if err != nil {
		return nil, fmt.Errorf("resolve storage path: %w", err)
	}

	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create storage path: %w", err)
	}

	s := &fileStore{
		basePath: abs,
		codec:    codec{compressThreshold: opts.CompressThreshold},
		opts:     opts,
		locks:    make(map[string]*entryLock),
	}
	s.sweepTombstones()
	return s, nil
}

// fileStore 通过 entryLock 避免同一条目并发写入，同时复用 basePath。
type fileStore struct {
	basePath string
	codec    codec
	opts     Options

	mu    sync.Mutex
	locks map[string]*entryLock
}

type entryLock struct {
	mu   sync.Mutex
	refs int
}

func (s *fileStore) Open(ctx context.Context, name string) (Bucket, error) {
	if err := validateBucketName(name); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	dir := filepath.Join(s.basePath, name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("open bucket %s: %w", name, err)
	}
	return &fileBucket{store: s, name: name, dir: dir}, nil
}

func (s *fileStore) Keys(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(s.basePath)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, entry := range entries {
		if !entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)
	return names, nil
}

func (s *fileStore) Inspect(ctx context.Context) ([]BucketInfo, error) {
	names, err := s.Keys(ctx)
	if err != nil {
		return nil, err
	}
	infos := make([]BucketInfo, 0, len(names))
	for _, name := range names {
		bucket := &fileBucket{store: s, name: name, dir: filepath.Join(s.basePath, name)}
		n, err := bucket.Len(ctx)
		if err != nil {
			return nil, err
		}
		infos = append(infos, BucketInfo{Name: name, Entries: n})
	}
	return infos, nil
}

// Delete 先把桶目录 rename 成 tombstone（原子地从 Keys 中摘除），再带重试地删除文件。
func (s *fileStore) Delete(ctx context.Context, name string) (bool, error) {
	if err := validateBucketName(name); err != nil {
		return false, err
	}
	dir := filepath.Join(s.basePath, name)
	tombstone := filepath.Join(s.basePath, tombstonePrefix+name+"-"+uuid.NewString())
	if err := os.Rename(dir, tombstone); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("unlink bucket %s: %w", name, err)
	}
	if err := retry(ctx, s.opts.deleteAttempts(), func() error {
		return os.RemoveAll(tombstone)
	}); err != nil {
		return true, fmt.Errorf("remove bucket %s: %w", name, err)
	}
	return true, nil
}

func (s *fileStore) Close() error {
	return nil
}

func (s *fileStore) sweepTombstones() {
	entries, err := os.ReadDir(s.basePath)
	if err != nil {
		return
	}
	for _, entry := range entries {
		if entry.IsDir() && strings.HasPrefix(entry.Name(), tombstonePrefix) {
			_ = os.RemoveAll(filepath.Join(s.basePath, entry.Name()))
		}
	}
}

func (s *fileStore) lockEntry(key string) func() {
	s.mu.Lock()
	lock := s.locks[key]
	if lock == nil {
		lock = &entryLock{}
		s.locks[key] = lock
	}
	lock.refs++
	s.mu.Unlock()

	lock.mu.Lock()
	return func() {
		lock.mu.Unlock()
		s.mu.Lock()
		lock.refs--
		if lock.refs == 0 {
			delete(s.locks, key)
		}
		s.mu.Unlock()
	}
}

type fileBucket struct {
	store *fileStore
	name  string
	dir   string
}

func (b *fileBucket) Name() string {
	return b.name
}

func (b *fileBucket) entryPath(key Key) string {
	sum := blake3.Sum256([]byte(key.String()))
	return filepath.Join(b.dir, hex.EncodeToString(sum[:]))
}

func (b *fileBucket) Get(ctx context.Context, key Key) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(b.entryPath(key))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return b.store.codec.decode(data)
}

func (b *fileBucket) Put(ctx context.Context, key Key, resp *Response) error {
	if err := checkPut(key, resp); err != nil {
		return err
	}
	data, err := b.store.codec.encode(key, resp)
	if err != nil {
		return err
	}

	filePath := b.entryPath(key)
	unlock := b.store.lockEntry(filePath)
	defer unlock()

	if info, err := os.Stat(b.dir); err != nil || !info.IsDir() {
		return ErrBucketDeleted
	}

	tempFile, err := os.CreateTemp(b.dir, tempPrefix+"*")
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return ErrBucketDeleted
		}
		return err
	}
	tempName := tempFile.Name()

	_, err = copyWithContext(ctx, tempFile, bytes.NewReader(data))
	closeErr := tempFile.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(tempName)
		return err
	}

	if err := os.Rename(tempName, filePath); err != nil {
		os.Remove(tempName)
		if errors.Is(err, fs.ErrNotExist) {
			return ErrBucketDeleted
		}
		return err
	}
	return nil
}

func (b *fileBucket) Len(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	entries, err := os.ReadDir(b.dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, nil
		}
		return 0, err
	}
	count := 0
	for _, entry := range entries {
		if !entry.IsDir() && !strings.HasPrefix(entry.Name(), ".") {
			count++
		}
	}
	return count, nil
}

func copyWithContext(ctx context.Context, dst io.Writer, src io.Reader) (int64, error) {
	var copied int64
	buf := make([]byte, 32*1024)
	for {
		if err := ctx.Err(); err != nil {
			return copied, err
		}
		n, err := src.Read(buf)
		if n > 0 {
			w, wErr := dst.Write(buf[:n])
			copied += int64(w)
			if wErr != nil {
				return copied, wErr
			}
			if w < n {
				return copied, io.ErrShortWrite
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return copied, nil
			}
			return copied, err
		}
	}
}
