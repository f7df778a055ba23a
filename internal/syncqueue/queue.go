// Package syncqueue 持久化离线期间提交失败的表单，并在后台同步时回放到源站。
package syncqueue

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/vmihailenco/msgpack/v5"
	bolt "go.etcd.io/bbolt"

	"github.com/brightway/pwa-edge/internal/logging"
)

const dbFileName = "sync.db"

var (
	// ErrUnknownTag 表示未配置该同步标签。
	ErrUnknownTag = errors.New("unknown sync tag")
	// ErrInvalidPayload 表示入队内容不是合法 JSON。
	ErrInvalidPayload = errors.New("sync payload must be valid JSON")
)

// Item 是一条待回放的请求。
type Item struct {
	ID         string          `msgpack:"id" json:"id"`
	Tag        string          `msgpack:"tag" json:"tag"`
	Payload    json.RawMessage `msgpack:"payload" json:"payload"`
	EnqueuedAt time.Time       `msgpack:"enqueued_at" json:"enqueuedAt"`
	Attempts   int             `msgpack:"attempts" json:"attempts"`
	LastError  string          `msgpack:"last_error,omitempty" json:"lastError,omitempty"`
}

// Result 汇总一次同步。
type Result struct {
	Tag       string `json:"tag"`
	Sent      int    `json:"sent"`
	Failed    int    `json:"failed"`
	Remaining int    `json:"remaining"`
}

// Options 用于打开 Queue。
type Options struct {
	// Dir 为数据库所在目录，通常是 StoragePath/<site>。
	Dir       string
	Site      string
	Origin    *url.URL
	Client    *http.Client
	Endpoints map[string]string
	Logger    *logrus.Logger
}

// Queue 为每个标签维护一个 bolt bucket，键为单调递增序号以保持先进先出。
type Queue struct {
	db        *bolt.DB
	site      string
	origin    *url.URL
	client    *http.Client
	endpoints map[string]string
	logger    *logrus.Logger
}

// Open 打开（或创建）同步队列数据库。
func Open(opts Options) (*Queue, error) {
	if opts.Dir == "" {
		return nil, errors.New("sync queue dir required")
	}
	if opts.Origin == nil {
		return nil, errors.New("sync queue origin required")
	}
	if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create sync dir: %w", err)
	}
	db, err := bolt.Open(filepath.Join(opts.Dir, dbFileName), 0o644, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open sync queue: %w", err)
	}

	endpoints := make(map[string]string, len(opts.Endpoints))
	for tag, endpoint := range opts.Endpoints {
		endpoints[tag] = endpoint
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for tag := range endpoints {
			if _, err := tx.CreateBucketIfNotExists([]byte(tag)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init sync buckets: %w", err)
	}

	client := opts.Client
	if client == nil {
		client = http.DefaultClient
	}
	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Queue{
		db:        db,
		site:      opts.Site,
		origin:    opts.Origin,
		client:    client,
		endpoints: endpoints,
		logger:    logger,
	}, nil
}

func (q *Queue) Close() error {
	return q.db.Close()
}

// Tags 返回已配置的标签（已排序）。
func (q *Queue) Tags() []string {
	tags := make([]string, 0, len(q.endpoints))
	for tag := range q.endpoints {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	return tags
}

// Enqueue 追加一条待回放请求。
func (q *Queue) Enqueue(ctx context.Context, tag string, payload []byte) (Item, error) {
	if _, ok := q.endpoints[tag]; !ok {
		return Item{}, fmt.Errorf("%w: %s", ErrUnknownTag, tag)
	}
	if !json.Valid(payload) {
		return Item{}, ErrInvalidPayload
	}
	if err := ctx.Err(); err != nil {
		return Item{}, err
	}
	item := Item{
		ID:         uuid.NewString(),
		Tag:        tag,
		Payload:    append(json.RawMessage(nil), payload...),
		EnqueuedAt: time.Now().UTC(),
	}
	err := q.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(tag))
		seq, err := bucket.NextSequence()
		if err != nil {
			return err
		}
		data, err := msgpack.Marshal(&item)
		if err != nil {
			return err
		}
		return bucket.Put(sequenceKey(seq), data)
	})
	if err != nil {
		return Item{}, fmt.Errorf("enqueue %s: %w", tag, err)
	}
	return item, nil
}

// Pending 按入队顺序返回标签下的全部请求。
func (q *Queue) Pending(ctx context.Context, tag string) ([]Item, error) {
	entries, err := q.entries(ctx, tag)
	if err != nil {
		return nil, err
	}
	items := make([]Item, len(entries))
	for i, entry := range entries {
		items[i] = entry.item
	}
	return items, nil
}

type entry struct {
	key  []byte
	item Item
}

func (q *Queue) entries(ctx context.Context, tag string) ([]entry, error) {
	if _, ok := q.endpoints[tag]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTag, tag)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var entries []entry
	err := q.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(tag))
		if bucket == nil {
			return nil
		}
		return bucket.ForEach(func(k, v []byte) error {
			var item Item
			if err := msgpack.Unmarshal(v, &item); err != nil {
				return fmt.Errorf("decode sync item: %w", err)
			}
			entries = append(entries, entry{key: append([]byte(nil), k...), item: item})
			return nil
		})
	})
	return entries, err
}

// Sync 依次 POST 标签下的请求：2xx 删除，其余保留并记录错误，等待下次同步。
func (q *Queue) Sync(ctx context.Context, tag string) (Result, error) {
	entries, err := q.entries(ctx, tag)
	if err != nil {
		return Result{Tag: tag}, err
	}
	endpoint := q.resolve(q.endpoints[tag])
	result := Result{Tag: tag}
	for _, e := range entries {
		if ctx.Err() != nil {
			result.Remaining++
			continue
		}
		sendErr := q.send(ctx, endpoint, e.item.Payload)
		if sendErr == nil {
			if err := q.remove(tag, e.key); err != nil {
				return result, err
			}
			result.Sent++
			continue
		}
		result.Failed++
		result.Remaining++
		e.item.Attempts++
		e.item.LastError = sendErr.Error()
		if err := q.update(tag, e.key, e.item); err != nil {
			return result, err
		}
		q.logger.WithFields(logging.SiteFields(q.site, "")).
			WithFields(logrus.Fields{"tag": tag, "item_id": e.item.ID, "attempts": e.item.Attempts}).
			WithError(sendErr).Warn("sync_item_failed")
	}
	q.logger.WithFields(logging.SiteFields(q.site, "")).
		WithFields(logrus.Fields{"tag": tag, "sent": result.Sent, "failed": result.Failed}).
		Info("sync_complete")
	return result, nil
}

// SyncAll 同步全部标签，单个标签失败不影响其余标签。
func (q *Queue) SyncAll(ctx context.Context) []Result {
	var results []Result
	for _, tag := range q.Tags() {
		result, err := q.Sync(ctx, tag)
		if err != nil {
			q.logger.WithFields(logging.SiteFields(q.site, "")).WithField("tag", tag).WithError(err).Warn("sync_failed")
		}
		results = append(results, result)
	}
	return results
}

// Run 按 interval 周期同步，直到 ctx 结束。
func (q *Queue) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			q.SyncAll(ctx)
		}
	}
}

func (q *Queue) send(ctx context.Context, endpoint string, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := q.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("origin status %d", resp.StatusCode)
	}
	return nil
}

func (q *Queue) resolve(endpoint string) string {
	resolved := *q.origin
	resolved.Path = strings.TrimSuffix(resolved.Path, "/") + endpoint
	resolved.RawPath = ""
	resolved.RawQuery = ""
	return resolved.String()
}

func (q *Queue) remove(tag string, key []byte) error {
	return q.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(tag)).Delete(key)
	})
}

func (q *Queue) update(tag string, key []byte, item Item) error {
	data, err := msgpack.Marshal(&item)
	if err != nil {
		return err
	}
	return q.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(tag)).Put(key, data)
	})
}

func sequenceKey(seq uint64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, seq)
	return key
}
