package cache

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Store 管理一个站点的全部缓存桶。桶名内嵌版本号，任意时刻只有一个是 current。
type Store interface {
	// Open 打开或创建指定名称的桶。
	Open(ctx context.Context, name string) (Bucket, error)

	// Keys 返回当前存在的全部桶名（已排序）。
	Keys(ctx context.Context) ([]string, error)

	// Inspect 只读地列出全部桶及条目数，不会创建任何桶。
	Inspect(ctx context.Context) ([]BucketInfo, error)

	// Delete 以整体为单位删除桶；桶不存在时返回 false。
	Delete(ctx context.Context, name string) (bool, error)

	Close() error
}

// BucketInfo 是桶的只读摘要。
type BucketInfo struct {
	Name    string `json:"name"`
	Entries int    `json:"entries"`
}

// Bucket 是一个版本化桶的句柄。桶被删除后，Get 视为未命中，Put 返回 ErrBucketDeleted，
// 保证旧句柄无法复活已淘汰的桶。
type Bucket interface {
	Name() string

	// Get 返回缓存的响应快照，不存在时返回 ErrNotFound。
	Get(ctx context.Context, key Key) (*Response, error)

	// Put 覆盖写入 key 对应的响应，重复写入同一 key 不会产生重复条目。
	Put(ctx context.Context, key Key, resp *Response) error

	// Len 返回桶内条目数量。
	Len(ctx context.Context) (int, error)
}

var (
	// ErrNotFound 表示缓存不存在。
	ErrNotFound = errors.New("cache entry not found")
	// ErrBucketDeleted 表示句柄指向的桶已被清理。
	ErrBucketDeleted = errors.New("cache bucket deleted")
	// ErrNotCacheable 表示请求或响应不满足入缓存条件（非 GET、非 200、重定向或不透明响应）。
	ErrNotCacheable = errors.New("response not cacheable")
	// ErrInvalidBucketName 表示桶名为空或包含路径分隔符。
	ErrInvalidBucketName = errors.New("invalid bucket name")
)

// Key 是请求的规范化身份：方法 + URL，不包含 header 与 cookie。
type Key struct {
	Method string
	URL    string
}

// NewKey 规范化 URL：scheme/host 小写、去掉 fragment 与 userinfo，保留 query。
func NewKey(method string, u *url.URL) Key {
	if u == nil {
		return Key{Method: strings.ToUpper(method)}
	}
	normalized := *u
	normalized.Scheme = strings.ToLower(normalized.Scheme)
	normalized.Host = strings.ToLower(normalized.Host)
	normalized.Fragment = ""
	normalized.RawFragment = ""
	normalized.User = nil
	if normalized.Path == "" {
		normalized.Path = "/"
	}
	return Key{Method: strings.ToUpper(method), URL: normalized.String()}
}

func (k Key) String() string {
	return k.Method + " " + k.URL
}

// Validate 只接受 GET 请求。
func (k Key) Validate() error {
	if k.Method != http.MethodGet {
		return fmt.Errorf("%w: method %s", ErrNotCacheable, k.Method)
	}
	if k.URL == "" {
		return errors.New("cache key url required")
	}
	return nil
}

// Response 是一次成功响应的不可变快照。
type Response struct {
	Status     int
	Header     http.Header
	Body       []byte
	URL        string
	Redirected bool
	// Opaque 表示跨域且不可读的响应，永不入缓存。
	Opaque   bool
	StoredAt time.Time
}

// Cacheable 仅允许状态码 200、未重定向且可读的响应入缓存。
func (r *Response) Cacheable() bool {
	return r != nil && r.Status == http.StatusOK && !r.Redirected && !r.Opaque
}

// Clone 深拷贝响应，写入缓存与返回调用方的副本互不影响。
func (r *Response) Clone() *Response {
	if r == nil {
		return nil
	}
	cloned := *r
	cloned.Header = r.Header.Clone()
	cloned.Body = append([]byte(nil), r.Body...)
	return &cloned
}

func validateBucketName(name string) error {
	if strings.TrimSpace(name) == "" || strings.ContainsAny(name, `/\`) || strings.HasPrefix(name, ".") {
		return fmt.Errorf("%w: %q", ErrInvalidBucketName, name)
	}
	return nil
}

func checkPut(key Key, resp *Response) error {
	if err := key.Validate(); err != nil {
		return err
	}
	if !resp.Cacheable() {
		return ErrNotCacheable
	}
	return nil
}
