package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/brightway/pwa-edge/internal/cache"
	"github.com/brightway/pwa-edge/internal/fetch"
	"github.com/brightway/pwa-edge/internal/logging"
)

var (
	// ErrInstallFailed 表示预缓存清单中有资源无法获取或写入，该版本不会被激活。
	ErrInstallFailed = errors.New("install failed")
	// ErrActivateFailed 表示激活阶段清理旧桶失败，worker 保持等待状态。
	ErrActivateFailed = errors.New("activate failed")
	// ErrNoWaitingWorker 表示 SKIP_WAITING 到达时没有等待中的 worker。
	ErrNoWaitingWorker = errors.New("no waiting worker")
)

const subscriberBuffer = 32

// Options 用于构造 Registration。
type Options struct {
	Site  string
	Scope *url.URL
	Store cache.Store
	// Fetcher 用于安装阶段的预缓存下载。
	Fetcher          fetch.Fetcher
	Logger           *logrus.Logger
	PrecacheParallel int
	Clients          *Clients
}

// Registration 是站点作用域的注册句柄，持有 installing/waiting/active 三个槽位。
type Registration struct {
	site     string
	scope    *url.URL
	store    cache.Store
	fetcher  fetch.Fetcher
	logger   *logrus.Logger
	parallel int
	clients  *Clients

	installMu    sync.Mutex
	transitionMu sync.Mutex
	// bucketMu 串行化安装打开桶与清理删除桶，避免清理删掉刚被占用的桶名。
	bucketMu sync.Mutex

	mu         sync.Mutex
	installing *Worker
	waiting    *Worker
	activating *Worker
	active     *Worker
	subs       map[int]chan Event
	nextSub    int
}

// NewRegistration 创建空注册，需调用 Register 安装首个版本。
func NewRegistration(opts Options) *Registration {
	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	parallel := opts.PrecacheParallel
	if parallel <= 0 {
		parallel = 4
	}
	clients := opts.Clients
	if clients == nil {
		clients = NewClients()
	}
	scope := opts.Scope
	if scope == nil {
		scope = &url.URL{Scheme: "https", Host: opts.Site, Path: "/"}
	}
	return &Registration{
		site:     opts.Site,
		scope:    scope,
		store:    opts.Store,
		fetcher:  opts.Fetcher,
		logger:   logger,
		parallel: parallel,
		clients:  clients,
		subs:     make(map[int]chan Event),
	}
}

func (r *Registration) Site() string {
	return r.site
}

// Scope 返回作用域根地址，缓存键以它为基准构造。
func (r *Registration) Scope() *url.URL {
	return r.scope
}

func (r *Registration) Clients() *Clients {
	return r.clients
}

// Register 在作用域上注册脚本，语义与 Update 相同。
func (r *Registration) Register(ctx context.Context, script Script) (*Worker, error) {
	return r.Update(ctx, script)
}

// Update 安装新版本。桶名（即版本）与最新 worker 一致时不做任何事，版本号是触发重新安装的唯一输入；
// 否则新 worker 完成预缓存后进入等待，没有 active worker 或配置了自动接管时立即激活。
func (r *Registration) Update(ctx context.Context, script Script) (*Worker, error) {
	r.installMu.Lock()
	defer r.installMu.Unlock()

	r.mu.Lock()
	newest := r.waiting
	if newest == nil {
		newest = r.activating
	}
	if newest == nil {
		newest = r.active
	}
	if newest != nil && newest.script.Bucket == script.Bucket {
		r.mu.Unlock()
		if newest.fingerprint != script.Fingerprint() {
			r.log(newest).Warn("worker_script_changed_without_version")
		}
		return newest, nil
	}
	w, err := newWorker(script)
	if err != nil {
		r.mu.Unlock()
		return nil, err
	}
	r.installing = w
	r.mu.Unlock()

	r.publish(Event{Type: EventUpdateFound, Version: w.Version(), State: StateInstalling})
	r.log(w).Info("worker_installing")

	if err := r.install(ctx, w); err != nil {
		r.discard(ctx, w, err)
		return nil, err
	}

	w.setState(StateInstalled)
	r.mu.Lock()
	r.installing = nil
	replaced := r.waiting
	r.waiting = w
	hasActive := r.active != nil || r.activating != nil
	r.mu.Unlock()
	if replaced != nil {
		replaced.setState(StateRedundant)
		r.publish(Event{Type: EventStateChange, Version: replaced.Version(), State: StateRedundant})
	}
	r.publish(Event{Type: EventStateChange, Version: w.Version(), State: StateInstalled})
	r.log(w).Info("worker_installed")

	if !hasActive || script.AutoSkipWaiting {
		// 并发的 SKIP_WAITING 可能已经激活了 w。
		if err := r.activate(ctx, w); err != nil && !errors.Is(err, ErrNoWaitingWorker) {
			return w, err
		}
	}
	return w, nil
}

// SkipWaiting 激活等待中的 worker，对应页面发送的 SKIP_WAITING 消息。
func (r *Registration) SkipWaiting(ctx context.Context) (*Worker, error) {
	r.mu.Lock()
	w := r.waiting
	r.mu.Unlock()
	if w == nil {
		return nil, ErrNoWaitingWorker
	}
	if err := r.activate(ctx, w); err != nil {
		return nil, err
	}
	return w, nil
}

// Controller 返回当前控制作用域的 worker，尚无 active 版本时为 nil。
func (r *Registration) Controller() *Worker {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active
}

// Snapshot 返回三个槽位的版本号。
func (r *Registration) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	var snap Snapshot
	if r.installing != nil {
		snap.Installing = r.installing.Version()
	}
	if r.waiting != nil {
		snap.Waiting = r.waiting.Version()
	}
	if r.active != nil {
		snap.Active = r.active.Version()
	}
	return snap
}

// Subscribe 返回事件通道与取消函数。订阅者消费过慢时事件会被丢弃。
func (r *Registration) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, subscriberBuffer)
	r.mu.Lock()
	id := r.nextSub
	r.nextSub++
	r.subs[id] = ch
	r.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			r.mu.Lock()
			delete(r.subs, id)
			r.mu.Unlock()
			close(ch)
		})
	}
}

func (r *Registration) publish(evt Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ch := range r.subs {
		select {
		case ch <- evt:
		default:
			r.logger.WithFields(logging.SiteFields(r.site, evt.Version)).
				WithField("event", evt.Type).
				Warn("lifecycle_event_dropped")
		}
	}
}

// install 并发下载预缓存清单并写入新桶，任一资源失败即整体失败。
func (r *Registration) install(ctx context.Context, w *Worker) error {
	r.bucketMu.Lock()
	bucket, err := r.store.Open(ctx, w.script.Bucket)
	r.bucketMu.Unlock()
	if err != nil {
		return fmt.Errorf("%w: open bucket %s: %v", ErrInstallFailed, w.script.Bucket, err)
	}
	w.setBucket(bucket)

	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(r.parallel)
	for _, entry := range dedupe(w.script.Precache) {
		path := entry
		eg.Go(func() error {
			return r.precache(egCtx, bucket, path)
		})
	}
	return eg.Wait()
}

func (r *Registration) precache(ctx context.Context, bucket cache.Bucket, path string) error {
	target, err := url.Parse(path)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInstallFailed, path, err)
	}
	req := fetch.NewRequest(r.scope.ResolveReference(target))
	resp, err := r.fetcher.Fetch(ctx, req)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInstallFailed, path, err)
	}
	if !resp.Cacheable() {
		return fmt.Errorf("%w: %s: status %d", ErrInstallFailed, path, resp.Status)
	}
	if err := bucket.Put(ctx, req.Key(), resp); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInstallFailed, path, err)
	}
	return nil
}

// discard 处理安装失败：worker 变为 redundant，未被其他 worker 使用的半成品桶被删除。
func (r *Registration) discard(ctx context.Context, w *Worker, cause error) {
	r.mu.Lock()
	r.installing = nil
	shared := usedBy(w.script.Bucket, r.active, r.activating, r.waiting)
	r.mu.Unlock()

	w.setState(StateRedundant)
	if !shared {
		if _, err := r.store.Delete(context.WithoutCancel(ctx), w.script.Bucket); err != nil {
			r.log(w).WithError(err).Warn("partial_bucket_cleanup_failed")
		}
	}
	r.publish(Event{Type: EventInstallError, Version: w.Version(), State: StateRedundant, Error: cause.Error()})
	r.log(w).WithError(cause).Error("worker_install_failed")
}

// activate 删除当前版本以外的所有桶，完成后才切换控制者并接管页面。
// w 必须仍是等待中的 worker，否则返回 ErrNoWaitingWorker。
func (r *Registration) activate(ctx context.Context, w *Worker) error {
	r.transitionMu.Lock()
	defer r.transitionMu.Unlock()

	r.mu.Lock()
	if r.waiting != w || w.State() != StateInstalled {
		r.mu.Unlock()
		return ErrNoWaitingWorker
	}
	// 移出等待槽，之后的 Update 不会再把它当作被替换的等待者。
	r.waiting = nil
	r.activating = w
	w.setState(StateActivating)
	r.mu.Unlock()
	r.publish(Event{Type: EventStateChange, Version: w.Version(), State: StateActivating})

	if err := r.cleanup(ctx); err != nil {
		r.mu.Lock()
		r.activating = nil
		restored := r.waiting == nil
		if restored {
			r.waiting = w
			w.setState(StateInstalled)
		} else {
			w.setState(StateRedundant)
		}
		r.mu.Unlock()
		r.log(w).WithError(err).Error("worker_activate_failed")
		return fmt.Errorf("%w: %v", ErrActivateFailed, err)
	}

	r.mu.Lock()
	previous := r.active
	r.active = w
	r.activating = nil
	r.mu.Unlock()

	if previous != nil && previous != w {
		previous.setState(StateRedundant)
		r.publish(Event{Type: EventStateChange, Version: previous.Version(), State: StateRedundant})
	}
	w.setState(StateActive)
	r.publish(Event{Type: EventStateChange, Version: w.Version(), State: StateActive})

	claimed := r.clients.Claim(w.Version())
	r.publish(Event{Type: EventControllerChange, Version: w.Version(), State: StateActive})
	r.log(w).WithField("claimed_clients", claimed).Info("worker_activated")
	return nil
}

// cleanup 删除所有不被 installing/waiting/activating 占用的桶。
// 每个桶在 bucketMu 下重新判断占用后再删除，与并发安装打开桶互斥。
func (r *Registration) cleanup(ctx context.Context) error {
	names, err := r.store.Keys(ctx)
	if err != nil {
		return fmt.Errorf("list buckets: %w", err)
	}
	for _, name := range names {
		deleted, err := r.deleteUnused(ctx, name)
		if err != nil {
			return err
		}
		if deleted {
			r.logger.WithFields(logging.SiteFields(r.site, "")).WithField("bucket", name).Info("stale_bucket_deleted")
		}
	}
	return nil
}

func (r *Registration) deleteUnused(ctx context.Context, name string) (bool, error) {
	r.bucketMu.Lock()
	defer r.bucketMu.Unlock()
	r.mu.Lock()
	inUse := usedBy(name, r.installing, r.waiting, r.activating)
	r.mu.Unlock()
	if inUse {
		return false, nil
	}
	return r.store.Delete(ctx, name)
}

func usedBy(bucket string, workers ...*Worker) bool {
	for _, w := range workers {
		if w != nil && w.script.Bucket == bucket {
			return true
		}
	}
	return false
}

func (r *Registration) log(w *Worker) *logrus.Entry {
	return r.logger.WithFields(logging.SiteFields(r.site, w.Version())).WithField("worker_id", w.ID())
}

func dedupe(entries []string) []string {
	seen := make(map[string]struct{}, len(entries))
	result := make([]string, 0, len(entries))
	for _, entry := range entries {
		if _, ok := seen[entry]; ok {
			continue
		}
		seen[entry] = struct{}{}
		result = append(result, entry)
	}
	return result
}
