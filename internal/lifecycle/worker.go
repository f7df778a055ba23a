package lifecycle

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/brightway/pwa-edge/internal/cache"
	"github.com/brightway/pwa-edge/internal/routing"
)

// Worker 是某个脚本版本的运行实例。
type Worker struct {
	id          string
	script      Script
	fingerprint string
	router      *routing.Router
	createdAt   time.Time

	mu     sync.RWMutex
	state  State
	bucket cache.Bucket
}

func newWorker(script Script) (*Worker, error) {
	if err := script.validate(); err != nil {
		return nil, err
	}
	router, err := routing.NewRouter(script.Routing)
	if err != nil {
		return nil, err
	}
	return &Worker{
		id:          uuid.NewString(),
		script:      script,
		fingerprint: script.Fingerprint(),
		router:      router,
		createdAt:   time.Now(),
		state:       StateInstalling,
	}, nil
}

func (w *Worker) ID() string {
	return w.id
}

func (w *Worker) Version() string {
	return w.script.Version
}

func (w *Worker) Script() Script {
	return w.script
}

// Router 返回该版本的路由器，请求在处理期间始终使用同一个 worker 的路由与桶。
func (w *Worker) Router() *routing.Router {
	return w.router
}

func (w *Worker) State() State {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.state
}

// Bucket 返回安装阶段打开的缓存桶，安装前为 nil。
func (w *Worker) Bucket() cache.Bucket {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.bucket
}

func (w *Worker) setState(state State) {
	w.mu.Lock()
	w.state = state
	w.mu.Unlock()
}

func (w *Worker) setBucket(bucket cache.Bucket) {
	w.mu.Lock()
	w.bucket = bucket
	w.mu.Unlock()
}
