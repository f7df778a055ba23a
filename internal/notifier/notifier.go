package notifier

import (
	"context"
	"errors"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/brightway/pwa-edge/internal/lifecycle"
)

// Source 持续产出注册句柄的快照，通道关闭即表示结束。
type Source interface {
	Watch(ctx context.Context) (<-chan lifecycle.Snapshot, error)
}

// Messenger 向等待中的 worker 发送 SKIP_WAITING。
type Messenger interface {
	SkipWaiting(ctx context.Context) error
}

// Prompter 展示"有新版本"提示，返回用户是否接受。
type Prompter interface {
	Prompt(ctx context.Context, version string) (bool, error)
}

// Reloader 刷新页面。
type Reloader interface {
	Reload(ctx context.Context, version string) error
}

// PrompterFunc 允许用函数实现 Prompter。
type PrompterFunc func(ctx context.Context, version string) (bool, error)

func (f PrompterFunc) Prompt(ctx context.Context, version string) (bool, error) {
	return f(ctx, version)
}

// ReloaderFunc 允许用函数实现 Reloader。
type ReloaderFunc func(ctx context.Context, version string) error

func (f ReloaderFunc) Reload(ctx context.Context, version string) error {
	return f(ctx, version)
}

// Options 用于构造 Notifier。
type Options struct {
	Source    Source
	Messenger Messenger
	Prompter  Prompter
	Reloader  Reloader
	Logger    *logrus.Logger
}

// Notifier 持有刷新闩锁：每次控制者切换最多刷新一次，闩锁以新控制者版本为键。
type Notifier struct {
	source    Source
	messenger Messenger
	prompter  Prompter
	reloader  Reloader
	logger    *logrus.Logger

	mu          sync.Mutex
	controller  string
	prompted    string
	reloadedFor string
}

func New(opts Options) (*Notifier, error) {
	if opts.Source == nil || opts.Messenger == nil || opts.Reloader == nil {
		return nil, errors.New("notifier requires source, messenger and reloader")
	}
	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	prompter := opts.Prompter
	if prompter == nil {
		prompter = PrompterFunc(func(context.Context, string) (bool, error) { return false, nil })
	}
	return &Notifier{
		source:    opts.Source,
		messenger: opts.Messenger,
		prompter:  prompter,
		reloader:  opts.Reloader,
		logger:    logger,
	}, nil
}

// Run 消费快照直到 ctx 结束或 Source 关闭。
func (n *Notifier) Run(ctx context.Context) error {
	snapshots, err := n.source.Watch(ctx)
	if err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case snap, ok := <-snapshots:
			if !ok {
				return nil
			}
			n.Observe(ctx, snap)
		}
	}
}

// Observe 处理一次快照，Run 之外也可直接调用。
func (n *Notifier) Observe(ctx context.Context, snap lifecycle.Snapshot) {
	if version, ok := n.controllerChanged(snap); ok {
		if err := n.reloader.Reload(ctx, version); err != nil {
			n.logger.WithError(err).WithField("version", version).Warn("notifier_reload_failed")
		} else {
			n.logger.WithField("version", version).Info("notifier_reloaded")
		}
	}

	if version, ok := n.shouldPrompt(snap); ok {
		accepted, err := n.prompter.Prompt(ctx, version)
		if err != nil {
			n.logger.WithError(err).WithField("version", version).Warn("notifier_prompt_failed")
			return
		}
		if !accepted {
			n.logger.WithField("version", version).Info("notifier_update_deferred")
			return
		}
		if err := n.messenger.SkipWaiting(ctx); err != nil {
			n.logger.WithError(err).WithField("version", version).Warn("notifier_skip_waiting_failed")
		}
	}
}

// ReloadedFor 返回最近一次触发刷新的控制者版本。
func (n *Notifier) ReloadedFor() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.reloadedFor
}

// controllerChanged 在控制者从一个版本切换到另一个版本时返回 true，同一版本只返回一次。
// 页面首次被接管（此前无控制者）不触发刷新。
func (n *Notifier) controllerChanged(snap lifecycle.Snapshot) (string, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if snap.Active == "" || snap.Active == n.controller {
		return "", false
	}
	previous := n.controller
	n.controller = snap.Active
	if previous == "" || n.reloadedFor == snap.Active {
		return "", false
	}
	n.reloadedFor = snap.Active
	return snap.Active, true
}

func (n *Notifier) shouldPrompt(snap lifecycle.Snapshot) (string, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if !snap.UpdateReady() || n.prompted == snap.Waiting {
		return "", false
	}
	n.prompted = snap.Waiting
	return snap.Waiting, true
}
