package notifier

import (
	"context"
	"errors"
	"sync"
)

// InstallOutcome 是用户对安装提示的选择。
type InstallOutcome string

const (
	InstallAccepted  InstallOutcome = "accepted"
	InstallDismissed InstallOutcome = "dismissed"
)

// ErrNoDeferredPrompt 表示尚未捕获安装信号或信号已被使用。
var ErrNoDeferredPrompt = errors.New("no deferred install prompt")

// InstallSignal 是浏览器"可安装"信号，只能触发一次。
type InstallSignal interface {
	Prompt(ctx context.Context) (InstallOutcome, error)
}

// DeferredPrompt 暂存安装信号，等待用户显式操作后再触发。结果只做记录，不做强制。
type DeferredPrompt struct {
	mu        sync.Mutex
	signal    InstallSignal
	outcome   InstallOutcome
	installed bool
}

// Capture 暂存信号，新信号覆盖旧信号。
func (p *DeferredPrompt) Capture(signal InstallSignal) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.installed {
		return
	}
	p.signal = signal
}

// Available 表示是否可以展示安装入口。
func (p *DeferredPrompt) Available() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.signal != nil && !p.installed
}

// Trigger 在用户操作后触发一次暂存的信号，之后信号即被清空。
func (p *DeferredPrompt) Trigger(ctx context.Context) (InstallOutcome, error) {
	p.mu.Lock()
	signal := p.signal
	p.signal = nil
	p.mu.Unlock()
	if signal == nil {
		return "", ErrNoDeferredPrompt
	}

	outcome, err := signal.Prompt(ctx)
	if err != nil {
		return "", err
	}
	p.mu.Lock()
	p.outcome = outcome
	p.mu.Unlock()
	return outcome, nil
}

// Outcome 返回最近一次触发的结果。
func (p *DeferredPrompt) Outcome() (InstallOutcome, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.outcome, p.outcome != ""
}

// MarkInstalled 记录应用已安装，之后不再接受新的信号。
func (p *DeferredPrompt) MarkInstalled() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.installed = true
	p.signal = nil
}
