package notifier

import (
	"context"

	"github.com/brightway/pwa-edge/internal/lifecycle"
)

// RegistrationSource 把进程内的 lifecycle.Registration 适配为 Source 与 Messenger。
type RegistrationSource struct {
	reg *lifecycle.Registration
}

func NewRegistrationSource(reg *lifecycle.Registration) *RegistrationSource {
	return &RegistrationSource{reg: reg}
}

// Watch 先发送当前快照，之后每个生命周期事件都会触发一次新快照。
func (s *RegistrationSource) Watch(ctx context.Context) (<-chan lifecycle.Snapshot, error) {
	events, cancel := s.reg.Subscribe()
	out := make(chan lifecycle.Snapshot, 1)
	go func() {
		defer close(out)
		defer cancel()
		if !send(ctx, out, s.reg.Snapshot()) {
			return
		}
		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-events:
				if !ok {
					return
				}
				if !send(ctx, out, s.reg.Snapshot()) {
					return
				}
			}
		}
	}()
	return out, nil
}

func (s *RegistrationSource) SkipWaiting(ctx context.Context) error {
	_, err := s.reg.SkipWaiting(ctx)
	return err
}

func send(ctx context.Context, out chan<- lifecycle.Snapshot, snap lifecycle.Snapshot) bool {
	select {
	case out <- snap:
		return true
	case <-ctx.Done():
		return false
	}
}
