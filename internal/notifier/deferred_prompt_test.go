package notifier

import (
	"context"
	"errors"
	"testing"
)

type signalFunc func(ctx context.Context) (InstallOutcome, error)

func (f signalFunc) Prompt(ctx context.Context) (InstallOutcome, error) {
	return f(ctx)
}

func TestDeferredPromptTriggersOnce(t *testing.T) {
	var prompt DeferredPrompt
	if prompt.Available() {
		t.Fatalf("nothing captured yet")
	}
	calls := 0
	prompt.Capture(signalFunc(func(context.Context) (InstallOutcome, error) {
		calls++
		return InstallAccepted, nil
	}))
	if !prompt.Available() {
		t.Fatalf("captured signal should be available")
	}

	outcome, err := prompt.Trigger(context.Background())
	if err != nil || outcome != InstallAccepted {
		t.Fatalf("unexpected trigger result %q %v", outcome, err)
	}
	if _, err := prompt.Trigger(context.Background()); !errors.Is(err, ErrNoDeferredPrompt) {
		t.Fatalf("signal must be single use, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("signal prompted %d times", calls)
	}
	if got, ok := prompt.Outcome(); !ok || got != InstallAccepted {
		t.Fatalf("outcome not recorded")
	}
}

func TestDeferredPromptIgnoredAfterInstall(t *testing.T) {
	var prompt DeferredPrompt
	prompt.MarkInstalled()
	prompt.Capture(signalFunc(func(context.Context) (InstallOutcome, error) { return InstallDismissed, nil }))
	if prompt.Available() {
		t.Fatalf("installed app should not offer prompt")
	}
}
