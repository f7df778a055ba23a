// Package watch 监听配置文件变化，去抖后回调，用于驱动站点版本更新。
package watch

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
)

// DefaultDebounce 是连续写入事件合并的时间窗。
const DefaultDebounce = 200 * time.Millisecond

// Watcher 监听单个文件。监听的是所在目录，以兼容编辑器"写临时文件再 rename"的保存方式。
type Watcher struct {
	fs       *fsnotify.Watcher
	path     string
	debounce time.Duration
	onChange func()
	logger   *logrus.Logger
}

// New 创建 Watcher，debounce <= 0 时使用 DefaultDebounce。
func New(path string, debounce time.Duration, onChange func(), logger *logrus.Logger) (*Watcher, error) {
	if onChange == nil {
		return nil, errors.New("watch callback required")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve watch path: %w", err)
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsw.Add(filepath.Dir(abs)); err != nil {
		_ = fsw.Close()
		return nil, fmt.Errorf("watch %s: %w", filepath.Dir(abs), err)
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Watcher{fs: fsw, path: abs, debounce: debounce, onChange: onChange, logger: logger}, nil
}

// Run 阻塞直到 ctx 结束，期间每批文件变化只回调一次。
func (w *Watcher) Run(ctx context.Context) {
	defer func() { _ = w.fs.Close() }()

	var (
		mu    sync.Mutex
		timer *time.Timer
	)
	defer func() {
		mu.Lock()
		if timer != nil {
			timer.Stop()
		}
		mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.fs.Events:
			if !ok {
				return
			}
			if event.Op&fsnotify.Chmod != 0 || filepath.Clean(event.Name) != w.path {
				continue
			}
			mu.Lock()
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(w.debounce, func() {
				if ctx.Err() != nil {
					return
				}
				w.logger.WithFields(logrus.Fields{"action": "config_watch", "path": w.path}).Info("config_changed")
				w.onChange()
			})
			mu.Unlock()
		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			w.logger.WithError(err).WithField("path", w.path).Warn("config_watch_error")
		}
	}
}
