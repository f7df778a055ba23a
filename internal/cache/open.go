package cache

import (
	"context"
	"fmt"
	"time"
)

// Options 控制存储驱动的可选行为。
type Options struct {
	// CompressThreshold 为正文压缩阈值（字节），<=0 表示不压缩。
	CompressThreshold int64
	// DeleteAttempts 为删除桶的最大尝试次数，默认 3。
	DeleteAttempts int
}

func (o Options) deleteAttempts() int {
	if o.DeleteAttempts <= 0 {
		return 3
	}
	return o.DeleteAttempts
}

// NewStore 根据 driver 构建站点级缓存，basePath 通常为 StoragePath/<site>。
func NewStore(driver, basePath string, opts Options) (Store, error) {
	switch driver {
	case "", "bolt":
		return NewBoltStore(basePath, opts)
	case "file":
		return NewFileStore(basePath, opts)
	default:
		return nil, fmt.Errorf("unsupported storage driver %q", driver)
	}
}

// retry 以线性退避重复执行 fn，直到成功、尝试耗尽或 ctx 结束。
func retry(ctx context.Context, attempts int, fn func() error) error {
	var err error
	for i := 0; i < attempts; i++ {
		if err = fn(); err == nil {
			return nil
		}
		if i == attempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(i+1) * 20 * time.Millisecond):
		}
	}
	return err
}
