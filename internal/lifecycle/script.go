package lifecycle

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/zeebo/blake3"

	"github.com/brightway/pwa-edge/internal/routing"
)

// Script 描述一个 worker 版本：桶名、预缓存清单、离线页与路由表。
type Script struct {
	Version     string
	Bucket      string
	Precache    []string
	OfflinePage string
	Routing     routing.Options
	// AutoSkipWaiting 为 true 时，安装完成即激活，无需页面发送 SKIP_WAITING。
	AutoSkipWaiting bool
}

// Fingerprint 对脚本内容做摘要。版本不变而内容变化时只记录告警，不会生成新 worker。
func (s Script) Fingerprint() string {
	var b strings.Builder
	fmt.Fprintf(&b, "version=%s\nbucket=%s\noffline=%s\nauto=%t\n", s.Version, s.Bucket, s.OfflinePage, s.AutoSkipWaiting)
	for _, entry := range s.Precache {
		fmt.Fprintf(&b, "precache=%s\n", entry)
	}
	fmt.Fprintf(&b, "default=%s\n", s.Routing.DefaultStrategy)
	for _, rule := range s.Routing.Rules {
		fmt.Fprintf(&b, "rule=%s %s %s\n", rule.Kind, rule.Pattern, rule.Strategy)
	}
	for _, pattern := range s.Routing.ExcludePatterns {
		fmt.Fprintf(&b, "exclude=%s\n", pattern)
	}
	sum := blake3.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:16])
}

func (s Script) validate() error {
	if s.Version == "" {
		return fmt.Errorf("script version required")
	}
	if s.Bucket == "" {
		return fmt.Errorf("script bucket required")
	}
	return nil
}
