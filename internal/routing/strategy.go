package routing

import (
	"fmt"
	"strings"
)

// Strategy 是封闭的缓存策略枚举，每个请求仅解析一次。
type Strategy int

const (
	CacheFirst Strategy = iota + 1
	NetworkFirst
	StaleWhileRevalidate
)

var strategyNames = map[Strategy]string{
	CacheFirst:           "cache-first",
	NetworkFirst:         "network-first",
	StaleWhileRevalidate: "stale-while-revalidate",
}

func (s Strategy) String() string {
	if name, ok := strategyNames[s]; ok {
		return name
	}
	return fmt.Sprintf("strategy(%d)", int(s))
}

// Valid reports whether s is one of the known strategies.
func (s Strategy) Valid() bool {
	_, ok := strategyNames[s]
	return ok
}

// ParseStrategy 将配置中的策略名解析为枚举值，大小写不敏感。
func ParseStrategy(raw string) (Strategy, error) {
	normalized := strings.ToLower(strings.TrimSpace(raw))
	for s, name := range strategyNames {
		if name == normalized {
			return s, nil
		}
	}
	return 0, fmt.Errorf("unknown strategy %q", raw)
}

// MatchKind 描述路由规则的匹配方式。
type MatchKind int

const (
	MatchPrefix MatchKind = iota + 1
	MatchSuffix
	MatchOrigin
)

var matchNames = map[MatchKind]string{
	MatchPrefix: "prefix",
	MatchSuffix: "suffix",
	MatchOrigin: "origin",
}

func (k MatchKind) String() string {
	if name, ok := matchNames[k]; ok {
		return name
	}
	return fmt.Sprintf("match(%d)", int(k))
}

// ParseMatchKind 解析 prefix/suffix/origin。
func ParseMatchKind(raw string) (MatchKind, error) {
	normalized := strings.ToLower(strings.TrimSpace(raw))
	for k, name := range matchNames {
		if name == normalized {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown match kind %q", raw)
}
