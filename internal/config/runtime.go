package config

import (
	"fmt"

	"github.com/brightway/pwa-edge/internal/routing"
)

// RoutingOptions 将站点的路由配置转换为 routing.Options；未配置 Route 时使用默认规则表。
func (s SiteConfig) RoutingOptions() (routing.Options, error) {
	opts := routing.Options{ExcludePatterns: s.ExcludePatterns}
	if s.DefaultStrategy != "" {
		strategy, err := routing.ParseStrategy(s.DefaultStrategy)
		if err != nil {
			return routing.Options{}, err
		}
		opts.DefaultStrategy = strategy
	}

	if len(s.Routes) == 0 {
		opts.Rules = routing.DefaultRules()
		return opts, nil
	}

	rules := make([]routing.Rule, 0, len(s.Routes))
	for i, route := range s.Routes {
		kind, err := routing.ParseMatchKind(route.Match)
		if err != nil {
			return routing.Options{}, fmt.Errorf("route %d: %w", i, err)
		}
		strategy, err := routing.ParseStrategy(route.Strategy)
		if err != nil {
			return routing.Options{}, fmt.Errorf("route %d: %w", i, err)
		}
		rules = append(rules, routing.Rule{Kind: kind, Pattern: route.Pattern, Strategy: strategy})
	}
	opts.Rules = rules
	return opts, nil
}
