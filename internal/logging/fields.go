package logging

import "github.com/sirupsen/logrus"

// BaseFields 构建 action + 配置路径等基础字段，便于不同入口复用。
func BaseFields(action, configPath string) logrus.Fields {
	return logrus.Fields{
		"action":     action,
		"configPath": configPath,
	}
}

// SiteFields 标识站点与其 worker 版本，lifecycle/push/sync 日志共用。
func SiteFields(site, version string) logrus.Fields {
	return logrus.Fields{
		"site":    site,
		"version": version,
	}
}

// RequestFields 提供站点、策略与缓存来源字段，供代理请求日志复用。
func RequestFields(site, domain, version, strategy, source string, navigate bool) logrus.Fields {
	return logrus.Fields{
		"site":         site,
		"domain":       domain,
		"version":      version,
		"strategy":     strategy,
		"cache_source": source,
		"cache_hit":    source == "cache",
		"navigate":     navigate,
	}
}
