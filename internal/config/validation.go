package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/brightway/pwa-edge/internal/routing"
)

// Validate 针对语义级别做进一步校验，防止非法配置启动服务。
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("配置为空")
	}

	g := c.Global
	if g.ListenPort <= 0 || g.ListenPort > 65535 {
		return newFieldError("Global.ListenPort", "必须在 1-65535")
	}
	switch g.LogFormat {
	case "", LogFormatJSON, LogFormatText:
	default:
		return newFieldError("Global.LogFormat", "仅支持 json/text")
	}
	if g.StoragePath == "" {
		return newFieldError("Global.StoragePath", "不能为空")
	}
	switch g.StorageDriver {
	case StorageDriverBolt, StorageDriverFile:
	default:
		return newFieldError("Global.StorageDriver", "仅支持 bolt/file")
	}
	if g.PrecacheParallel <= 0 {
		return newFieldError("Global.PrecacheParallel", "必须大于 0")
	}
	if g.CompressThreshold < 0 {
		return newFieldError("Global.CompressThreshold", "不能为负数")
	}
	if g.UpstreamTimeout.DurationValue() < 0 {
		return newFieldError("Global.UpstreamTimeout", "不能为负数")
	}
	if g.SyncInterval.DurationValue() < 0 {
		return newFieldError("Global.SyncInterval", "不能为负数")
	}

	if len(c.Sites) == 0 {
		return errors.New("至少需要配置一个 Site")
	}

	seenNames := map[string]struct{}{}
	seenDomains := map[string]string{}
	for i := range c.Sites {
		site := &c.Sites[i]
		if site.Name == "" {
			return newFieldError("Site[].Name", "不能为空")
		}
		if err := validateBucketPart(site.Name); err != nil {
			return fmt.Errorf("%s: %w", siteField(site.Name, "Name"), err)
		}
		if _, exists := seenNames[site.Name]; exists {
			return newFieldError(siteField(site.Name, "Name"), "重复")
		}
		seenNames[site.Name] = struct{}{}

		if err := validateDomain(site.Domain); err != nil {
			return fmt.Errorf("%s: %w", siteField(site.Name, "Domain"), err)
		}
		domain := strings.ToLower(site.Domain)
		if other, exists := seenDomains[domain]; exists {
			return newFieldError(siteField(site.Name, "Domain"), "与 "+other+" 重复")
		}
		seenDomains[domain] = site.Name

		if err := validateUpstream(site.Origin); err != nil {
			return fmt.Errorf("%s: %w", siteField(site.Name, "Origin"), err)
		}
		if site.Version == "" {
			return newFieldError(siteField(site.Name, "Version"), "不能为空")
		}
		if err := validateBucketPart(site.CachePrefix + "-" + site.Version); err != nil {
			return fmt.Errorf("%s: %w", siteField(site.Name, "Version"), err)
		}
		if !strings.HasPrefix(site.OfflinePage, "/") {
			return newFieldError(siteField(site.Name, "OfflinePage"), "必须以 / 开头")
		}
		for _, entry := range site.Precache {
			if !strings.HasPrefix(entry, "/") {
				return newFieldError(siteField(site.Name, "Precache"), fmt.Sprintf("路径必须以 / 开头: %s", entry))
			}
		}

		if site.DefaultStrategy != "" {
			if _, err := routing.ParseStrategy(site.DefaultStrategy); err != nil {
				return fmt.Errorf("%s: %w", siteField(site.Name, "DefaultStrategy"), err)
			}
		}
		switch site.SkipWaiting {
		case SkipWaitingPrompt, SkipWaitingAuto:
		default:
			return newFieldError(siteField(site.Name, "SkipWaiting"), "仅支持 prompt/auto")
		}

		for j, route := range site.Routes {
			field := siteField(site.Name, fmt.Sprintf("Route[%d]", j))
			if _, err := routing.ParseMatchKind(route.Match); err != nil {
				return fmt.Errorf("%s.Match: %w", field, err)
			}
			if strings.TrimSpace(route.Pattern) == "" {
				return newFieldError(field+".Pattern", "不能为空")
			}
			if _, err := routing.ParseStrategy(route.Strategy); err != nil {
				return fmt.Errorf("%s.Strategy: %w", field, err)
			}
		}

		seenTags := map[string]struct{}{}
		for j, queue := range site.Sync {
			field := siteField(site.Name, fmt.Sprintf("Sync[%d]", j))
			if strings.TrimSpace(queue.Tag) == "" {
				return newFieldError(field+".Tag", "不能为空")
			}
			if _, exists := seenTags[queue.Tag]; exists {
				return newFieldError(field+".Tag", "重复")
			}
			seenTags[queue.Tag] = struct{}{}
			if !strings.HasPrefix(queue.Endpoint, "/") {
				return newFieldError(field+".Endpoint", "必须以 / 开头")
			}
		}
	}

	return nil
}

func validateDomain(domain string) error {
	if domain == "" {
		return errors.New("Domain 不能为空")
	}
	if strings.Contains(domain, "/") {
		return errors.New("Domain 不允许包含路径")
	}
	if strings.Contains(domain, " ") {
		return errors.New("Domain 不允许包含空格")
	}
	if strings.HasPrefix(domain, "http") {
		return errors.New("Domain 不应包含协议头")
	}
	return nil
}

func validateUpstream(raw string) error {
	if raw == "" {
		return errors.New("缺少上游地址")
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("仅支持 http/https，上游: %s", raw)
	}
	if parsed.Host == "" {
		return fmt.Errorf("上游缺少 Host: %s", raw)
	}
	return nil
}

// validateBucketPart 保证名称可直接作为桶名或目录名使用。
func validateBucketPart(name string) error {
	if strings.ContainsAny(name, `/\ `) || strings.HasPrefix(name, ".") {
		return fmt.Errorf("包含非法字符: %q", name)
	}
	return nil
}
