package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Duration 提供更灵活的反序列化能力，同时兼容纯秒整数与 Go Duration 字符串。
type Duration time.Duration

// UnmarshalText 使 Viper 可以识别诸如 "30s"、"5m" 或纯数字秒值等配置写法。
func (d *Duration) UnmarshalText(text []byte) error {
	raw := strings.TrimSpace(string(text))
	if raw == "" {
		*d = Duration(0)
		return nil
	}

	if parsed, err := time.ParseDuration(raw); err == nil {
		*d = Duration(parsed)
		return nil
	}

	if intVal, err := strconv.ParseInt(raw, 10, 64); err == nil {
		*d = Duration(time.Duration(intVal) * time.Second)
		return nil
	}

	return fmt.Errorf("invalid duration value: %s", raw)
}

// DurationValue 返回真实的 time.Duration，便于调用方计算。
func (d Duration) DurationValue() time.Duration {
	return time.Duration(d)
}

// StorageDriver 取值。
const (
	StorageDriverBolt = "bolt"
	StorageDriverFile = "file"
)

// LogFormat 取值。
const (
	LogFormatJSON = "json"
	LogFormatText = "text"
)

// SkipWaiting 取值：prompt 需要页面显式发送 SKIP_WAITING，auto 在安装完成后立即接管。
const (
	SkipWaitingPrompt = "prompt"
	SkipWaitingAuto   = "auto"
)

// GlobalConfig 描述全局运行时行为，所有 Site 共享同一份参数。
type GlobalConfig struct {
	ListenPort        int      `mapstructure:"ListenPort"`
	LogLevel          string   `mapstructure:"LogLevel"`
	LogFormat         string   `mapstructure:"LogFormat"`
	LogFilePath       string   `mapstructure:"LogFilePath"`
	LogMaxSize        int      `mapstructure:"LogMaxSize"`
	LogMaxBackups     int      `mapstructure:"LogMaxBackups"`
	LogCompress       bool     `mapstructure:"LogCompress"`
	StoragePath       string   `mapstructure:"StoragePath"`
	StorageDriver     string   `mapstructure:"StorageDriver"`
	CompressThreshold int64    `mapstructure:"CompressThreshold"`
	PrecacheParallel  int      `mapstructure:"PrecacheParallel"`
	UpstreamTimeout   Duration `mapstructure:"UpstreamTimeout"`
	SyncInterval      Duration `mapstructure:"SyncInterval"`
	WatchConfig       bool     `mapstructure:"WatchConfig"`
}

// RouteConfig 对应一条 [[Site.Route]] 路由规则。
type RouteConfig struct {
	Match    string `mapstructure:"Match"`
	Pattern  string `mapstructure:"Pattern"`
	Strategy string `mapstructure:"Strategy"`
}

// SyncConfig 声明一个后台同步队列：Tag 与回放目标路径。
type SyncConfig struct {
	Tag      string `mapstructure:"Tag"`
	Endpoint string `mapstructure:"Endpoint"`
}

// PushConfig 控制推送通知的默认展示字段。
type PushConfig struct {
	Title   string `mapstructure:"Title"`
	Body    string `mapstructure:"Body"`
	Icon    string `mapstructure:"Icon"`
	Badge   string `mapstructure:"Badge"`
	Tag     string `mapstructure:"Tag"`
	Vibrate []int  `mapstructure:"Vibrate"`
}

// SiteConfig 描述一个站点（即一个 worker scope）的缓存版本、预缓存清单与路由表。
type SiteConfig struct {
	Name            string        `mapstructure:"Name"`
	Domain          string        `mapstructure:"Domain"`
	Origin          string        `mapstructure:"Origin"`
	Version         string        `mapstructure:"Version"`
	CachePrefix     string        `mapstructure:"CachePrefix"`
	OfflinePage     string        `mapstructure:"OfflinePage"`
	Precache        []string      `mapstructure:"Precache"`
	DefaultStrategy string        `mapstructure:"DefaultStrategy"`
	SkipWaiting     string        `mapstructure:"SkipWaiting"`
	ExcludePatterns []string      `mapstructure:"ExcludePatterns"`
	Routes          []RouteConfig `mapstructure:"Route"`
	Sync            []SyncConfig  `mapstructure:"Sync"`
	Push            PushConfig    `mapstructure:"Push"`
}

// Config 是 TOML 文件映射的整体结构。
type Config struct {
	Global GlobalConfig `mapstructure:",squash"`
	Sites  []SiteConfig `mapstructure:"Site"`
}

// BucketName 返回当前版本对应的缓存桶名称，例如 brightway-pwa-v1.4。
func (s SiteConfig) BucketName() string {
	return s.CachePrefix + "-" + s.Version
}

// AutoSkipWaiting 表示新版本安装完成后是否无需页面确认直接激活。
func (s SiteConfig) AutoSkipWaiting() bool {
	return s.SkipWaiting == SkipWaitingAuto
}

// SiteVersions 返回所有站点的版本摘要，例如 brightway:v1.4，供日志字段使用。
func SiteVersions(sites []SiteConfig) []string {
	if len(sites) == 0 {
		return nil
	}
	result := make([]string, len(sites))
	for i, site := range sites {
		result[i] = fmt.Sprintf("%s:%s", site.Name, site.Version)
	}
	return result
}

// FindSite 按名称查找站点配置。
func (c *Config) FindSite(name string) (SiteConfig, bool) {
	if c == nil {
		return SiteConfig{}, false
	}
	for _, site := range c.Sites {
		if site.Name == name {
			return site, true
		}
	}
	return SiteConfig{}, false
}
