package config

import (
	"fmt"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

const defaultOfflinePage = "/offline.html"

// Load 读取并解析 TOML 配置文件，同时注入默认值与校验逻辑。
func Load(path string) (*Config, error) {
	if path == "" {
		path = "config.toml"
	}

	v := viper.New()
	v.SetConfigFile(path)
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("读取配置失败: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(durationDecodeHook())); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	applyGlobalDefaults(&cfg.Global)
	for i := range cfg.Sites {
		applySiteDefaults(&cfg.Sites[i])
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	absStorage, err := filepath.Abs(cfg.Global.StoragePath)
	if err != nil {
		return nil, fmt.Errorf("无法解析缓存目录: %w", err)
	}
	cfg.Global.StoragePath = absStorage

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ListenPort", 5000)
	v.SetDefault("LogLevel", "info")
	v.SetDefault("LogFormat", LogFormatJSON)
	v.SetDefault("LogFilePath", "")
	v.SetDefault("LogMaxSize", 100)
	v.SetDefault("LogMaxBackups", 10)
	v.SetDefault("LogCompress", true)
	v.SetDefault("StoragePath", "./storage")
	v.SetDefault("StorageDriver", StorageDriverBolt)
	v.SetDefault("CompressThreshold", 8*1024)
	v.SetDefault("PrecacheParallel", 4)
	v.SetDefault("UpstreamTimeout", "0s")
	v.SetDefault("SyncInterval", "5m")
	v.SetDefault("WatchConfig", true)
}

func applyGlobalDefaults(g *GlobalConfig) {
	if g.ListenPort == 0 {
		g.ListenPort = 5000
	}
	g.LogFormat = strings.ToLower(strings.TrimSpace(g.LogFormat))
	if g.LogFormat == "" {
		g.LogFormat = LogFormatJSON
	}
	if strings.TrimSpace(g.StorageDriver) == "" {
		g.StorageDriver = StorageDriverBolt
	}
	g.StorageDriver = strings.ToLower(strings.TrimSpace(g.StorageDriver))
	if g.PrecacheParallel <= 0 {
		g.PrecacheParallel = 4
	}
	if g.SyncInterval.DurationValue() == 0 {
		g.SyncInterval = Duration(5 * time.Minute)
	}
}

func applySiteDefaults(s *SiteConfig) {
	s.Name = strings.TrimSpace(s.Name)
	s.Version = strings.TrimSpace(s.Version)
	if strings.TrimSpace(s.CachePrefix) == "" {
		s.CachePrefix = s.Name
	}
	if strings.TrimSpace(s.OfflinePage) == "" {
		s.OfflinePage = defaultOfflinePage
	}
	if len(s.Precache) == 0 {
		s.Precache = []string{"/"}
	}
	s.Precache = ensureOfflinePage(s.Precache, s.OfflinePage)
	if mode := strings.ToLower(strings.TrimSpace(s.SkipWaiting)); mode != "" {
		s.SkipWaiting = mode
	} else {
		s.SkipWaiting = SkipWaitingPrompt
	}
	s.DefaultStrategy = strings.ToLower(strings.TrimSpace(s.DefaultStrategy))
	for i := range s.Routes {
		s.Routes[i].Match = strings.ToLower(strings.TrimSpace(s.Routes[i].Match))
		s.Routes[i].Strategy = strings.ToLower(strings.TrimSpace(s.Routes[i].Strategy))
	}
	applyPushDefaults(&s.Push)
}

// ensureOfflinePage 保证离线页总在预缓存清单中，且保持原有顺序。
func ensureOfflinePage(precache []string, offline string) []string {
	for _, p := range precache {
		if p == offline {
			return precache
		}
	}
	return append(append([]string(nil), precache...), offline)
}

func applyPushDefaults(p *PushConfig) {
	if p.Title == "" {
		p.Title = "BrightWay Notification"
	}
	if p.Body == "" {
		p.Body = "You have a new update or service alert."
	}
	if p.Icon == "" {
		p.Icon = "/android/android-launchericon-192-192.png"
	}
	if p.Badge == "" {
		p.Badge = "/ios/48.png"
	}
	if p.Tag == "" {
		p.Tag = "brightway-notification"
	}
	if len(p.Vibrate) == 0 {
		p.Vibrate = []int{200, 100, 200}
	}
}

func durationDecodeHook() mapstructure.DecodeHookFunc {
	targetType := reflect.TypeOf(Duration(0))

	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != targetType {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			if v == "" {
				return Duration(0), nil
			}
			if parsed, err := time.ParseDuration(v); err == nil {
				return Duration(parsed), nil
			}
			if seconds, err := strconv.ParseFloat(v, 64); err == nil {
				return Duration(time.Duration(seconds * float64(time.Second))), nil
			}
			return nil, fmt.Errorf("无法解析 Duration 字段: %s", v)
		case int:
			return Duration(time.Duration(v) * time.Second), nil
		case int64:
			return Duration(time.Duration(v) * time.Second), nil
		case float64:
			return Duration(time.Duration(v * float64(time.Second))), nil
		case time.Duration:
			return Duration(v), nil
		case Duration:
			return v, nil
		default:
			return nil, fmt.Errorf("不支持的 Duration 类型: %T", v)
		}
	}
}
