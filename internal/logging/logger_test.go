package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/brightway/pwa-edge/internal/config"
)

func TestConfigureDefaultsToStdout(t *testing.T) {
	logger, err := InitLogger(config.GlobalConfig{LogLevel: "info"})
	if err != nil {
		t.Fatalf("配置失败: %v", err)
	}
	if logger.Out != os.Stdout {
		t.Fatalf("未指定文件时应输出到 stdout")
	}
}

func TestInitLoggerFallbackOnPermissionDenied(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("root 不受目录权限限制")
	}
	dir := t.TempDir()
	blocked := filepath.Join(dir, "blocked")
	if err := os.Mkdir(blocked, 0o755); err != nil {
		t.Fatalf("创建目录失败: %v", err)
	}
	if err := os.Chmod(blocked, 0o000); err != nil {
		t.Fatalf("设置目录权限失败: %v", err)
	}
	t.Cleanup(func() { _ = os.Chmod(blocked, 0o755) })

	cfg := config.GlobalConfig{
		LogLevel:    "info",
		LogFilePath: filepath.Join(blocked, "sub", "pwa-edge.log"),
	}
	logger, err := InitLogger(cfg)
	if err != nil {
		t.Fatalf("初始化不应失败: %v", err)
	}
	if logger.Out != os.Stdout {
		t.Fatalf("fallback 时应退回 stdout")
	}
}

func TestConfigureCreatesRotatingFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pwa-edge.log")
	cfg := config.GlobalConfig{LogLevel: "debug", LogFilePath: path}
	logger, err := InitLogger(cfg)
	if err != nil {
		t.Fatalf("配置失败: %v", err)
	}
	logger.Info("test")
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("预期创建日志文件: %v", err)
	}
}

func TestRequestFieldsMarksCacheHit(t *testing.T) {
	fields := RequestFields("brightway", "brightway.local", "v1.4", "cache-first", "cache", false)
	if fields["cache_hit"] != true {
		t.Fatalf("cache 来源应标记为命中")
	}
	fields = RequestFields("brightway", "brightway.local", "v1.4", "network-first", "network", true)
	if fields["cache_hit"] != false || fields["navigate"] != true {
		t.Fatalf("unexpected fields: %v", fields)
	}
}

func TestInitLoggerTextFormatAddsService(t *testing.T) {
	logger, err := InitLogger(config.GlobalConfig{LogLevel: "info", LogFormat: config.LogFormatText})
	if err != nil {
		t.Fatalf("配置失败: %v", err)
	}
	var buf bytes.Buffer
	logger.SetOutput(&buf)
	logger.WithFields(SiteFields("brightway", "v1.4")).Info("worker_registered")

	line := buf.String()
	if !strings.Contains(line, "service="+ServiceName) || !strings.Contains(line, "version=v1.4") {
		t.Fatalf("unexpected text log line: %s", line)
	}
	if strings.HasPrefix(strings.TrimSpace(line), "{") {
		t.Fatalf("text format should not emit JSON: %s", line)
	}
}

func TestInitLoggerRejectsUnknownFormat(t *testing.T) {
	if _, err := InitLogger(config.GlobalConfig{LogLevel: "info", LogFormat: "xml"}); err == nil {
		t.Fatalf("unknown format should fail")
	}
}
