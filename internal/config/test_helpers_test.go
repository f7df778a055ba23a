package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// brightwaySite 是测试里最常用的最小站点块。
const brightwaySite = `
[[Site]]
Name = "brightway"
Domain = "brightway.local"
Origin = "https://origin.brightway.local"
Version = "v1"
`

func testConfigPath(t *testing.T, name string) string {
	t.Helper()
	return filepath.Join("testdata", name)
}

// writeTempConfig 把全局段与站点块拼成 config.toml 写入临时目录。
func writeTempConfig(t *testing.T, global string, sites ...string) string {
	t.Helper()
	content := strings.TrimSpace(global) + "\n" + strings.Join(sites, "\n")
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("写入临时配置失败: %v", err)
	}
	return path
}
