package version

import "fmt"

// Version/Commit 可在构建时通过 -ldflags 注入，默认使用开发占位符。
var (
	Version = "0.1.0"
	Commit  = "dev"
)

// Product 是回源请求 Via 头与 CLI 输出使用的产品名。
const Product = "pwa-edge"

// Full 返回便于 CLI 打印的完整版本信息。
func Full() string {
	return fmt.Sprintf("%s %s (%s)", Product, Version, Commit)
}

// Via 返回代理追加到回源请求上的 Via 头取值。
func Via() string {
	return fmt.Sprintf("1.1 %s/%s", Product, Version)
}
