package main

import (
	"fmt"

	"github.com/brightway/pwa-edge/internal/version"
)

// printVersion 输出构建注入的版本号与提交信息。
func printVersion() {
	fmt.Fprintf(stdOut, "%s\ngo-module github.com/brightway/pwa-edge\n", version.Full())
}
