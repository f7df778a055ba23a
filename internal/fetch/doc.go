// Package fetch 定义被拦截请求的最小模型，并提供面向站点 Origin 的 HTTP 回源实现。
package fetch
