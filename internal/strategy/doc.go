// Package strategy 实现三种缓存策略：cache-first、network-first 与 stale-while-revalidate。
//
// 每个策略接收请求与当前控制 worker 的缓存桶，返回响应或错误。写缓存均为同步步骤，
// 唯一的例外是 stale-while-revalidate 的后台刷新，它运行在与请求解耦的 context 上，
// 由 Executor.Wait 统一等待。
package strategy
