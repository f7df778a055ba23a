// Package notifier 是页面侧的更新提示逻辑：发现等待中的新版本时询问用户，
// 用户接受后发送 SKIP_WAITING，并在控制者切换时只刷新一次页面。
package notifier
