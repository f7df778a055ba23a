// Package lifecycle 管理站点 worker 的安装、等待、激活与接管流程。
//
// 一个 Registration 对应一个站点作用域，同一时刻最多一个 active worker。
// 安装阶段把预缓存清单写入以版本命名的新桶；激活阶段删除其他所有桶后才开始处理请求。
package lifecycle
