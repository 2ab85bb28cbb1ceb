// Package api 提供守护进程的 REST 管理接口。
//
// 接口覆盖三类操作：查询某品种某周期的滑动窗口极值、
// 在运行时增删跟踪品种（会同步到行情订阅）、以及健康检查。
package api
