// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 server 提供 HTTP 服务器生命周期管理，供 reasonflow serve 的
API 与 metrics 两个监听端口使用。

# 核心类型

  - Manager：封装 net/http.Server，提供 Start/Run/Shutdown。
  - Config：监听地址、读写与空闲超时、关闭超时，以及可选的
    证书文件（启用后使用 tlsutil 的 TLS 1.2+ AEAD 配置）。

# 主要能力

  - 非阻塞启动：Start 在后台 goroutine 中服务，Addr 返回实际
    监听地址（支持 ":0" 随机端口）。
  - 阻塞运行：Run 在 ctx 结束或服务异常退出后自动优雅关闭，
    调用方通常传入 signal.NotifyContext 的 ctx。
  - 错误传播：Errors() 返回异步错误通道。
*/
package server
