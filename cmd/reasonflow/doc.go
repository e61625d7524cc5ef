// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
Package main 提供 ReasonFlow 命令行程序入口。

# 概述

cmd/reasonflow 将 quick.Engine 暴露为命令行与 HTTP 服务：reason 子命令
对单个问题执行路由与推理，serve 子命令提供 /v1/reason 等 HTTP 端点。
配置来自 YAML 文件与 REASONFLOW_* 环境变量。

# 核心类型

  - Server: 组合引擎、API 端口与 Metrics 端口，Run 阻塞至收到信号
  - Middleware: HTTP 中间件函数签名 func(http.Handler) http.Handler

# 主要能力

  - 子命令：reason、serve、config（校验并脱敏打印配置）、health、version
  - 中间件链：Recovery、RequestID（uuid，透传到模型请求）、OTelTracing、
    MetricsMiddleware、SecurityHeaders、RequestLogger、CORS、
    RateLimiter（基于 IP）、Authenticate（X-API-Key 或 HS256 JWT）
  - JWT 的 agent_id 声明参与策略路由覆盖
  - 构建注入：Version、BuildTime、GitCommit 通过 ldflags 设置
*/
package main
