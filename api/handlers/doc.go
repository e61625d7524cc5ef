// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package handlers 提供 ReasonFlow HTTP API 的请求处理器实现。

# 概述

handlers 包实现推理服务所有 HTTP 端点的请求处理逻辑，
包括推理请求、策略查询、健康检查以及统一的响应/错误处理。
所有 Handler 均遵循标准 net/http 接口。

# 核心类型

  - ReasonHandler: 推理请求（POST /v1/reason）与策略表（GET /v1/strategies）
  - HealthHandler: 服务健康检查（/health, /ready, /version）
  - Response: 统一 JSON 响应结构（success + data + error + timestamp）
  - ErrorInfo: 结构化错误信息，含 code、message、retryable 标记
  - ResponseWriter: 包装 http.ResponseWriter 以捕获状态码与响应字节数
  - HealthCheck: 可插拔健康检查接口

# 主要能力

  - 统一响应格式：WriteSuccess / WriteError / WriteJSON
  - 请求验证：DecodeJSONBody（大小限制 + 严格模式）、ValidateContentType
  - ErrorCode 到 HTTP 状态码的映射（4xx/5xx）
  - 推理失败以 degraded 结果返回，而不是 HTTP 错误
*/
package handlers
