// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

// Package api defines the request and response bodies of the ReasonFlow
// HTTP API served by `reasonflow serve`.
//
// # Endpoints
//
//   - POST /v1/reason       route a task to a strategy and run it
//   - GET  /v1/strategies   list registered strategies and the task-type table
//   - GET  /health, /healthz liveness
//   - GET  /ready, /readyz   readiness (retrieval cache reachability)
//   - GET  /version          build information
//   - GET  /metrics          Prometheus exposition (metrics port)
//
// # Authentication
//
// When server.api_keys is configured, every /v1 endpoint requires the
// X-API-Key header:
//
//	X-API-Key: your-api-key
//
// # Response envelope
//
// Every JSON response is wrapped in handlers.Response:
//
//	{"success": true, "data": {...}, "timestamp": "...", "request_id": "req-..."}
//
// A reasoning failure is not an HTTP error: the call returns 200 with
// "degraded": true and a confidence of 0.
package api
