// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 metrics 提供基于 Prometheus 的推理指标采集能力，覆盖
推理调用、策略路由与检索缓存三个维度。

# 概述

本包通过 Collector 统一注册和记录 Prometheus 指标，使用 promauto
自动注册机制，默认注册到全局 Registry，也可通过 WithRegisterer
指定独立的 Registry。所有指标按 namespace 隔离。

# 核心类型

  - Collector：指标收集器，同时实现 reasoning.Observer 与
    retrieval.CacheObserver，可直接注入路由器和检索缓存。

# 主要能力

  - 推理指标：调用总数（按 strategy/outcome）、耗时、置信度分布、
    Token 用量。置信度为 0 的结果记为 degraded。
  - 路由指标：按 strategy/source 统计的选择次数。
  - 缓存指标：命中与未命中计数，按 cache_type 分组。
*/
package metrics
