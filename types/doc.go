// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package types 提供 ReasonFlow 的全局共享类型定义。

# 概述

types 是最底层的公共包，不依赖任何内部包，为 llm、agent/reasoning、
retrieval、quick 等上层模块提供统一的类型契约。

# 核心类型

  - Error / ErrorCode: 结构化错误体系，含 Retryable 与 Cause 链

# 主要能力

  - 配置校验错误：NewConfigError（构造期 fail fast）
  - 错误工具链：GetErrorCode / IsRetryable / IsErrorCode
*/
package types
