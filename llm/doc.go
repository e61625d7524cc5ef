// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 llm 提供推理策略所依赖的模型调用能力抽象。

# 概述

推理策略只依赖一个很窄的能力接口 [Model]：发起一次补全、从原始响应中
提取文本，以及（可选的）读取 Token 用量。任何模型客户端只要实现该接口
即可被策略使用，策略从不依赖具体的客户端类型。

# 核心接口

  - [Model]：Complete + ExtractText，策略唯一依赖的模型能力
  - [UsageReporter]：可选的 Token 用量读取接口
  - [Provider]：完整的聊天补全 Provider，经 [ProviderModel] 适配为 [Model]

# 弹性包装

[ResilientModel] 是调用方一侧的装饰器，提供单次调用超时、指数退避重试
与令牌桶限流。推理层本身不做超时与取消，这些策略交由注入的模型协作者处理。
*/
package llm
