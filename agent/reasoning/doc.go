// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 reasoning 提供可插拔的推理策略与策略路由。

# 概述

本包把"如何让模型系统性地思考"封装为统一的 Strategy 接口：
输入问题、可选上下文与模型能力，输出答案、置信度与可审计的推理轨迹。
Reason 永远不返回错误，协作方的失败只体现为置信度降低；
只有构造阶段的配置错误会以 *types.Error 形式直接返回。

# 核心接口

  - Strategy: Name() 与 Reason(ctx, query, contextText, model)。
  - RetrievalFunc: 检索回调，仅检索增强推理使用。
  - AnswerExtractor: 自洽性采样的答案提取器，可整体替换。
  - Observer: 推理结果与路由决策的观察者，通常由指标采集器实现。

# 推理策略

  - Chain-of-Thought: 单次编号推理链 + 低温自我验证，验证只会降低置信度。
  - Self-Consistency: 并发采样 N 条独立推理路径，归一化后多数投票。
  - Tree-of-Thought: 生成 K 个思路，逐轮并发扩展与打分，
    每轮按 Beam Width 剪枝，分支状态按轮次保存为不可变快照。
  - Retrieval-Augmented: 初步推理 → 缺口识别 → 并发检索 →
    综合回答 → 依据校验，上下文充分时提前退出。

# 路由

Router 依次按 agent 覆盖、任务类型表、复杂度词表与默认策略选择策略，
每次调用都返回新构造的实例。配置了 Observer 或 Tracer 时，
实例会被 Instrumented 包装以记录 span 与指标。

# 日志与追踪

日志通过 WithLogger 按调用注入，未注入时为 zap.NewNop()。
每次调用分配 run_id（可由 WithRunID 指定），写入结果 Metadata。
*/
package reasoning
