// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package testutil 提供 ReasonFlow 测试的共享工具和辅助函数。

# 核心能力

  - 上下文辅助: TestContext / CancelledContext，自动注册 Cleanup 防止泄漏
  - 数据工具: MustJSON，简化模型脚本响应的构造

# 子包

  - testutil/mocks: MockModel（llm.Model 的脚本化实现），
    按提示词子串匹配响应，支持错误注入、panic 注入与调用记录

# 使用示例

	model := mocks.NewMockModel().
	    On("Verify", testutil.MustJSON(map[string]any{"is_consistent": true})).
	    On("", "fallback text")
	result := strategy.Reason(testutil.TestContext(t), "q", "", model)
*/
package testutil
