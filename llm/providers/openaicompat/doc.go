// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 openaicompat 提供面向 OpenAI 兼容 /v1/chat/completions 接口的
llm.Provider 实现。

通过 llm.NewProviderModel 包装后即可作为推理策略的模型协作者使用：

	p := openaicompat.New(openaicompat.Config{
		ProviderName: "deepseek",
		BaseURL:      "https://api.deepseek.com",
		APIKey:       os.Getenv("DEEPSEEK_API_KEY"),
		DefaultModel: "deepseek-chat",
	}, logger)
	model := llm.NewProviderModel(p, "deepseek-chat")

HTTP 错误按状态码映射为 types.Error，429 与 5xx 标记为可重试，
交由 llm.ResilientModel 的退避重试处理。
*/
package openaicompat
