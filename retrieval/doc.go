// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 retrieval 为检索增强推理提供检索回调的实现。

  - Index: 内存 BM25 索引，Func(k) 返回可直接注入 RAR 的回调。
  - Chunker: 按段落、句子、单词递归切分长文档，块大小以 token 计。
  - Cache: 基于 Redis 的回调缓存包装，Redis 故障时透传到底层回调。
*/
package retrieval
