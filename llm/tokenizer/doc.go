// Package tokenizer 提供统一的 Token 计数与截断能力，
// 支持 tiktoken 精确计数与 CJK 估算器，用于推理提示词的 Token 预算管理。
package tokenizer
