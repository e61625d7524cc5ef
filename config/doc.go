// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

// Package config 提供 ReasonFlow 的配置加载功能。
//
// 配置按 默认值 → YAML 文件 → REASONFLOW_* 环境变量 的顺序叠加，
// 加载后由 Config.Validate 一次性报告全部问题。
// reasoning 段直接复用 reasoning.RouterConfig，
// 各策略参数、默认策略与 agent 覆盖都在其中配置。
package config
