// MockModel 是 llm.Model 的脚本化测试实现。
//
// 按提示词子串匹配规则返回预置响应，支持错误注入、panic 注入与调用记录。
package mocks

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/BaSui01/reasonflow/llm"
)

// ErrNoScriptedResponse is returned when no rule matches a prompt.
var ErrNoScriptedResponse = errors.New("mock model: no scripted response")

// MockModelCall 记录单次调用
type MockModelCall struct {
	Messages    []llm.Message
	Prompt      string
	Temperature float32
	MaxTokens   int
}

type rule struct {
	match     string
	responses []string
	err       error
	panicWith any
	fn        func(call MockModelCall) (string, error)
	next      int
}

// MockModel 是 llm.Model 的模拟实现
type MockModel struct {
	mu     sync.Mutex
	rules  []*rule
	tokens int
	delay  time.Duration
	calls  []MockModelCall
}

// NewMockModel 创建新的 MockModel，每次调用默认报告 10 个 token
func NewMockModel() *MockModel {
	return &MockModel{tokens: 10}
}

// On 为包含 match 的提示词注册顺序响应；响应用尽后重复最后一个。
// 空 match 匹配任意提示词。先注册的规则优先。
func (m *MockModel) On(match string, responses ...string) *MockModel {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rules = append(m.rules, &rule{match: match, responses: responses})
	return m
}

// OnError 让包含 match 的提示词返回错误
func (m *MockModel) OnError(match string, err error) *MockModel {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rules = append(m.rules, &rule{match: match, err: err})
	return m
}

// OnPanic 让包含 match 的提示词触发 panic
func (m *MockModel) OnPanic(match string, v any) *MockModel {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rules = append(m.rules, &rule{match: match, panicWith: v})
	return m
}

// OnFunc 为包含 match 的提示词注册自定义响应函数
func (m *MockModel) OnFunc(match string, fn func(call MockModelCall) (string, error)) *MockModel {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rules = append(m.rules, &rule{match: match, fn: fn})
	return m
}

// WithTokenUsage 设置每次调用报告的 token 数
func (m *MockModel) WithTokenUsage(tokens int) *MockModel {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tokens = tokens
	return m
}

// WithDelay 设置每次调用的响应延迟
func (m *MockModel) WithDelay(d time.Duration) *MockModel {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delay = d
	return m
}

// Complete 实现 llm.Model
func (m *MockModel) Complete(ctx context.Context, messages []llm.Message, temperature float32, maxTokens int) (*llm.ChatResponse, error) {
	parts := make([]string, 0, len(messages))
	for _, msg := range messages {
		parts = append(parts, msg.Content)
	}
	call := MockModelCall{
		Messages:    append([]llm.Message(nil), messages...),
		Prompt:      strings.Join(parts, "\n"),
		Temperature: temperature,
		MaxTokens:   maxTokens,
	}

	m.mu.Lock()
	m.calls = append(m.calls, call)
	delay := m.delay
	tokens := m.tokens
	var matched *rule
	var response string
	for _, r := range m.rules {
		if strings.Contains(call.Prompt, r.match) {
			matched = r
			break
		}
	}
	if matched != nil && len(matched.responses) > 0 {
		idx := matched.next
		if idx >= len(matched.responses) {
			idx = len(matched.responses) - 1
		}
		response = matched.responses[idx]
		matched.next++
	}
	m.mu.Unlock()

	if delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}

	switch {
	case matched == nil:
		return nil, ErrNoScriptedResponse
	case matched.panicWith != nil:
		panic(matched.panicWith)
	case matched.err != nil:
		return nil, matched.err
	case matched.fn != nil:
		text, err := matched.fn(call)
		if err != nil {
			return nil, err
		}
		response = text
	}
	return llm.TextResponse(response, tokens), nil
}

// ExtractText 实现 llm.Model
func (m *MockModel) ExtractText(resp *llm.ChatResponse) string {
	choice, err := llm.FirstChoice(resp)
	if err != nil {
		return ""
	}
	return choice.Message.Content
}

// Calls 返回所有调用记录的副本
func (m *MockModel) Calls() []MockModelCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]MockModelCall(nil), m.calls...)
}

// CallCount 返回提示词包含 match 的调用次数
func (m *MockModel) CallCount(match string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.calls {
		if strings.Contains(c.Prompt, match) {
			n++
		}
	}
	return n
}
