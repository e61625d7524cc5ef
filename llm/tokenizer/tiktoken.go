package tokenizer

import (
	"fmt"
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// TiktokenTokenizer 为 OpenAI 系列模型封装 tiktoken.
type TiktokenTokenizer struct {
	model    string
	encoding string
	enc      *tiktoken.Tiktoken
	once     sync.Once
	initErr  error
}

// modelEncodings 将模型名称前缀映射到 tiktoken 编码。
var modelEncodings = []struct {
	prefix   string
	encoding string
}{
	// longer prefixes first so gpt-4o does not resolve to gpt-4
	{prefix: "gpt-4o", encoding: "o200k_base"},
	{prefix: "o1", encoding: "o200k_base"},
	{prefix: "o3", encoding: "o200k_base"},
	{prefix: "gpt-4", encoding: "cl100k_base"},
	{prefix: "gpt-3.5-turbo", encoding: "cl100k_base"},
	{prefix: "text-embedding-3", encoding: "cl100k_base"},
}

func lookupEncoding(model string) (string, bool) {
	for _, e := range modelEncodings {
		if strings.HasPrefix(model, e.prefix) {
			return e.encoding, true
		}
	}
	return "", false
}

// NewTiktokenTokenizer creates a tokenizer for model, defaulting to cl100k_base
// for unknown names.
func NewTiktokenTokenizer(model string) *TiktokenTokenizer {
	encoding, ok := lookupEncoding(model)
	if !ok {
		encoding = "cl100k_base"
	}
	return newTiktoken(model, encoding)
}

func newTiktoken(model, encoding string) *TiktokenTokenizer {
	return &TiktokenTokenizer{model: model, encoding: encoding}
}

// init 延迟初始化 tiktoken 编码(首次使用时可能下载 BPE 数据).
func (t *TiktokenTokenizer) init() error {
	t.once.Do(func() {
		enc, err := tiktoken.GetEncoding(t.encoding)
		if err != nil {
			t.initErr = fmt.Errorf("init tiktoken encoding %s: %w", t.encoding, err)
			return
		}
		t.enc = enc
	})
	return t.initErr
}

func (t *TiktokenTokenizer) CountTokens(text string) (int, error) {
	if err := t.init(); err != nil {
		return 0, err
	}
	return len(t.enc.Encode(text, nil, nil)), nil
}

func (t *TiktokenTokenizer) Encode(text string) ([]int, error) {
	if err := t.init(); err != nil {
		return nil, err
	}
	return t.enc.Encode(text, nil, nil), nil
}

func (t *TiktokenTokenizer) Decode(tokens []int) (string, error) {
	if err := t.init(); err != nil {
		return "", err
	}
	return t.enc.Decode(tokens), nil
}

func (t *TiktokenTokenizer) Name() string {
	return fmt.Sprintf("tiktoken[%s]", t.encoding)
}
