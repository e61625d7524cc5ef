package retrieval

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/BaSui01/reasonflow/llm/tokenizer"
	"go.uber.org/zap"
)

// ChunkerConfig 分块配置，大小均以 token 计
type ChunkerConfig struct {
	Size    int `json:"size" yaml:"size"`
	Overlap int `json:"overlap" yaml:"overlap"`
}

// DefaultChunkerConfig 返回默认分块配置（512 token，约 20% 重叠）
func DefaultChunkerConfig() ChunkerConfig {
	return ChunkerConfig{Size: 512, Overlap: 100}
}

// 分隔符优先级：段落 > 行 > 句子 > 单词
var chunkSeparators = []string{"\n\n", "\n", ". ", "。", "! ", "！", "? ", "？", " "}

// Chunker splits long documents at paragraph and sentence boundaries so
// that BM25 scores passages rather than whole files.
type Chunker struct {
	config    ChunkerConfig
	tokenizer tokenizer.Tokenizer
	logger    *zap.Logger
}

// NewChunker 创建分块器；tok 为 nil 时使用估算分词器
func NewChunker(config ChunkerConfig, tok tokenizer.Tokenizer, logger *zap.Logger) *Chunker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if tok == nil {
		tok = tokenizer.NewEstimatorTokenizer()
	}
	if config.Size <= 0 {
		config.Size = DefaultChunkerConfig().Size
	}
	if config.Overlap < 0 || config.Overlap >= config.Size {
		config.Overlap = 0
	}
	return &Chunker{
		config:    config,
		tokenizer: tok,
		logger:    logger.With(zap.String("component", "chunker")),
	}
}

// Split 将文档切分为若干块。只有一块时保留原 ID，否则 ID 为 "<id>#<n>"（从 1 开始）。
func (c *Chunker) Split(doc Document) []Document {
	pieces := c.split(doc.Content, chunkSeparators)

	var chunks []string
	for i, p := range pieces {
		if c.config.Overlap > 0 && i > 0 {
			p = overlapTail(pieces[i-1], c.config.Overlap*4) + p
		}
		if p = strings.TrimSpace(p); p != "" {
			chunks = append(chunks, p)
		}
	}

	if len(chunks) <= 1 {
		if len(chunks) == 1 {
			doc.Content = chunks[0]
		}
		return []Document{doc}
	}
	out := make([]Document, len(chunks))
	for i, content := range chunks {
		out[i] = Document{ID: fmt.Sprintf("%s#%d", doc.ID, i+1), Content: content}
	}
	c.logger.Debug("document chunked",
		zap.String("id", doc.ID),
		zap.Int("chunks", len(out)),
		zap.Int("chunk_size", c.config.Size))
	return out
}

// SplitAll 切分全部文档
func (c *Chunker) SplitAll(docs ...Document) []Document {
	var out []Document
	for _, d := range docs {
		out = append(out, c.Split(d)...)
	}
	return out
}

func (c *Chunker) count(text string) int {
	n, err := c.tokenizer.CountTokens(text)
	if err != nil {
		// 约 4 字符 / token
		return (utf8.RuneCountInString(text) + 3) / 4
	}
	return n
}

// split 递归切分：当前分隔符切不开的片段交给下一级分隔符，
// 全部分隔符用尽后按字符窗口硬切。
func (c *Chunker) split(text string, separators []string) []string {
	if c.count(text) <= c.config.Size {
		return []string{text}
	}
	if len(separators) == 0 {
		return splitRunes(text, c.config.Size*4)
	}

	parts := strings.SplitAfter(text, separators[0])
	if len(parts) == 1 {
		return c.split(text, separators[1:])
	}

	var out []string
	current := ""
	for _, part := range parts {
		if c.count(current+part) <= c.config.Size {
			current += part
			continue
		}
		if current != "" {
			out = append(out, current)
			current = ""
		}
		if c.count(part) > c.config.Size {
			out = append(out, c.split(part, separators[1:])...)
		} else {
			current = part
		}
	}
	if current != "" {
		out = append(out, current)
	}
	return out
}

func splitRunes(text string, width int) []string {
	if width < 1 {
		width = 1
	}
	runes := []rune(text)
	var out []string
	for i := 0; i < len(runes); i += width {
		end := min(i+width, len(runes))
		out = append(out, string(runes[i:end]))
	}
	return out
}

// overlapTail 返回 text 末尾最多 maxRunes 个字符（不含结尾空白），起点对齐到单词边界
func overlapTail(text string, maxRunes int) string {
	body := strings.TrimRightFunc(text, unicode.IsSpace)
	trailing := text[len(body):]
	runes := []rune(body)
	if len(runes) <= maxRunes {
		return body + trailing
	}
	tail := runes[len(runes)-maxRunes:]
	for i, r := range tail {
		if unicode.IsSpace(r) {
			return string(tail[i+1:]) + trailing
		}
	}
	return string(tail) + trailing
}
