package retrieval

import (
	"context"
	"math"
	"sort"
	"strings"
	"sync"
	"unicode"

	"github.com/BaSui01/reasonflow/agent/reasoning"
	"go.uber.org/zap"
)

// IndexConfig BM25 索引配置
type IndexConfig struct {
	K1       float64 `json:"k1" yaml:"k1"` // BM25 参数 k1 (1.2-2.0)
	B        float64 `json:"b" yaml:"b"`   // BM25 参数 b (0.75)
	MinScore float64 `json:"min_score" yaml:"min_score"`
}

// DefaultIndexConfig 返回默认 BM25 配置
func DefaultIndexConfig() IndexConfig {
	return IndexConfig{K1: 1.5, B: 0.75}
}

// Document 文档
type Document struct {
	ID      string `json:"id"`
	Content string `json:"content"`
}

// Hit 检索结果
type Hit struct {
	Document Document `json:"document"`
	Score    float64  `json:"score"`
}

type indexedDoc struct {
	doc      Document
	termFreq map[string]int
	length   int
}

// Index is an in-memory BM25 index. It is safe for concurrent use; Add
// invalidates the cached IDF table.
type Index struct {
	config IndexConfig
	logger *zap.Logger

	mu       sync.RWMutex
	docs     []indexedDoc
	docFreq  map[string]int
	totalLen int
	idf      map[string]float64
	idfStale bool
}

// NewIndex 创建 BM25 索引
func NewIndex(config IndexConfig, logger *zap.Logger) *Index {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.K1 <= 0 {
		config.K1 = DefaultIndexConfig().K1
	}
	if config.B < 0 || config.B > 1 {
		config.B = DefaultIndexConfig().B
	}
	return &Index{
		config:  config,
		logger:  logger.With(zap.String("component", "bm25_index")),
		docFreq: make(map[string]int),
	}
}

// Add 索引文档
func (x *Index) Add(docs ...Document) {
	x.mu.Lock()
	defer x.mu.Unlock()

	for _, doc := range docs {
		terms := tokenize(doc.Content)
		tf := make(map[string]int, len(terms))
		for _, term := range terms {
			if tf[term] == 0 {
				x.docFreq[term]++
			}
			tf[term]++
		}
		x.docs = append(x.docs, indexedDoc{doc: doc, termFreq: tf, length: len(terms)})
		x.totalLen += len(terms)
	}
	x.idfStale = true
	x.logger.Debug("documents indexed", zap.Int("added", len(docs)), zap.Int("total", len(x.docs)))
}

// Len 返回文档数
func (x *Index) Len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.docs)
}

// computeIDF 计算 IDF，调用方需持有写锁
func (x *Index) computeIDF() {
	n := float64(len(x.docs))
	x.idf = make(map[string]float64, len(x.docFreq))
	for term, df := range x.docFreq {
		x.idf[term] = math.Log((n-float64(df)+0.5)/(float64(df)+0.5) + 1.0)
	}
	x.idfStale = false
}

// Search returns the top k documents for query, best first. Ties keep
// insertion order.
func (x *Index) Search(ctx context.Context, query string, k int) ([]Hit, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if k <= 0 {
		return nil, nil
	}

	x.mu.Lock()
	if x.idfStale {
		x.computeIDF()
	}
	x.mu.Unlock()

	x.mu.RLock()
	defer x.mu.RUnlock()
	if len(x.docs) == 0 {
		return nil, nil
	}

	queryTerms := tokenize(query)
	avgDocLen := float64(x.totalLen) / float64(len(x.docs))
	hits := make([]Hit, 0, len(x.docs))
	for _, d := range x.docs {
		score := 0.0
		docLen := float64(d.length)
		for _, qTerm := range queryTerms {
			tf, ok := d.termFreq[qTerm]
			if !ok {
				continue
			}
			// BM25 公式
			numerator := float64(tf) * (x.config.K1 + 1.0)
			denominator := float64(tf) + x.config.K1*(1.0-x.config.B+x.config.B*(docLen/avgDocLen))
			score += x.idf[qTerm] * (numerator / denominator)
		}
		if score > 0 && score >= x.config.MinScore {
			hits = append(hits, Hit{Document: d.doc, Score: score})
		}
	}

	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

// Func adapts the index to a retrieval callback returning the top k contents.
func (x *Index) Func(k int) reasoning.RetrievalFunc {
	return func(ctx context.Context, query string) ([]string, error) {
		hits, err := x.Search(ctx, query, k)
		if err != nil {
			return nil, err
		}
		out := make([]string, len(hits))
		for i, h := range hits {
			out[i] = h.Document.Content
		}
		return out, nil
	}
}

// tokenize 转小写并按非字母数字切分
func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
}
