package reasoning

import (
	"fmt"
	"maps"
	"strings"
	"sync"

	"github.com/BaSui01/reasonflow/llm/tokenizer"
	"github.com/BaSui01/reasonflow/types"
	"go.opentelemetry.io/otel/trace"
)

// TaskType classifies a task for routing.
type TaskType string

const (
	TaskSimple             TaskType = "simple"
	TaskSafetyCritical     TaskType = "safety_critical"
	TaskPlanning           TaskType = "planning"
	TaskComplex            TaskType = "complex"
	TaskKnowledgeIntensive TaskType = "knowledge_intensive"
	TaskGeneral            TaskType = "general"
)

// ParseTaskType maps free text to a TaskType. "critical" is an alias for
// safety_critical; anything unrecognized is general.
func ParseTaskType(s string) TaskType {
	switch t := TaskType(strings.ToLower(strings.TrimSpace(s))); t {
	case "critical":
		return TaskSafetyCritical
	case TaskSimple, TaskSafetyCritical, TaskPlanning, TaskComplex, TaskKnowledgeIntensive, TaskGeneral:
		return t
	default:
		return TaskGeneral
	}
}

var taskTypeTable = map[TaskType]string{
	TaskSafetyCritical:     StrategySelfConsistency,
	TaskKnowledgeIntensive: StrategyRetrievalAugmented,
	TaskPlanning:           StrategyTreeOfThought,
	TaskComplex:            StrategyTreeOfThought,
	TaskSimple:             StrategyChainOfThought,
}

var complexityTable = map[string]string{
	"low":       StrategyChainOfThought,
	"simple":    StrategyChainOfThought,
	"trivial":   StrategyChainOfThought,
	"easy":      StrategyChainOfThought,
	"high":      StrategyTreeOfThought,
	"complex":   StrategyTreeOfThought,
	"hard":      StrategyTreeOfThought,
	"difficult": StrategyTreeOfThought,
}

// Decision sources.
const (
	SourceOverride   = "agent_override"
	SourceTaskType   = "task_type"
	SourceComplexity = "complexity"
	SourceDefault    = "default"
)

// Decision explains which strategy was chosen and why.
type Decision struct {
	Strategy string
	TaskType TaskType
	Source   string
}

// RouterConfig 路由器配置
type RouterConfig struct {
	DefaultStrategy    string                   `json:"default_strategy" yaml:"default_strategy" env:"DEFAULT_STRATEGY"`
	ChainOfThought     ChainOfThoughtConfig     `json:"chain_of_thought" yaml:"chain_of_thought" env:"CHAIN_OF_THOUGHT"`
	SelfConsistency    SelfConsistencyConfig    `json:"self_consistency" yaml:"self_consistency" env:"SELF_CONSISTENCY"`
	TreeOfThought      TreeOfThoughtConfig      `json:"tree_of_thought" yaml:"tree_of_thought" env:"TREE_OF_THOUGHT"`
	RetrievalAugmented RetrievalAugmentedConfig `json:"retrieval_augmented" yaml:"retrieval_augmented" env:"RETRIEVAL_AUGMENTED"`
	// Overrides 启动时注册的 agent -> strategy 映射
	Overrides map[string]string `json:"overrides" yaml:"overrides" env:"OVERRIDES"`
}

// DefaultRouterConfig 返回默认路由器配置
func DefaultRouterConfig() RouterConfig {
	return RouterConfig{
		DefaultStrategy:    StrategyChainOfThought,
		ChainOfThought:     DefaultChainOfThoughtConfig(),
		SelfConsistency:    DefaultSelfConsistencyConfig(),
		TreeOfThought:      DefaultTreeOfThoughtConfig(),
		RetrievalAugmented: DefaultRetrievalAugmentedConfig(),
	}
}

// RouterOption 路由器选项
type RouterOption func(*Router)

// WithRouterRetriever sets the retrieval callback handed to every RAR instance.
func WithRouterRetriever(fn RetrievalFunc) RouterOption {
	return func(r *Router) { r.retriever = fn }
}

// WithRouterTokenizer makes RAR instances truncate by tokens.
func WithRouterTokenizer(t tokenizer.Tokenizer) RouterOption {
	return func(r *Router) { r.tokenizer = t }
}

// WithObserver reports every Reason call and routing decision.
func WithObserver(o Observer) RouterOption {
	return func(r *Router) { r.observer = o }
}

// WithTracer wraps every produced strategy in a tracing span.
func WithTracer(t trace.Tracer) RouterOption {
	return func(r *Router) { r.tracer = t }
}

// Router selects a strategy per task. Selection is deterministic and each
// call returns a freshly built instance.
type Router struct {
	defaultStrategy string
	registry        *StrategyRegistry

	retriever RetrievalFunc
	tokenizer tokenizer.Tokenizer
	observer  Observer
	tracer    trace.Tracer

	mu        sync.RWMutex
	overrides map[string]string
}

// NewRouter validates config and builds a router. Every strategy
// configuration is checked here so SelectStrategy cannot fail later.
func NewRouter(config RouterConfig, opts ...RouterOption) (*Router, error) {
	if !IsKnownStrategy(config.DefaultStrategy) {
		return nil, types.NewError(types.ErrUnknownStrategy,
			fmt.Sprintf("unknown default strategy %q (known: %s)", config.DefaultStrategy, strings.Join(knownStrategies, ", ")))
	}

	r := &Router{
		defaultStrategy: config.DefaultStrategy,
		registry:        NewStrategyRegistry(),
		overrides:       make(map[string]string),
	}
	for _, opt := range opts {
		opt(r)
	}

	factories := map[string]StrategyFactory{
		StrategyChainOfThought: func() (Strategy, error) {
			s, err := NewChainOfThought(config.ChainOfThought)
			if err != nil {
				return nil, err
			}
			return s, nil
		},
		StrategySelfConsistency: func() (Strategy, error) {
			s, err := NewSelfConsistency(config.SelfConsistency)
			if err != nil {
				return nil, err
			}
			return s, nil
		},
		StrategyTreeOfThought: func() (Strategy, error) {
			s, err := NewTreeOfThought(config.TreeOfThought)
			if err != nil {
				return nil, err
			}
			return s, nil
		},
		StrategyRetrievalAugmented: func() (Strategy, error) {
			rarOpts := []RetrievalAugmentedOption{WithRetriever(r.retriever)}
			if r.tokenizer != nil {
				rarOpts = append(rarOpts, WithTokenizer(r.tokenizer))
			}
			s, err := NewRetrievalAugmented(config.RetrievalAugmented, rarOpts...)
			if err != nil {
				return nil, err
			}
			return s, nil
		},
	}
	for _, name := range knownStrategies {
		if _, err := factories[name](); err != nil {
			return nil, err
		}
		if err := r.registry.Register(name, factories[name]); err != nil {
			return nil, err
		}
	}

	for agentID, strategy := range config.Overrides {
		if err := r.RegisterOverride(agentID, strategy); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// DefaultStrategy 返回默认策略名称
func (r *Router) DefaultStrategy() string { return r.defaultStrategy }

// Strategies 返回已注册的策略名称（有序）
func (r *Router) Strategies() []string { return r.registry.List() }

// TaskTypeStrategies returns a copy of the fixed task-type routing table.
// General tasks are absent: they fall through to complexity and the default.
func TaskTypeStrategies() map[TaskType]string { return maps.Clone(taskTypeTable) }

// RegisterOverride pins agentID to a strategy regardless of task type.
func (r *Router) RegisterOverride(agentID, strategy string) error {
	if strings.TrimSpace(agentID) == "" {
		return types.NewConfigError("override requires a non-empty agent id")
	}
	if !IsKnownStrategy(strategy) {
		return types.NewError(types.ErrUnknownStrategy,
			fmt.Sprintf("cannot override agent %q with unknown strategy %q", agentID, strategy))
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.overrides[agentID] = strategy
	return nil
}

// RemoveOverride 移除 agent 覆盖
func (r *Router) RemoveOverride(agentID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.overrides[agentID]; !ok {
		return false
	}
	delete(r.overrides, agentID)
	return true
}

// Overrides 返回覆盖表的副本
func (r *Router) Overrides() map[string]string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return maps.Clone(r.overrides)
}

// Route decides which strategy handles the task without building it.
func (r *Router) Route(taskType TaskType, complexity, agentID string) Decision {
	taskType = ParseTaskType(string(taskType))

	if agentID != "" {
		r.mu.RLock()
		strategy, ok := r.overrides[agentID]
		r.mu.RUnlock()
		if ok {
			return Decision{Strategy: strategy, TaskType: taskType, Source: SourceOverride}
		}
	}
	if strategy, ok := taskTypeTable[taskType]; ok {
		return Decision{Strategy: strategy, TaskType: taskType, Source: SourceTaskType}
	}
	if strategy, ok := complexityTable[strings.ToLower(strings.TrimSpace(complexity))]; ok {
		return Decision{Strategy: strategy, TaskType: taskType, Source: SourceComplexity}
	}
	return Decision{Strategy: r.defaultStrategy, TaskType: taskType, Source: SourceDefault}
}

// SelectStrategy routes the task and returns a new strategy instance.
func (r *Router) SelectStrategy(taskType TaskType, complexity, agentID string) Strategy {
	return r.Build(r.Route(taskType, complexity, agentID))
}

// Build returns a new instance of the strategy named by d and records the
// selection with the observer. An unknown name builds the default strategy.
func (r *Router) Build(d Decision) Strategy {
	s, err := r.registry.New(d.Strategy)
	if err != nil {
		d.Strategy, d.Source = r.defaultStrategy, SourceDefault
		// 所有工厂已在 NewRouter 中校验
		s = r.registry.MustNew(d.Strategy)
	}
	if r.observer != nil {
		r.observer.ObserveSelection(d.Strategy, d.Source)
	}
	if r.observer != nil || r.tracer != nil {
		return Instrument(s, r.tracer, r.observer)
	}
	return s
}
