package reasoning

import (
	"fmt"
	"sort"
	"sync"
)

// ============================================================
// Strategy Registry
// ============================================================

// StrategyFactory builds a fresh strategy instance.
type StrategyFactory func() (Strategy, error)

// StrategyRegistry 策略注册表 - 按名称管理策略工厂
type StrategyRegistry struct {
	factories map[string]StrategyFactory
	mu        sync.RWMutex
}

// NewStrategyRegistry 创建策略注册表
func NewStrategyRegistry() *StrategyRegistry {
	return &StrategyRegistry{
		factories: make(map[string]StrategyFactory),
	}
}

// Register 注册策略工厂
func (r *StrategyRegistry) Register(name string, factory StrategyFactory) error {
	if name == "" || factory == nil {
		return fmt.Errorf("reasoning strategy registration requires a name and a factory")
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.factories[name]; exists {
		return fmt.Errorf("reasoning strategy %q already registered", name)
	}
	r.factories[name] = factory
	return nil
}

// Has 判断策略是否已注册
func (r *StrategyRegistry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.factories[name]
	return ok
}

// New 构造一个新的策略实例
func (r *StrategyRegistry) New(name string) (Strategy, error) {
	r.mu.RLock()
	factory, ok := r.factories[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("reasoning strategy %q not registered", name)
	}
	return factory()
}

// List 列出所有已注册的策略名称
func (r *StrategyRegistry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Unregister 注销策略
func (r *StrategyRegistry) Unregister(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.factories[name]; !exists {
		return false
	}
	delete(r.factories, name)
	return true
}

// MustNew 构造策略实例，失败则 panic
func (r *StrategyRegistry) MustNew(name string) Strategy {
	s, err := r.New(name)
	if err != nil {
		panic(err)
	}
	return s
}
