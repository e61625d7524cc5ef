package reasoning

import (
	"context"
	"testing"

	"github.com/BaSui01/reasonflow/llm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubStrategy implements Strategy for testing.
type stubStrategy struct {
	name string
}

func (s *stubStrategy) Name() string { return s.name }

func (s *stubStrategy) Reason(ctx context.Context, query, contextText string, model llm.Model) *ReasoningResult {
	return &ReasoningResult{Answer: "stub answer", Confidence: 1.0, StrategyName: s.name}
}

func stubFactory(name string) StrategyFactory {
	return func() (Strategy, error) { return &stubStrategy{name: name}, nil }
}

func TestNewStrategyRegistry(t *testing.T) {
	t.Parallel()

	reg := NewStrategyRegistry()
	require.NotNil(t, reg)
	assert.Empty(t, reg.List(), "new registry should have no strategies")
}

func TestStrategyRegistry_Register(t *testing.T) {
	t.Parallel()

	t.Run("registers a factory successfully", func(t *testing.T) {
		t.Parallel()
		reg := NewStrategyRegistry()

		require.NoError(t, reg.Register("alpha", stubFactory("alpha")))

		s, err := reg.New("alpha")
		require.NoError(t, err)
		assert.Equal(t, "alpha", s.Name())
		assert.True(t, reg.Has("alpha"))
	})

	t.Run("duplicate registration returns error", func(t *testing.T) {
		t.Parallel()
		reg := NewStrategyRegistry()

		require.NoError(t, reg.Register("dup", stubFactory("dup")))
		err := reg.Register("dup", stubFactory("dup"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "already registered")
	})

	t.Run("nil factory returns error", func(t *testing.T) {
		t.Parallel()
		reg := NewStrategyRegistry()
		assert.Error(t, reg.Register("x", nil))
		assert.Error(t, reg.Register("", stubFactory("x")))
	})
}

func TestStrategyRegistry_NewBuildsFreshInstances(t *testing.T) {
	t.Parallel()

	reg := NewStrategyRegistry()
	require.NoError(t, reg.Register("fresh", stubFactory("fresh")))

	a, err := reg.New("fresh")
	require.NoError(t, err)
	b, err := reg.New("fresh")
	require.NoError(t, err)
	assert.NotSame(t, a, b)

	_, err = reg.New("missing")
	assert.Error(t, err)
}

func TestStrategyRegistry_List(t *testing.T) {
	t.Parallel()

	reg := NewStrategyRegistry()
	for _, name := range []string{"charlie", "alpha", "bravo"} {
		require.NoError(t, reg.Register(name, stubFactory(name)))
	}
	assert.Equal(t, []string{"alpha", "bravo", "charlie"}, reg.List())
}

func TestStrategyRegistry_Unregister(t *testing.T) {
	t.Parallel()

	reg := NewStrategyRegistry()
	require.NoError(t, reg.Register("gone", stubFactory("gone")))

	assert.True(t, reg.Unregister("gone"))
	assert.False(t, reg.Has("gone"))
	assert.False(t, reg.Unregister("gone"), "second unregister reports missing")
}

func TestStrategyRegistry_MustNew(t *testing.T) {
	t.Parallel()

	reg := NewStrategyRegistry()
	require.NoError(t, reg.Register("present", stubFactory("present")))

	assert.Equal(t, "present", reg.MustNew("present").Name())
	assert.Panics(t, func() { reg.MustNew("absent") })
}
