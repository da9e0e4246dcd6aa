package sim

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// funcExperiment runs an arbitrary function; used to drive Execute.
type funcExperiment struct {
	*BaseExperiment
	run func(ctx context.Context, b *BaseExperiment) (ResultMap, error)
}

func newFuncExperiment(run func(ctx context.Context, b *BaseExperiment) (ResultMap, error)) *funcExperiment {
	return &funcExperiment{BaseExperiment: NewBaseExperiment("fn", 1), run: run}
}

func (e *funcExperiment) Run(ctx context.Context) (ResultMap, error) {
	return e.run(ctx, e.BaseExperiment)
}

func (e *funcExperiment) Clone(seed int64) Experiment {
	return &funcExperiment{BaseExperiment: e.CloneBase(seed), run: e.run}
}

func TestExecute_Success(t *testing.T) {
	// GIVEN an experiment returning one value
	exp := newFuncExperiment(func(ctx context.Context, b *BaseExperiment) (ResultMap, error) {
		return ResultMap{"flowtime": 3.5}, nil
	})

	// WHEN executed
	res, err := Execute(context.Background(), exp)

	// THEN it finishes with the standard keys present
	require.NoError(t, err)
	assert.Equal(t, StateFinished, exp.State())
	assert.Equal(t, 3.5, res["flowtime"])
	assert.Equal(t, 0, res[KeyAborted])
	assert.Contains(t, res, KeyRunTime)
	assert.NotContains(t, res, KeyException)
	assert.False(t, res.IsAborted())
}

func TestExecute_ErrorIsRecordedInMap(t *testing.T) {
	exp := newFuncExperiment(func(ctx context.Context, b *BaseExperiment) (ResultMap, error) {
		return nil, errors.New("model diverged")
	})

	res, err := Execute(context.Background(), exp)

	require.Error(t, err)
	require.NotNil(t, res)
	assert.Equal(t, StateError, exp.State())
	assert.Equal(t, "model diverged", res[KeyException])
	assert.Equal(t, "model diverged", res[KeyExceptionMessage])
	assert.True(t, res.IsAborted(), "failed tasks carry the abort flag")
}

func TestExecute_PanicIsRecovered(t *testing.T) {
	exp := newFuncExperiment(func(ctx context.Context, b *BaseExperiment) (ResultMap, error) {
		panic("boom")
	})

	res, err := Execute(context.Background(), exp)

	require.Error(t, err)
	assert.Equal(t, StateError, exp.State())
	assert.Contains(t, res[KeyException], "boom")
}

func TestExecute_SelfAbort(t *testing.T) {
	exp := newFuncExperiment(func(ctx context.Context, b *BaseExperiment) (ResultMap, error) {
		b.Abort()
		return ResultMap{"partial": 1}, nil
	})

	res, _ := Execute(context.Background(), exp)

	assert.Equal(t, StateAborted, exp.State())
	assert.True(t, res.IsAborted())
	assert.Equal(t, 1, res["partial"])
}

func TestExecute_CancelledContextCountsAsAbort(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	exp := newFuncExperiment(func(ctx context.Context, b *BaseExperiment) (ResultMap, error) {
		return nil, ctx.Err()
	})

	res, err := Execute(ctx, exp)

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, StateAborted, exp.State())
	assert.True(t, res.IsAborted())
}

func TestCancelledResult(t *testing.T) {
	exp := newFuncExperiment(nil)
	res := CancelledResult(exp, context.Canceled)
	assert.True(t, res.IsAborted())
	assert.Equal(t, StateAborted, exp.State())
	assert.Equal(t, context.Canceled.Error(), res[KeyException])
}

func TestCloneBase_ResetsLifecycle(t *testing.T) {
	b := NewBaseExperiment("base", 1)
	b.SetNestingLevel(2)
	b.Abort()
	b.setState(StateFinished)

	c := b.CloneBase(99)

	assert.Equal(t, "base", c.Name())
	assert.Equal(t, int64(99), c.Seed())
	assert.Equal(t, 2, c.NestingLevel())
	assert.Equal(t, StateInitial, c.State())
	assert.False(t, c.Aborted())
}

func TestToFloat(t *testing.T) {
	tests := []struct {
		in   any
		want float64
		ok   bool
	}{
		{3, 3, true},
		{int64(-2), -2, true},
		{uint8(7), 7, true},
		{float32(1.5), 1.5, true},
		{2.25, 2.25, true},
		{"3", 0, false},
		{nil, 0, false},
		{true, 0, false},
	}
	for _, tt := range tests {
		got, ok := ToFloat(tt.in)
		if ok != tt.ok || got != tt.want {
			t.Errorf("ToFloat(%#v) = (%v, %v), want (%v, %v)", tt.in, got, ok, tt.want, tt.ok)
		}
	}
}

func TestResultMap_KeysSorted(t *testing.T) {
	r := ResultMap{"b": 1, "a": 2, "c": 3}
	assert.Equal(t, []string{"a", "b", "c"}, r.Keys())
}
