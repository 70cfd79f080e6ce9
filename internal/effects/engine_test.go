package effects

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"statecraft/internal/xerr"
)

func newTestEngine() *Engine {
	return NewEngine(NewFunctionRegistry(), NopProvider{}, nil)
}

func TestSequenceCarriesResultForward(t *testing.T) {
	e := newTestEngine()
	e.Functions.Register("double", func(_ context.Context, args []any) (any, error) {
		n, _ := args[0].(int)
		return n * 2, nil
	})

	tree := Sequence(
		Call("double", Lit(3)),
		Call("double", ResultRef()),
	)

	res := e.Execute(context.Background(), "t1", "fsm1", tree, NewMapStore())
	require.True(t, res.OK)
	assert.Equal(t, 12, res.Value)
}

func TestGetResultOutsideSequenceIsEmpty(t *testing.T) {
	e := newTestEngine()
	res := e.Execute(context.Background(), "t1", "fsm1", GetResult(), NewMapStore())
	require.True(t, res.OK)
	assert.Equal(t, "", res.Value)
}

func TestSequenceAbortsOnFirstFailure(t *testing.T) {
	e := newTestEngine()
	e.Functions.Register("boom", func(context.Context, []any) (any, error) {
		return nil, errors.New("kaboom")
	})
	ran := false
	e.Functions.Register("never", func(context.Context, []any) (any, error) {
		ran = true
		return nil, nil
	})

	tree := Sequence(Call("boom"), Call("never"))
	res := e.Execute(context.Background(), "t1", "fsm1", tree, NewMapStore())
	require.False(t, res.OK)
	assert.False(t, ran)
	assert.Equal(t, xerr.CallFailed, xerr.TagOf(res.Err))
}

func TestParallelReturnsFirstErrorInOrder(t *testing.T) {
	e := newTestEngine()
	e.Functions.Register("fail1", func(context.Context, []any) (any, error) { return nil, errors.New("e1") })
	e.Functions.Register("fail2", func(context.Context, []any) (any, error) { return nil, errors.New("e2") })
	e.Functions.Register("slow_ok", func(context.Context, []any) (any, error) {
		time.Sleep(5 * time.Millisecond)
		return "ok", nil
	})

	tree := Parallel(Call("fail1"), Call("slow_ok"), Call("fail2"))
	res := e.Execute(context.Background(), "t1", "fsm1", tree, NewMapStore())
	require.False(t, res.OK)
	assert.Contains(t, res.Err.Error(), "e1")
}

func TestRaceCancelsLosers(t *testing.T) {
	e := newTestEngine()
	tree := Race(Delay(5), Delay(200))
	start := time.Now()
	res := e.Execute(context.Background(), "t1", "fsm1", tree, NewMapStore())
	elapsed := time.Since(start)
	require.True(t, res.OK)
	assert.Less(t, elapsed, 100*time.Millisecond)
}

func TestRetryExhaustion(t *testing.T) {
	e := newTestEngine()
	attempts := 0
	e.Functions.Register("always_fails", func(context.Context, []any) (any, error) {
		attempts++
		return nil, errors.New("nope")
	})

	tree := Retry(Call("always_fails"), RetryOpts{Attempts: 3, Backoff: BackoffConstant, BaseDelayMS: 1})
	res := e.Execute(context.Background(), "t1", "fsm1", tree, NewMapStore())
	require.False(t, res.OK)
	assert.Equal(t, 3, attempts)
	assert.Equal(t, xerr.MaxRetriesExceeded, xerr.TagOf(res.Err))
}

func TestTimeoutFiresBeforeSlowChild(t *testing.T) {
	e := newTestEngine()
	tree := Timeout(Delay(100), 10)
	res := e.Execute(context.Background(), "t1", "fsm1", tree, NewMapStore())
	require.False(t, res.OK)
	assert.Equal(t, xerr.Timeout, xerr.TagOf(res.Err))
}

func TestWithCompensationRunsOnFailureAndReturnsOriginalError(t *testing.T) {
	e := newTestEngine()
	e.Functions.Register("fail_action", func(context.Context, []any) (any, error) { return nil, errors.New("action failed") })
	compensated := false
	e.Functions.Register("compensate", func(context.Context, []any) (any, error) {
		compensated = true
		return "rolled_back", nil
	})

	tree := WithCompensation(Call("fail_action"), Call("compensate"))
	res := e.Execute(context.Background(), "t1", "fsm1", tree, NewMapStore())
	require.False(t, res.OK)
	assert.True(t, compensated)
	assert.Contains(t, res.Err.Error(), "action failed")
}

func TestCircuitBreakerOpensAfterThreshold(t *testing.T) {
	e := newTestEngine()
	e.Functions.Register("always_fails", func(context.Context, []any) (any, error) { return nil, errors.New("down") })

	opts := BreakerOpts{FailureThreshold: 2, RecoveryTimeoutMS: 10000}
	tree := func() *Node { return CircuitBreaker(Call("always_fails"), "svc:test", opts) }

	res1 := e.Execute(context.Background(), "t1", "fsm1", tree(), NewMapStore())
	require.False(t, res1.OK)
	res2 := e.Execute(context.Background(), "t1", "fsm1", tree(), NewMapStore())
	require.False(t, res2.OK)

	res3 := e.Execute(context.Background(), "t1", "fsm1", tree(), NewMapStore())
	require.False(t, res3.OK)
	assert.Equal(t, xerr.CircuitBreakerOpen, xerr.TagOf(res3.Err))
}

func TestSagaCompensatesInReverseOnFailure(t *testing.T) {
	e := newTestEngine()
	var order []string
	e.Functions.Register("step1", func(context.Context, []any) (any, error) { order = append(order, "s1"); return "ok", nil })
	e.Functions.Register("comp1", func(context.Context, []any) (any, error) { order = append(order, "c1"); return "ok", nil })
	e.Functions.Register("step2_fail", func(context.Context, []any) (any, error) { return nil, errors.New("boom") })

	tree := Saga(
		SagaStep{Action: Call("step1"), Compensation: Call("comp1")},
		SagaStep{Action: Call("step2_fail")},
	)
	res := e.Execute(context.Background(), "t1", "fsm1", tree, NewMapStore())
	require.False(t, res.OK)
	assert.Equal(t, []string{"s1", "c1"}, order)
}

func TestCancelStateStopsInFlightDelay(t *testing.T) {
	e := newTestEngine()
	store := NewMapStore()
	resCh := e.Start(context.Background(), "t1", "fsm1", "open", Delay(5000), store)

	time.Sleep(10 * time.Millisecond)
	e.CancelState("fsm1", "open")

	select {
	case res := <-resCh:
		require.False(t, res.OK)
		assert.Equal(t, xerr.Cancelled, xerr.TagOf(res.Err))
	case <-time.After(time.Second):
		t.Fatal("effect was not cancelled in time")
	}
}
