package effects

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"statecraft/internal/telemetry"
	"statecraft/internal/xerr"
)

// Result is the outcome of executing one node.
type Result struct {
	OK    bool
	Value any
	Err   error
}

func ok(v any) Result          { return Result{OK: true, Value: v} }
func failed(err error) Result  { return Result{OK: false, Err: err} }

// evalCtx threads "the previous sibling's result" through a sequence so
// get_result() can resolve it. Composite operators that fan out
// concurrently (parallel, race) give each branch its own fresh evalCtx —
// get_result() has no meaning across concurrent siblings.
type evalCtx struct {
	lastResult any
	hasResult  bool
}

// runKey identifies the cancellation scope an execution is registered
// under: every running execution belongs to exactly one (fsm_id, state).
type runKey struct {
	fsmID string
	state string
}

// Engine interprets effect trees. One Engine is shared process-wide; it
// holds no per-instance state beyond the running-execution registry needed
// for cancellation and the circuit-breaker/pool registries, both of which
// are keyed explicitly by callers.
type Engine struct {
	Functions *FunctionRegistry
	Provider  Provider
	Sink      telemetry.Sink

	pools    *poolRegistry
	breakers *breakerRegistry

	mu      sync.Mutex
	running map[runKey]map[string]context.CancelFunc
}

// NewEngine builds an Engine. A nil provider defaults to NopProvider; a nil
// sink defaults to telemetry.Nop.
func NewEngine(functions *FunctionRegistry, provider Provider, sink telemetry.Sink) *Engine {
	if functions == nil {
		functions = NewFunctionRegistry()
	}
	if provider == nil {
		provider = NopProvider{}
	}
	if sink == nil {
		sink = telemetry.Nop
	}
	return &Engine{
		Functions: functions,
		Provider:  provider,
		Sink:      sink,
		pools:     newPoolRegistry(),
		breakers:  newBreakerRegistry(),
		running:   make(map[runKey]map[string]context.CancelFunc),
	}
}

// Start executes a root effect node for fsmID/state, asynchronously to the
// caller's transition step. The returned channel receives exactly one
// Result once the tree finishes, errors out, or is cancelled.
func (e *Engine) Start(parent context.Context, tenantID, fsmID, state string, n *Node, ds DataStore) <-chan Result {
	out := make(chan Result, 1)
	if n == nil {
		out <- ok(nil)
		return out
	}

	if err := Validate(n); err != nil {
		out <- failed(err)
		return out
	}

	executionID := uuid.NewString()
	ctx, cancel := context.WithCancel(parent)
	key := runKey{fsmID: fsmID, state: state}

	e.mu.Lock()
	if e.running[key] == nil {
		e.running[key] = make(map[string]context.CancelFunc)
	}
	e.running[key][executionID] = cancel
	e.mu.Unlock()

	go func() {
		defer func() {
			e.mu.Lock()
			delete(e.running[key], executionID)
			if len(e.running[key]) == 0 {
				delete(e.running, key)
			}
			e.mu.Unlock()
			cancel()
		}()

		res := e.Execute(ctx, tenantID, fsmID, n, ds)
		out <- res
	}()

	return out
}

// CancelState sends a cancellation notice to every execution registered
// under (fsmID, state) — called both by cancel_effects and by the engine's
// own "new state entered" signal (§4.5). Workers that cooperate via
// context-aware primitives observe this as error(:cancelled); the ~10ms
// grace period named in the spec is inherent to Go's cooperative
// cancellation model, since goroutines cannot be forcibly terminated.
func (e *Engine) CancelState(fsmID, state string) {
	key := runKey{fsmID: fsmID, state: state}

	e.mu.Lock()
	cancels := e.running[key]
	e.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
}

// Execute runs n synchronously and returns its Result. Exported so tests,
// and callers that want a blocking run (e.g. a call() from a hook), can run
// a tree without going through the async Start/cancellation machinery.
// The transition engine itself launches entry effects through Start.
func (e *Engine) Execute(ctx context.Context, tenantID, fsmID string, n *Node, ds DataStore) Result {
	return e.eval(ctx, tenantID, fsmID, n, ds, &evalCtx{})
}

func (e *Engine) eval(ctx context.Context, tenantID, fsmID string, n *Node, ds DataStore, ec *evalCtx) Result {
	start := time.Now()
	e.emit(telemetry.TopicEffectStarted, tenantID, fsmID, n, "", 0)

	res := e.dispatch(ctx, tenantID, fsmID, n, ds, ec)

	dur := telemetry.Duration(start)
	switch {
	case ctx.Err() != nil && !res.OK:
		e.emit(telemetry.TopicEffectCancel, tenantID, fsmID, n, "", dur)
	case res.OK:
		e.emit(telemetry.TopicEffectComplete, tenantID, fsmID, n, "", dur)
	default:
		e.emit(telemetry.TopicEffectFailed, tenantID, fsmID, n, xerr.TagOf(res.Err), dur)
	}
	return res
}

func (e *Engine) dispatch(ctx context.Context, tenantID, fsmID string, n *Node, ds DataStore, ec *evalCtx) Result {
	if ctx.Err() != nil {
		return failed(xerr.New(xerr.Cancelled, "state exited before effect ran"))
	}

	switch n.Kind {
	case KindCall:
		return e.runInPool(ctx, n, func() Result { return e.execCall(ctx, n, ds, ec) })
	case KindDelay:
		return e.execDelay(ctx, n)
	case KindLog:
		return ok("logged")
	case KindPutData:
		ds.PutData(n.Key, n.Value)
		return ok(n.Value)
	case KindGetData:
		return ok(ds.GetData(n.Key))
	case KindMergeData:
		ds.MergeData(n.DataMap)
		return ok(n.DataMap)
	case KindUpdateData:
		ds.UpdateData(n.Key, n.UpdateFn)
		return ok(ds.GetData(n.Key))
	case KindGetResult:
		if ec.hasResult {
			return ok(ec.lastResult)
		}
		return ok("")
	case KindCallLLM:
		return e.runInPool(ctx, n, func() Result { return wrap(e.Provider.CallLLM(ctx, n.ProviderConfig)) })
	case KindEmbedText:
		return e.runInPool(ctx, n, func() Result { return wrap(e.Provider.EmbedText(ctx, n.ProviderConfig)) })
	case KindVectorSearch:
		return e.runInPool(ctx, n, func() Result { return wrap(e.Provider.VectorSearch(ctx, n.ProviderConfig)) })
	case KindInvokeAgent:
		return e.runInPool(ctx, n, func() Result { return wrap(e.Provider.InvokeAgent(ctx, n.ProviderConfig)) })
	case KindCoordinateAgents:
		return e.runInPool(ctx, n, func() Result { return wrap(e.Provider.CoordinateAgents(ctx, n.CoordinateAgentSpecs)) })
	case KindRAGPipeline:
		return e.runInPool(ctx, n, func() Result { return wrap(e.Provider.RAGPipeline(ctx, n.ProviderConfig)) })

	case KindSequence:
		return e.execSequence(ctx, tenantID, fsmID, n, ds)
	case KindParallel:
		return e.execParallel(ctx, tenantID, fsmID, n, ds)
	case KindRace:
		return e.execRace(ctx, tenantID, fsmID, n, ds)
	case KindRetry:
		return e.execRetry(ctx, tenantID, fsmID, n, ds)
	case KindTimeout:
		return e.execTimeout(ctx, tenantID, fsmID, n, ds)
	case KindWithCompensation:
		return e.execWithCompensation(ctx, tenantID, fsmID, n, ds)
	case KindCircuitBreaker:
		return e.execCircuitBreaker(ctx, tenantID, fsmID, n, ds)
	case KindSaga:
		return e.execSaga(ctx, tenantID, fsmID, n, ds)

	default:
		return failed(xerr.New(xerr.UnimplementedEffect, string(n.Kind)))
	}
}

func (e *Engine) runInPool(ctx context.Context, n *Node, fn func() Result) Result {
	p := e.pools.get(n.ComplexityClass)
	var res Result
	if err := p.run(ctx, func() { res = fn() }); err != nil {
		return failed(xerr.New(xerr.Cancelled, "pool wait cancelled"))
	}
	return res
}

func wrap(v any, err error) Result {
	if err != nil {
		return failed(err)
	}
	return ok(v)
}

func (e *Engine) execCall(ctx context.Context, n *Node, ds DataStore, ec *evalCtx) Result {
	args := make([]any, len(n.Args))
	for i, a := range n.Args {
		switch {
		case a.IsGetResult:
			if ec.hasResult {
				args[i] = ec.lastResult
			} else {
				args[i] = ""
			}
		case a.IsGetData:
			args[i] = ds.GetData(a.DataKey)
		default:
			args[i] = a.Literal
		}
	}
	v, err := e.Functions.Call(ctx, n.Target, args)
	if err != nil {
		return failed(err)
	}
	return ok(v)
}

func (e *Engine) execDelay(ctx context.Context, n *Node) Result {
	timer := time.NewTimer(time.Duration(n.DelayMS) * time.Millisecond)
	defer timer.Stop()
	select {
	case <-timer.C:
		return ok("delayed")
	case <-ctx.Done():
		return failed(xerr.New(xerr.Cancelled, "delay preempted"))
	}
}

func (e *Engine) execSequence(ctx context.Context, tenantID, fsmID string, n *Node, ds DataStore) Result {
	ec := &evalCtx{}
	var last Result
	for _, child := range n.Children {
		res := e.eval(ctx, tenantID, fsmID, child, ds, ec)
		if !res.OK {
			return res
		}
		ec.lastResult = res.Value
		ec.hasResult = true
		last = res
	}
	return last
}

func (e *Engine) execParallel(ctx context.Context, tenantID, fsmID string, n *Node, ds DataStore) Result {
	results := make([]Result, len(n.Children))
	var g errgroup.Group
	for i, child := range n.Children {
		i, child := i, child
		g.Go(func() error {
			results[i] = e.eval(ctx, tenantID, fsmID, child, ds, &evalCtx{})
			return nil
		})
	}
	_ = g.Wait()

	for _, res := range results {
		if !res.OK {
			return res
		}
	}
	values := make([]any, len(results))
	for i, res := range results {
		values[i] = res.Value
	}
	return ok(values)
}

func (e *Engine) execRace(ctx context.Context, tenantID, fsmID string, n *Node, ds DataStore) Result {
	if len(n.Children) == 0 {
		return ok(nil)
	}

	raceCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	type indexed struct {
		idx int
		res Result
	}
	resultCh := make(chan indexed, len(n.Children))

	for i, child := range n.Children {
		i, child := i, child
		go func() {
			res := e.eval(raceCtx, tenantID, fsmID, child, ds, &evalCtx{})
			select {
			case resultCh <- indexed{idx: i, res: res}:
			case <-raceCtx.Done():
			}
		}()
	}

	winner := <-resultCh
	cancel() // signal the rest to stop
	return winner.res
}

func (e *Engine) execRetry(ctx context.Context, tenantID, fsmID string, n *Node, ds DataStore) Result {
	child := n.Children[0]
	opts := n.RetryOpts

	var last Result
	for attempt := 1; attempt <= opts.Attempts; attempt++ {
		if attempt > 1 {
			e.emit(telemetry.TopicEffectRetry, tenantID, fsmID, n, "", 0)
			delay := backoffDelay(opts, attempt-1)
			timer := time.NewTimer(delay)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				return failed(xerr.New(xerr.Cancelled, "retry preempted"))
			}
		}

		last = e.eval(ctx, tenantID, fsmID, child, ds, &evalCtx{})
		if last.OK {
			return last
		}
		if ctx.Err() != nil {
			return failed(xerr.New(xerr.Cancelled, "retry preempted"))
		}
	}
	return failed(xerr.Wrap(xerr.MaxRetriesExceeded, "", fmt.Sprintf("%d attempts", opts.Attempts), last.Err))
}

func backoffDelay(opts RetryOpts, attemptsSoFar int) time.Duration {
	base := time.Duration(opts.BaseDelayMS) * time.Millisecond
	switch opts.Backoff {
	case BackoffLinear:
		return base * time.Duration(attemptsSoFar+1)
	case BackoffExponential:
		return base * time.Duration(1<<uint(attemptsSoFar))
	case BackoffFibonacci:
		return base * time.Duration(fibonacci(attemptsSoFar+1))
	default: // constant
		return base
	}
}

func fibonacci(n int) int64 {
	var a, b int64 = 1, 1
	for i := 0; i < n-1; i++ {
		a, b = b, a+b
	}
	return a
}

func (e *Engine) execTimeout(ctx context.Context, tenantID, fsmID string, n *Node, ds DataStore) Result {
	child := n.Children[0]
	tctx, cancel := context.WithTimeout(ctx, time.Duration(n.TimeoutMS)*time.Millisecond)
	defer cancel()

	done := make(chan Result, 1)
	go func() {
		done <- e.eval(tctx, tenantID, fsmID, child, ds, &evalCtx{})
	}()

	select {
	case res := <-done:
		return res
	case <-tctx.Done():
		e.emit(telemetry.TopicEffectTimeout, tenantID, fsmID, n, "", 0)
		return failed(xerr.New(xerr.Timeout, fmt.Sprintf("exceeded %dms", n.TimeoutMS)))
	}
}

func (e *Engine) execWithCompensation(ctx context.Context, tenantID, fsmID string, n *Node, ds DataStore) Result {
	res := e.eval(ctx, tenantID, fsmID, n.Action, ds, &evalCtx{})
	if res.OK {
		return res
	}

	comp := e.eval(ctx, tenantID, fsmID, n.Compensation, ds, &evalCtx{})
	if !comp.OK {
		return failed(xerr.Wrap(xerr.CompensationFailed, "", comp.Err.Error(), comp.Err))
	}
	return res
}

func (e *Engine) execCircuitBreaker(ctx context.Context, tenantID, fsmID string, n *Node, ds DataStore) Result {
	b := e.breakers.get(fsmID+"|"+n.BreakerKey, n.BreakerOpts)

	if !b.allow() {
		e.emit(telemetry.TopicEffectBreaker, tenantID, fsmID, n, "", 0)
		e.Sink.Emit(telemetry.TopicEffectBreaker, telemetry.Fields{
			"key": n.BreakerKey, "state": b.snapshot(), "fsm_id": fsmID, "tenant_id": tenantID,
		})
		return failed(xerr.New(xerr.CircuitBreakerOpen, n.BreakerKey))
	}

	res := e.eval(ctx, tenantID, fsmID, n.Children[0], ds, &evalCtx{})
	if res.OK {
		b.recordSuccess()
	} else {
		b.recordFailure()
	}
	e.Sink.Emit(telemetry.TopicEffectBreaker, telemetry.Fields{
		"key": n.BreakerKey, "state": b.snapshot(), "fsm_id": fsmID, "tenant_id": tenantID,
	})
	return res
}

// sagaOutcome summarizes a saga() run for callers that want step-level
// detail rather than just the terminal ok/error.
type sagaOutcome struct {
	CompletedSteps int  `json:"completed_steps"`
	RolledBack     bool `json:"rolled_back"`
}

func (e *Engine) execSaga(ctx context.Context, tenantID, fsmID string, n *Node, ds DataStore) Result {
	completed := 0
	var failure error

	for _, step := range n.SagaSteps {
		res := e.eval(ctx, tenantID, fsmID, step.Action, ds, &evalCtx{})
		if res.OK {
			completed++
			continue
		}
		failure = res.Err
		break
	}

	if failure == nil {
		return ok(sagaOutcome{CompletedSteps: completed, RolledBack: false})
	}

	for i := completed - 1; i >= 0; i-- {
		step := n.SagaSteps[i]
		if step.Compensation == nil {
			continue
		}
		_ = e.eval(ctx, tenantID, fsmID, step.Compensation, ds, &evalCtx{})
	}

	e.emit(telemetry.TopicEffectCompose, tenantID, fsmID, n, xerr.TagOf(failure), 0)
	return Result{
		OK:    false,
		Value: sagaOutcome{CompletedSteps: completed, RolledBack: true},
		Err:   failure,
	}
}

func (e *Engine) emit(topic, tenantID, fsmID string, n *Node, tag string, dur int64) {
	fields := telemetry.Fields{
		"node_kind": string(n.Kind),
		"fsm_id":    fsmID,
		"tenant_id": tenantID,
	}
	if tag != "" {
		fields["tag"] = tag
	}
	if dur > 0 {
		fields["duration_us"] = dur
	}
	e.Sink.Emit(topic, fields)
}
