package effects

import (
	"context"
	"sync"

	"statecraft/internal/xerr"
)

// Provider is the transport seam for the AI-flavored leaves: the engine's
// only contract is config-in, result-out, plus telemetry — it never
// evaluates prompts, embeddings, or agent behavior itself. Concrete LLM or
// agent backends implement this outside of the core.
type Provider interface {
	CallLLM(ctx context.Context, config map[string]any) (any, error)
	EmbedText(ctx context.Context, config map[string]any) (any, error)
	VectorSearch(ctx context.Context, config map[string]any) (any, error)
	InvokeAgent(ctx context.Context, config map[string]any) (any, error)
	CoordinateAgents(ctx context.Context, agents []map[string]any) (any, error)
	RAGPipeline(ctx context.Context, config map[string]any) (any, error)
}

// NopProvider stubs every provider call with an :unimplemented_effect error,
// so an engine can be wired up and exercised before any real backend exists.
type NopProvider struct{}

func (NopProvider) CallLLM(context.Context, map[string]any) (any, error) {
	return nil, xerr.New(xerr.UnimplementedEffect, "call_llm")
}

func (NopProvider) EmbedText(context.Context, map[string]any) (any, error) {
	return nil, xerr.New(xerr.UnimplementedEffect, "embed_text")
}

func (NopProvider) VectorSearch(context.Context, map[string]any) (any, error) {
	return nil, xerr.New(xerr.UnimplementedEffect, "vector_search")
}

func (NopProvider) InvokeAgent(context.Context, map[string]any) (any, error) {
	return nil, xerr.New(xerr.UnimplementedEffect, "invoke_agent")
}

func (NopProvider) CoordinateAgents(context.Context, []map[string]any) (any, error) {
	return nil, xerr.New(xerr.UnimplementedEffect, "coordinate_agents")
}

func (NopProvider) RAGPipeline(context.Context, map[string]any) (any, error) {
	return nil, xerr.New(xerr.UnimplementedEffect, "rag_pipeline")
}

// Function is a registered call() target.
type Function func(ctx context.Context, args []any) (any, error)

// FunctionRegistry resolves call() targets by name.
type FunctionRegistry struct {
	mu   sync.RWMutex
	fns  map[string]Function
}

func NewFunctionRegistry() *FunctionRegistry {
	return &FunctionRegistry{fns: make(map[string]Function)}
}

// Register exports a function under name, overwriting any prior export.
func (r *FunctionRegistry) Register(name string, fn Function) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fns[name] = fn
}

// Call resolves and invokes name. Returns :function_not_exported if name was
// never registered, or :call_failed if the function itself panics.
func (r *FunctionRegistry) Call(ctx context.Context, name string, args []any) (result any, err error) {
	r.mu.RLock()
	fn, ok := r.fns[name]
	r.mu.RUnlock()
	if !ok {
		return nil, xerr.Wrap(xerr.FunctionNotExported, name, "", nil)
	}

	defer func() {
		if p := recover(); p != nil {
			err = xerr.Wrap(xerr.CallFailed, name, "panic during call", nil)
		}
	}()

	result, callErr := fn(ctx, args)
	if callErr != nil {
		return nil, xerr.Wrap(xerr.CallFailed, name, callErr.Error(), callErr)
	}
	return result, nil
}
