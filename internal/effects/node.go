// Package effects implements the composable effect-tree engine from §4.5:
// a small interpreter over a tagged-union Node type, supporting leaf
// operations (call, delay, log, data access, provider-backed AI leaves) and
// composite operators (sequence, parallel, race, retry, timeout,
// with_compensation, circuit_breaker, saga), with cancellation keyed by
// (fsm_id, state).
//
// This package never imports internal/fsm — fsm.Instance satisfies
// DataStore structurally, so the dependency points one way only.
package effects

// Kind discriminates the tagged union of effect-tree nodes.
type Kind string

const (
	KindCall             Kind = "call"
	KindDelay            Kind = "delay"
	KindLog              Kind = "log"
	KindPutData          Kind = "put_data"
	KindGetData          Kind = "get_data"
	KindMergeData        Kind = "merge_data"
	KindUpdateData       Kind = "update_data"
	KindGetResult        Kind = "get_result"
	KindCallLLM          Kind = "call_llm"
	KindEmbedText        Kind = "embed_text"
	KindVectorSearch     Kind = "vector_search"
	KindInvokeAgent      Kind = "invoke_agent"
	KindCoordinateAgents Kind = "coordinate_agents"
	KindRAGPipeline      Kind = "rag_pipeline"

	KindSequence        Kind = "sequence"
	KindParallel        Kind = "parallel"
	KindRace            Kind = "race"
	KindRetry           Kind = "retry"
	KindTimeout         Kind = "timeout"
	KindWithCompensation Kind = "with_compensation"
	KindCircuitBreaker  Kind = "circuit_breaker"
	KindSaga            Kind = "saga"
)

// ComplexityClass is the routing key §5 uses to pick a node's worker pool.
// These four values are the complete enum — Validate rejects anything else.
type ComplexityClass string

const (
	ComplexitySimple      ComplexityClass = "simple"
	ComplexityMedium      ComplexityClass = "medium"
	ComplexityComplex     ComplexityClass = "complex"
	ComplexityAIIntensive ComplexityClass = "ai_intensive"
)

// BackoffStrategy is the backoff policy for retry().
type BackoffStrategy string

const (
	BackoffConstant    BackoffStrategy = "constant"
	BackoffLinear      BackoffStrategy = "linear"
	BackoffExponential BackoffStrategy = "exponential"
	BackoffFibonacci   BackoffStrategy = "fibonacci"
)

// Arg is an argument to call(): either a literal value, a reference to
// get_data(key), or a reference to get_result() (the previous sibling's
// result within the enclosing sequence).
type Arg struct {
	Literal     any
	IsGetData   bool
	DataKey     string
	IsGetResult bool
}

// Lit wraps a literal argument value.
func Lit(v any) Arg { return Arg{Literal: v} }

// DataRef builds an argument that resolves to get_data(key) at call time.
func DataRef(key string) Arg { return Arg{IsGetData: true, DataKey: key} }

// ResultRef builds an argument that resolves to the previous sibling's
// result within the enclosing sequence.
func ResultRef() Arg { return Arg{IsGetResult: true} }

// RetryOpts configures retry().
type RetryOpts struct {
	Attempts   int
	Backoff    BackoffStrategy
	BaseDelayMS int
}

// BreakerOpts configures circuit_breaker().
type BreakerOpts struct {
	FailureThreshold int
	RecoveryTimeoutMS int
}

// SagaStep is one (action, compensation) pair within saga().
type SagaStep struct {
	Action       *Node
	Compensation *Node
}

// Node is a single element of an effect tree — either a leaf operation or a
// composite operator over child Nodes.
type Node struct {
	Kind Kind

	// Leaf payloads.
	Target          string
	Args            []Arg
	DelayMS         int
	LogLevel        string
	LogMessage      string
	Key             string
	Value           any
	UpdateFn        func(any) any
	DataMap         map[string]any
	ProviderConfig  map[string]any
	CoordinateAgentSpecs []map[string]any

	// Composite payloads.
	Children     []*Node
	RetryOpts    RetryOpts
	TimeoutMS    int
	Action       *Node
	Compensation *Node
	BreakerOpts  BreakerOpts
	BreakerKey   string
	SagaSteps    []SagaStep

	// ComplexityClass routes this node's execution to a named worker pool
	// (§5); empty means the default pool.
	ComplexityClass ComplexityClass
}

// --- Leaf constructors ---

func Call(target string, args ...Arg) *Node {
	return &Node{Kind: KindCall, Target: target, Args: args, ComplexityClass: ComplexitySimple}
}

func Delay(ms int) *Node { return &Node{Kind: KindDelay, DelayMS: ms} }

func Log(level, message string) *Node {
	return &Node{Kind: KindLog, LogLevel: level, LogMessage: message}
}

func PutData(key string, value any) *Node {
	return &Node{Kind: KindPutData, Key: key, Value: value}
}

func GetData(key string) *Node { return &Node{Kind: KindGetData, Key: key} }

func MergeData(m map[string]any) *Node {
	return &Node{Kind: KindMergeData, DataMap: m}
}

func UpdateData(key string, fn func(any) any) *Node {
	return &Node{Kind: KindUpdateData, Key: key, UpdateFn: fn}
}

func GetResult() *Node { return &Node{Kind: KindGetResult} }

func CallLLM(config map[string]any) *Node {
	return &Node{Kind: KindCallLLM, ProviderConfig: config, ComplexityClass: ComplexityAIIntensive}
}

func EmbedText(config map[string]any) *Node {
	return &Node{Kind: KindEmbedText, ProviderConfig: config, ComplexityClass: ComplexityMedium}
}

func VectorSearch(config map[string]any) *Node {
	return &Node{Kind: KindVectorSearch, ProviderConfig: config, ComplexityClass: ComplexityMedium}
}

func InvokeAgent(config map[string]any) *Node {
	return &Node{Kind: KindInvokeAgent, ProviderConfig: config, ComplexityClass: ComplexityComplex}
}

func CoordinateAgents(agents []map[string]any) *Node {
	return &Node{Kind: KindCoordinateAgents, CoordinateAgentSpecs: agents, ComplexityClass: ComplexityComplex}
}

func RAGPipeline(config map[string]any) *Node {
	return &Node{Kind: KindRAGPipeline, ProviderConfig: config, ComplexityClass: ComplexityAIIntensive}
}

// --- Composite constructors ---

func Sequence(children ...*Node) *Node {
	return &Node{Kind: KindSequence, Children: children}
}

func Parallel(children ...*Node) *Node {
	return &Node{Kind: KindParallel, Children: children}
}

func Race(children ...*Node) *Node {
	return &Node{Kind: KindRace, Children: children}
}

func Retry(child *Node, opts RetryOpts) *Node {
	if opts.Attempts <= 0 {
		opts.Attempts = 3
	}
	if opts.BaseDelayMS <= 0 {
		opts.BaseDelayMS = 1000
	}
	if opts.Backoff == "" {
		opts.Backoff = BackoffConstant
	}
	return &Node{Kind: KindRetry, Children: []*Node{child}, RetryOpts: opts}
}

func Timeout(child *Node, ms int) *Node {
	return &Node{Kind: KindTimeout, Children: []*Node{child}, TimeoutMS: ms}
}

func WithCompensation(action, compensation *Node) *Node {
	return &Node{Kind: KindWithCompensation, Action: action, Compensation: compensation}
}

func CircuitBreaker(child *Node, key string, opts BreakerOpts) *Node {
	if opts.FailureThreshold <= 0 {
		opts.FailureThreshold = 5
	}
	if opts.RecoveryTimeoutMS <= 0 {
		opts.RecoveryTimeoutMS = 30000
	}
	return &Node{Kind: KindCircuitBreaker, Children: []*Node{child}, BreakerKey: key, BreakerOpts: opts}
}

func Saga(steps ...SagaStep) *Node {
	return &Node{Kind: KindSaga, SagaSteps: steps}
}

// WithComplexityClass annotates a node with the worker pool it should run
// on; returns the node for chaining.
func (n *Node) WithComplexityClass(class ComplexityClass) *Node {
	n.ComplexityClass = class
	return n
}
