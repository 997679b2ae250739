// Package session implements the generation session state machine
// (spec.md §4.3), the runtime's central component: it owns every per-step
// buffer named in spec.md §3, drives the engine.Runtime's execution
// contexts through the context and generation phases, and delegates
// sampling to decoder.Dynamic and cache bookkeeping to kvcache.Manager.
//
// Grounded on generation.py's GenerationSession (setup/decode/handle_per_step)
// fused with the continuous-batching loop in runner/llamarunner/
// {server,batch,sequence,types}.go: the state names (Created, Configured,
// Context, Generation, Stopped, Exhausted) are new (TensorRT-LLM's Python
// class has no explicit state enum), introduced here to make the step
// algorithm's preconditions checkable in Go rather than assumed by call
// order.
package session

import (
	"fmt"
	"sync"

	"github.com/inferencecore/llmrt/config"
	"github.com/inferencecore/llmrt/decoder"
	"github.com/inferencecore/llmrt/engine"
	"github.com/inferencecore/llmrt/ipc"
	"github.com/inferencecore/llmrt/kvcache"
	"github.com/inferencecore/llmrt/lora"
	"github.com/inferencecore/llmrt/mapping"
)

// State is the generation session's lifecycle position (spec.md §4.3).
type State int

const (
	Created State = iota
	Configured
	Context
	Generation
	Stopped
	Exhausted
)

func (s State) String() string {
	switch s {
	case Created:
		return "created"
	case Configured:
		return "configured"
	case Context:
		return "context"
	case Generation:
		return "generation"
	case Stopped:
		return "stopped"
	case Exhausted:
		return "exhausted"
	default:
		return "unknown"
	}
}

// Buffers holds every per-request tensor spec.md §3 names. Index 0 of the
// *2 ping-pong fields (CacheIndirection) is canonical at step 0; by Open
// Question 1, alternation between the two begins at step 1.
type Buffers struct {
	OutputIDs        [][]int32    // [batch*beam][maxSeqLen]
	ParentIDs        [][]int32    // [batch*beam][maxSeqLen]
	NewTokens        []int32      // [batch*beam]
	SequenceLengths  []int32      // [batch*beam]
	Finished         []bool       // [batch*beam]
	EndIDs           []int32      // [batch]
	CacheIndirection [2][][]int32 // ping-pong, [batch][beam*maxAttentionWindow]

	CumLogProbs []float32 // [batch*beam]
	LogProbs    [][]float32

	// BeamHyps is the session's decoder.Dynamic, which owns the
	// beam-hypotheses store; GenerationStep calls its Forward once per step.
	// FinalizeDecoder does not read it.
	BeamHyps *decoder.Dynamic

	ContextLogits    [][]float32 // only when GatherAllTokenLogits
	GenerationLogits [][]float32
}

// Session is the generation session state machine. One Session drives one
// in-flight batch from Setup through Stopped/Exhausted; the runner package
// pools Sessions the way the teacher's Server pools *Sequence.
type Session struct {
	mu sync.Mutex

	state State

	rt      *engine.Runtime
	model   config.Model
	mapping mapping.Topology
	variant Variant

	cache   kvcache.Manager
	loraBnd *lora.Binder
	loraUID string
	ws      *ipc.Workspace

	ctxProfile *engine.Context
	gen0       *engine.Context
	gen1       *engine.Context

	sampling  config.Sampling
	batchSize int
	beamWidth int
	maxNewTok int

	step int
	buf  Buffers
	pp   PPTransport

	debugMode     bool
	cudaGraphMode bool
}

// Options bundles the constructor parameters spec.md §6 calls out as
// session-level (not per-request): stream handle ownership is the caller's,
// debug mode, and CUDA-graph mode.
type Options struct {
	Runtime   *engine.Runtime
	Model     config.Model
	Mapping   mapping.Topology
	Variant   Variant
	LoraBind  *lora.Binder
	Workspace *ipc.Workspace

	DebugMode     bool
	CudaGraphMode bool
}

// New constructs a Session in the Created state. No engine resources are
// bound yet; call Setup to transition to Configured.
func New(opts Options) (*Session, error) {
	if opts.Runtime == nil {
		return nil, &ConfigError{Precondition: "runtime", Err: fmt.Errorf("nil engine.Runtime")}
	}
	variant := opts.Variant
	if variant == nil {
		variant = Standard{}
	}
	return &Session{
		state:         Created,
		rt:            opts.Runtime,
		model:         opts.Model,
		mapping:       opts.Mapping,
		variant:       variant,
		loraBnd:       opts.LoraBind,
		loraUID:       lora.NoAdapter,
		ws:            opts.Workspace,
		debugMode:     opts.DebugMode,
		cudaGraphMode: opts.CudaGraphMode,
	}, nil
}

// State reports the session's current lifecycle position.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) requireState(want State) error {
	if s.state != want {
		return &InvariantError{Invariant: fmt.Sprintf("expected state %s, got %s", want, s.state)}
	}
	return nil
}

func (s *Session) transition(to State) { s.state = to }
