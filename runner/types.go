// Package runner is the HTTP server wiring around a session.Session pool,
// rebuilt on gin (SPEC_FULL DOMAIN STACK) in place of the teacher's
// net/http.ServeMux, grounded on runner/llamarunner/{server,types,handlers,
// batch,sequence}.go's continuous-batching shape.
package runner

import (
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/inferencecore/llmrt/config"
	"github.com/inferencecore/llmrt/engine"
	"github.com/inferencecore/llmrt/session"
)

// Sequence is one in-flight request's generation state, the runner-level
// analogue of the teacher's Sequence struct, now driving a session.Session
// instead of a raw *llama.Context.
type Sequence struct {
	id string

	sess *session.Session

	sampling       config.Sampling
	numPredict     int
	numPredicted   int
	contextLengths []int32

	stop []string

	responses chan CompletionChunk
	quit      chan struct{}

	doneReason string
}

// CompletionChunk is one streamed piece of a completion response.
type CompletionChunk struct {
	Content string
	Done    bool
	Reason  string
}

// LogitsSource supplies the current step's widened logits and prior-token
// history for a sequence. Producing real logits requires a loaded model and
// a running engine — both out of this module's scope (spec.md §1) — so the
// runner depends on this narrow seam instead of computing them itself; a
// caller wiring a real engine/model pair implements it.
type LogitsSource interface {
	NextStepLogits(seqID string, step int) (logits [][]float32, priorTokens [][]int32, err error)
}

// Detokenizer turns sampled token ids back into text for streaming
// responses. Tokenization/detokenization is out of this module's scope
// (spec.md §1); the runner only needs this seam to decide where a stop
// string or an incomplete UTF-8 boundary falls.
type Detokenizer interface {
	Decode(tokens []int32) (string, error)
}

// Server owns the engine, the session pool, and the semaphore bounding how
// many sequences may run concurrently (mirrors the teacher's
// Server.seqsSem).
type Server struct {
	mu   sync.Mutex
	cond *sync.Cond

	seqs    map[string]*Sequence
	seqsSem *semaphore.Weighted

	logits      LogitsSource
	detokenizer Detokenizer

	rt    *engine.Runtime
	model config.Model

	parallel  int
	batchSize int

	status string
}

// SetEngine binds the deserialized engine and its static model description,
// transitioning the server into a state where /completion can allocate
// sessions. Mirrors the teacher's loadModel assigning s.lc/s.model.
func (srv *Server) SetEngine(rt *engine.Runtime, model config.Model) {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	srv.rt = rt
	srv.model = model
}

func (srv *Server) runtime() *engine.Runtime {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	return srv.rt
}

func (srv *Server) modelConfig() config.Model {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	return srv.model
}

// NewServer constructs a Server with capacity for `parallel` concurrent
// sequences.
func NewServer(parallel, batchSize int, logits LogitsSource, detok Detokenizer) *Server {
	s := &Server{
		seqs:        make(map[string]*Sequence),
		seqsSem:     semaphore.NewWeighted(int64(parallel)),
		logits:      logits,
		detokenizer: detok,
		parallel:    parallel,
		batchSize:   batchSize,
		status:      "loading",
	}
	s.cond = sync.NewCond(&s.mu)
	return s
}
