package runner

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/inferencecore/llmrt/config"
	"github.com/inferencecore/llmrt/session"
)

var errorInputTooLong = fmt.Errorf("runner: input exceeds the session's configured context length")

// NewSequenceParams mirrors the teacher's NewSequenceParams: the knobs a
// single completion request can override on top of the server's defaults.
type NewSequenceParams struct {
	Sampling   config.Sampling
	NumPredict int
	Stop       []string
}

// NewSequence wraps an already set-up session.Session in a fresh Sequence
// with its own id and response channel. It does not tokenize or truncate
// input and does not call Setup; the completion handler has done that.
func (srv *Server) NewSequence(sess *session.Session, p NewSequenceParams) (*Sequence, error) {
	seq := &Sequence{
		id:         uuid.NewString(),
		sess:       sess,
		sampling:   p.Sampling,
		numPredict: p.NumPredict,
		stop:       p.Stop,
		responses:  make(chan CompletionChunk, 16),
		quit:       make(chan struct{}),
	}
	return seq, nil
}

// removeSequence tears down a finished/cancelled sequence and releases its
// semaphore slot, mirroring the teacher's removeSequence cleanup.
func (srv *Server) removeSequence(id string, reason string) {
	srv.mu.Lock()
	seq, ok := srv.seqs[id]
	if ok {
		delete(srv.seqs, id)
	}
	srv.mu.Unlock()
	if !ok {
		return
	}
	seq.doneReason = reason
	close(seq.quit)
	seq.sess.Close()
	srv.seqsSem.Release(1)
	srv.cond.Broadcast()
}

// step reports the generation step this sequence is currently at, read from
// its session's lifecycle state.
func (seq *Sequence) step() int {
	if seq.sess.State() < session.Generation {
		return 0
	}
	return seq.numPredicted + 1
}

// pendingText detokenizes the most recently sampled token for this
// sequence's first row (beam 0), the text the runner streams back to the
// caller for this step.
func (seq *Sequence) pendingText(detok Detokenizer) (string, error) {
	if detok == nil {
		return "", nil
	}
	return detok.Decode([]int32{seq.sess.LastToken(0)})
}

// flushPending delivers one chunk to the sequence's response channel,
// mirroring the teacher's flushPending UTF-8-safe trimming: callers already
// hold back incomplete trailing UTF-8 via runner.IncompleteUnicode before
// calling this.
func (seq *Sequence) flushPending(content string, done bool, reason string) bool {
	select {
	case seq.responses <- CompletionChunk{Content: content, Done: done, Reason: reason}:
		return true
	case <-seq.quit:
		return false
	}
}
