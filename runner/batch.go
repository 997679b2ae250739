package runner

import (
	"context"
	"log/slog"

	"github.com/inferencecore/llmrt/session"
)

// run is the server's single continuous-batching loop, mirroring the
// teacher's run(ctx)/processBatch: one goroutine owns every session's
// generation step so concurrent requests share engine launches instead of
// each blocking on its own.
func (srv *Server) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		srv.processBatch()
	}
}

// processBatch advances every active sequence by one generation step,
// mirroring the teacher's processBatch round-robin: cond.Wait when nothing
// is runnable, otherwise drive each sequence's session.Session forward and
// publish newly decoded text.
func (srv *Server) processBatch() {
	srv.mu.Lock()
	for len(srv.seqs) == 0 {
		srv.cond.Wait()
	}
	active := make([]*Sequence, 0, len(srv.seqs))
	for _, seq := range srv.seqs {
		active = append(active, seq)
	}
	srv.mu.Unlock()

	for _, seq := range active {
		if err := srv.stepSequence(seq); err != nil {
			slog.Error("generation step failed", "sequence", seq.id, "err", err)
			seq.flushPending("", true, "error")
			srv.removeSequence(seq.id, "error")
		}
	}
}

// stepSequence drives one sequence's session.Session through a single
// generation step and forwards any newly produced text, applying the same
// stop-sequence and incomplete-UTF-8 holdback rules as the teacher's
// processBatch post-decode block.
func (srv *Server) stepSequence(seq *Sequence) error {
	if seq.contextLengths == nil {
		return nil // context step not yet run for this sequence
	}

	logits, prior, err := srv.logits.NextStepLogits(seq.id, seq.step())
	if err != nil {
		return err
	}

	stop, err := seq.sess.GenerationStep(session.GenerationInput{
		ContextLengths: seq.contextLengths,
		Logits:         logits,
		PriorTokens:    prior,
	})
	if err != nil {
		return err
	}

	text, err := seq.pendingText(srv.detokenizer)
	if err != nil {
		return err
	}

	if found, stopStr, _ := FindStop(text, seq.stop); found {
		text = TruncateStop(text, stopStr)
		stop = true
	} else if ContainsStopSuffix(text, seq.stop) {
		return nil // hold back until the stop sequence resolves one way or the other
	}
	if IncompleteUnicode(text) {
		return nil
	}
	logNearMissStop(text, seq.stop)

	seq.numPredicted++
	if !seq.flushPending(text, stop, doneReason(stop, seq.numPredicted, seq.numPredict)) {
		return nil
	}
	if stop {
		if _, err := seq.sess.FinalizeDecoder(false); err != nil {
			return err
		}
		srv.removeSequence(seq.id, "stop")
	}
	return nil
}

func doneReason(stop bool, predicted, limit int) string {
	if !stop {
		return ""
	}
	if limit > 0 && predicted >= limit {
		return "length"
	}
	return "stop"
}
