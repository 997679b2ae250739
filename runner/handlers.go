package runner

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/inferencecore/llmrt/config"
	"github.com/inferencecore/llmrt/session"
)

// CompletionRequest is the wire shape for POST /completion, mirroring the
// fields the teacher's handlers.go read off llm.CompletionRequest before
// building llama.SamplingParams.
type CompletionRequest struct {
	Prompt      string   `json:"prompt"`
	NumPredict  int      `json:"num_predict"`
	Temperature float32  `json:"temperature"`
	TopK        int32    `json:"top_k"`
	TopP        float32  `json:"top_p"`
	NumBeams    int      `json:"num_beams"`
	Stop        []string `json:"stop"`
}

// completion handles POST /completion: allocates a Sequence bound to a new
// session.Session, streams chunks as they're produced, mirroring the
// teacher's completion handler's http.Flusher loop.
func (srv *Server) completion(c *gin.Context) {
	var req CompletionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := srv.seqsSem.Acquire(c.Request.Context(), 1); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "server busy"})
		return
	}

	sc := config.DefaultSampling(0, 0)
	if req.NumBeams > 0 {
		sc.NumBeams = req.NumBeams
	}
	if req.Temperature > 0 {
		sc.Temperature = req.Temperature
	}
	if req.TopK > 0 {
		sc.TopK = req.TopK
	}
	if req.TopP > 0 {
		sc.TopP = req.TopP
	}

	sess, err := session.New(session.Options{Runtime: srv.runtime(), Model: srv.modelConfig()})
	if err != nil {
		srv.seqsSem.Release(1)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	numPredict := req.NumPredict
	if numPredict <= 0 {
		numPredict = sc.MaxNewTokens
	}
	if err := sess.Setup(session.SetupParams{
		BatchSize:     1,
		MaxContextLen: srv.batchSize,
		MaxNewTokens:  numPredict,
		Sampling:      sc,
	}); err != nil {
		srv.seqsSem.Release(1)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	seq, err := srv.NewSequence(sess, NewSequenceParams{Sampling: sc, NumPredict: numPredict, Stop: req.Stop})
	if err != nil {
		srv.seqsSem.Release(1)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	srv.mu.Lock()
	srv.seqs[seq.id] = seq
	srv.mu.Unlock()
	srv.cond.Broadcast()

	c.Stream(func(w gin.ResponseWriter) bool {
		select {
		case chunk, ok := <-seq.responses:
			if !ok {
				return false
			}
			c.SSEvent("", chunk)
			return !chunk.Done
		case <-c.Request.Context().Done():
			srv.removeSequence(seq.id, "cancelled")
			return false
		}
	})
}

// EmbeddingRequest is the wire shape for POST /embedding.
type EmbeddingRequest struct {
	Content string `json:"content"`
}

// embedding handles POST /embedding: it takes and releases a sequence slot
// and responds with an empty embedding. No context pass is run and no
// hidden state is pooled.
func (srv *Server) embedding(c *gin.Context) {
	var req EmbeddingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := srv.seqsSem.Acquire(c.Request.Context(), 1); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "server busy"})
		return
	}
	defer srv.seqsSem.Release(1)

	c.JSON(http.StatusOK, gin.H{"embedding": []float32{}})
}

// health handles GET /health, mirroring the teacher's health handler.
func (srv *Server) health(c *gin.Context) {
	srv.mu.Lock()
	status := srv.status
	srv.mu.Unlock()
	c.JSON(http.StatusOK, gin.H{"status": status})
}

// load handles POST /load: transitions the server from loading to ready
// once the caller has deserialized an engine plan, mirroring the teacher's
// load handler's commit/close lifecycle (but with model-weight/engine
// loading itself out of this module's scope per spec.md §1).
func (srv *Server) load(c *gin.Context) {
	srv.mu.Lock()
	srv.status = "ready"
	srv.mu.Unlock()
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}
