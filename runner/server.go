package runner

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
)

// RegisterRoutes wires the completion/embedding/health/load endpoints onto a
// gin.Engine, the DOMAIN STACK replacement for the teacher's
// net/http.ServeMux registration in Execute.
func (srv *Server) RegisterRoutes(r *gin.Engine) {
	r.POST("/load", srv.load)
	r.POST("/completion", srv.completion)
	r.POST("/embedding", srv.embedding)
	r.GET("/health", srv.health)
}

// Run starts the continuous-batching loop and serves HTTP on addr until ctx
// is cancelled, mirroring the teacher's Execute: a background loop goroutine
// plus a blocking http.ListenAndServe.
func (srv *Server) Run(ctx context.Context, addr string) error {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	srv.RegisterRoutes(r)

	httpSrv := &http.Server{Addr: addr, Handler: r}

	go srv.run(ctx)

	errCh := make(chan error, 1)
	go func() { errCh <- httpSrv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		return httpSrv.Shutdown(context.Background())
	case err := <-errCh:
		return err
	}
}
