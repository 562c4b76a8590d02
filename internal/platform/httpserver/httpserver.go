package httpserver

import (
	"net/http"
	"time"

	"keystone/internal/platform/config"
)

// New builds the API server. The write timeout leaves headroom over the
// per-request timeout so a timed-out handler can still write its 504.
func New(cfg config.Server, handler http.Handler) *http.Server {
	write := 35 * time.Second
	if cfg.RequestTimeout > 0 {
		write = cfg.RequestTimeout + 5*time.Second
	}
	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      write,
		IdleTimeout:       60 * time.Second,
	}
}
