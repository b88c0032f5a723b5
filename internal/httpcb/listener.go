// Package httpcb runs a short-lived loopback HTTP listener that catches the
// authorization-code redirect (GET <path>?code=...&state=...) and feeds it
// into the session's callback handling. It is the non-browser stand-in for
// the SPA's redirect page.
package httpcb

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/SezarMAB/clinicx-session/internal/observability/logger"
)

// CallbackHandler is implemented by the identity-provider client.
type CallbackHandler interface {
	HandleAuthCallback(ctx context.Context, code, state string) bool
}

const closePage = `<!doctype html><html><body>
<p>Login complete. You may close this window.</p>
</body></html>`

const failPage = `<!doctype html><html><body>
<p>Login failed. Return to the application and try again.</p>
</body></html>`

// Listener serves the redirect URI once and shuts down.
type Listener struct {
	addr string
	path string
	cb   CallbackHandler
	log  *zap.Logger

	srv    *http.Server
	result chan bool
}

// New creates a listener for addr (e.g. "127.0.0.1:4200") and path
// (e.g. "/callback").
func New(addr, path string, cb CallbackHandler) *Listener {
	if path == "" {
		path = "/callback"
	}
	return &Listener{
		addr:   addr,
		path:   path,
		cb:     cb,
		log:    logger.Named("httpcb"),
		result: make(chan bool, 1),
	}
}

// Start serves until the first callback hit or until ctx is cancelled.
// It blocks; run it in a goroutine and collect the outcome via Wait.
func (l *Listener) Start(ctx context.Context) error {
	r := chi.NewRouter()
	r.Get(l.path, l.handle)

	l.srv = &http.Server{
		Addr:              l.addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = l.srv.Shutdown(shutdownCtx)
	}()

	l.log.Debug("callback listener up", logger.String("addr", l.addr))
	err := l.srv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Wait returns the callback outcome, or ctx.Err() if cancelled first.
func (l *Listener) Wait(ctx context.Context) (bool, error) {
	select {
	case ok := <-l.result:
		return ok, nil
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

func (l *Listener) handle(w http.ResponseWriter, r *http.Request) {
	code := r.URL.Query().Get("code")
	state := r.URL.Query().Get("state")

	if code == "" {
		http.Error(w, "missing code", http.StatusBadRequest)
		return
	}

	ok := l.cb.HandleAuthCallback(r.Context(), code, state)

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if ok {
		_, _ = w.Write([]byte(closePage))
	} else {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(failPage))
	}

	select {
	case l.result <- ok:
	default:
	}

	// One-shot: stop accepting after the first real callback.
	go func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = l.srv.Shutdown(shutdownCtx)
	}()
}
