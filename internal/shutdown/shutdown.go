package shutdown

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/awnumar/memguard"
)

// Locker is the piece of the vault the handler needs: something that wipes key material.
type Locker interface {
	Shutdown(ctx context.Context) error
}

// Handler runs the shutdown sequence exactly once, whether triggered by a signal or by
// an explicit call. Vault errors are logged and never stop the sequence.
type Handler struct {
	locker  Locker
	log     *slog.Logger
	timeout time.Duration

	requested atomic.Bool
	signaled  atomic.Bool
	once      sync.Once
	done      chan struct{}
}

// New returns a handler that locks l on shutdown.
func New(l Locker, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{
		locker:  l,
		log:     log,
		timeout: 10 * time.Second,
		done:    make(chan struct{}),
	}
}

// Watch starts a goroutine that runs Shutdown on SIGINT or SIGTERM, or when ctx ends.
// The returned context is cancelled when a signal arrives so callers can stop their
// own loops.
func (h *Handler) Watch(ctx context.Context) context.Context {
	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	go func() {
		defer stop()
		select {
		case <-sigCtx.Done():
			if ctx.Err() == nil {
				h.signaled.Store(true)
				h.log.Info("signal received, shutting down")
			}
			h.Shutdown(context.Background())
		case <-h.done:
		}
	}()
	return sigCtx
}

// Shutdown locks the vault. Later calls wait for the first to finish.
func (h *Handler) Shutdown(ctx context.Context) {
	h.once.Do(func() {
		h.requested.Store(true)
		h.log.Info("initiating shutdown sequence")

		ctx, cancel := context.WithTimeout(ctx, h.timeout)
		defer cancel()
		if h.locker != nil {
			if err := h.locker.Shutdown(ctx); err != nil {
				h.log.Error("vault shutdown", "err", err)
			}
		}

		h.log.Info("shutdown completed")
		close(h.done)
	})
	<-h.done
}

// Requested reports whether shutdown has started.
func (h *Handler) Requested() bool { return h.requested.Load() }

// Signaled reports whether a signal, rather than a caller, started the shutdown.
func (h *Handler) Signaled() bool { return h.signaled.Load() }

// Done is closed when the shutdown sequence has finished.
func (h *Handler) Done() <-chan struct{} { return h.done }

// Exit runs the shutdown sequence, destroys every remaining locked buffer and exits.
func (h *Handler) Exit(code int) {
	h.Shutdown(context.Background())
	memguard.SafeExit(code)
}
