package channels

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// httpService pairs an HTTP adapter with its listen address.
type httpService struct {
	adapter HTTPAdapter
	addr    string
}

// Manager owns the lifecycle of all enabled adapters in the channel
// process. HTTP adapters each get their own listener; socket adapters
// are started and stopped directly.
type Manager struct {
	mu      sync.RWMutex
	http    []httpService
	sockets []SocketAdapter
}

// NewManager creates an empty manager.
func NewManager() *Manager {
	return &Manager{}
}

// RegisterHTTP adds an HTTP adapter serving on host:port.
func (m *Manager) RegisterHTTP(a HTTPAdapter, host string, port int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.http = append(m.http, httpService{adapter: a, addr: fmt.Sprintf("%s:%d", host, port)})
	slog.Info("channels.register", "channel", a.Name(), "addr", fmt.Sprintf("%s:%d", host, port))
}

// RegisterSocket adds a socket adapter.
func (m *Manager) RegisterSocket(a SocketAdapter) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sockets = append(m.sockets, a)
	slog.Info("channels.register", "channel", a.Name(), "kind", "socket")
}

// Run starts every registered adapter and blocks until ctx is cancelled
// or one of them fails. On return all adapters are stopped.
func (m *Manager) Run(ctx context.Context) error {
	m.mu.RLock()
	httpSvcs := append([]httpService(nil), m.http...)
	sockets := append([]SocketAdapter(nil), m.sockets...)
	m.mu.RUnlock()

	if len(httpSvcs) == 0 && len(sockets) == 0 {
		return fmt.Errorf("channels: no adapters enabled")
	}

	g, ctx := errgroup.WithContext(ctx)

	for _, svc := range httpSvcs {
		mux := http.NewServeMux()
		svc.adapter.RegisterRoutes(mux)
		srv := &http.Server{Addr: svc.addr, Handler: mux}

		g.Go(func() error {
			slog.Info("channels.serve", "channel", svc.adapter.Name(), "addr", svc.addr)
			if err := srv.ListenAndServe(); err != http.ErrServerClosed {
				return fmt.Errorf("channel %s: %w", svc.adapter.Name(), err)
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	for _, sock := range sockets {
		g.Go(func() error {
			if err := sock.Start(ctx); err != nil {
				return fmt.Errorf("channel %s: %w", sock.Name(), err)
			}
			<-ctx.Done()
			stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return sock.Stop(stopCtx)
		})
	}

	return g.Wait()
}
