package launcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/saviobatista/flightgen/internal/storage"
)

const (
	defaultAddr   = "127.0.0.1:0"
	healthPath    = "/healthz"
	pollInterval  = 100 * time.Millisecond
	headerTimeout = 5 * time.Second
)

var (
	ErrNotStarted     = errors.New("launcher not started")
	ErrAlreadyStarted = errors.New("launcher already started")
	ErrUnhealthy      = errors.New("server did not become healthy")
)

// FreePort asks the kernel for a free TCP port on host
func FreePort(host string) (int, error) {
	if host == "" {
		host = "127.0.0.1"
	}
	l, err := net.Listen("tcp", net.JoinHostPort(host, "0"))
	if err != nil {
		return 0, fmt.Errorf("failed to find free port: %w", err)
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port, nil
}

// Launcher runs the dashboard server on a local port and owns its workspace
type Launcher struct {
	addr      string
	handler   http.Handler
	workspace *storage.Workspace
	logger    *slog.Logger
	client    *http.Client

	mu     sync.Mutex
	server *http.Server
	url    string
	done   chan error
}

// Option configures a Launcher
type Option func(*Launcher)

// WithAddr sets the listen address. Port 0 picks a free port.
func WithAddr(addr string) Option {
	return func(l *Launcher) { l.addr = addr }
}

// WithWorkspace hands the launcher a workspace to remove on Stop
func WithWorkspace(ws *storage.Workspace) Option {
	return func(l *Launcher) { l.workspace = ws }
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(l *Launcher) { l.logger = logger }
}

// New creates a launcher serving handler
func New(handler http.Handler, opts ...Option) *Launcher {
	l := &Launcher{
		addr:    defaultAddr,
		handler: handler,
		client:  &http.Client{Timeout: time.Second},
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.logger == nil {
		l.logger = slog.Default()
	}
	return l
}

// Start listens on the configured address and serves in the background
func (l *Launcher) Start(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.server != nil {
		return ErrAlreadyStarted
	}

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", l.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", l.addr, err)
	}

	l.server = &http.Server{
		Handler:           l.handler,
		ReadHeaderTimeout: headerTimeout,
	}
	l.url = "http://" + ln.Addr().String()
	l.done = make(chan error, 1)

	go func(srv *http.Server, done chan<- error) {
		err := srv.Serve(ln)
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		done <- err
		close(done)
	}(l.server, l.done)

	l.logger.Info("Dashboard started", "url", l.url)
	return nil
}

// URL returns the base URL, or "" before Start
func (l *Launcher) URL() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.url
}

// Done is closed once the server has stopped serving. It yields the serve
// error, if any.
func (l *Launcher) Done() <-chan error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.done
}

// WaitHealthy polls the health endpoint until it answers 200 or timeout
// elapses
func (l *Launcher) WaitHealthy(ctx context.Context, timeout time.Duration) error {
	base := l.URL()
	if base == "" {
		return ErrNotStarted
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	var lastErr error
	for {
		err := l.probe(ctx, base+healthPath)
		if err == nil {
			return nil
		}
		if ctx.Err() == nil || lastErr == nil {
			lastErr = err
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w after %s: %v", ErrUnhealthy, timeout, lastErr)
		case <-ticker.C:
		}
	}
}

func (l *Launcher) probe(ctx context.Context, url string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := l.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned %s", resp.Status)
	}
	return nil
}

// Stop shuts the server down gracefully and removes the workspace
func (l *Launcher) Stop(ctx context.Context) error {
	l.mu.Lock()
	srv, done := l.server, l.done
	l.server = nil
	l.url = ""
	l.mu.Unlock()

	if srv == nil {
		return ErrNotStarted
	}

	var errs []error
	if err := srv.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("failed to shut down dashboard: %w", err))
		_ = srv.Close()
	}
	if err := <-done; err != nil {
		errs = append(errs, fmt.Errorf("dashboard server failed: %w", err))
	}
	if l.workspace != nil {
		if err := l.workspace.Close(); err != nil {
			errs = append(errs, err)
		}
	}

	l.logger.Info("Dashboard stopped")
	return errors.Join(errs...)
}
