// Package mockserver implements a scriptable HTTP/1.1 server for tests. It
// terminates TLS itself, records every request together with the SNI host
// names of the connection it arrived on, and answers with responses the
// caller queued in advance.
package mockserver

import (
	"context"
	"crypto/tls"
	"errors"
	"log/slog"
	"net"
	"net/url"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

type Options struct {
	// HostName is used when building URLs and as the request host when a
	// request carries no Host header.
	HostName         string        `envconfig:"HOST_NAME" default:"localhost"`
	ListenHost       string        `envconfig:"LISTEN_HOST" default:"127.0.0.1"`
	HandshakeTimeout time.Duration `envconfig:"HANDSHAKE_TIMEOUT" default:"5s"`
	// ResponseWait bounds how long a request waits for a scripted response
	// when the queue is empty. Zero fails immediately.
	ResponseWait time.Duration `envconfig:"RESPONSE_WAIT" default:"0s"`
	// MaxConnections limits the connections served at once. Zero means no limit.
	MaxConnections int64 `envconfig:"MAX_CONNECTIONS" default:"0"`

	TLSConfig *tls.Config  `ignored:"true"`
	Logger    *slog.Logger `ignored:"true"`
}

func (o Options) withDefaults() Options {
	if o.HostName == "" {
		o.HostName = "localhost"
	}
	if o.ListenHost == "" {
		o.ListenHost = "127.0.0.1"
	}
	if o.HandshakeTimeout == 0 {
		o.HandshakeTimeout = 5 * time.Second
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

type Server struct {
	opts   Options
	logger *slog.Logger
	queue  *QueueDispatcher
	sem    *semaphore.Weighted

	requests  *fifo[*RecordedRequest]
	logMu     sync.Mutex
	exchanges int

	mu         sync.Mutex
	dispatcher Dispatcher
	tlsConfig  *tls.Config
	listener   net.Listener
	conns      map[net.Conn]struct{}
	port       int
	started    bool
	stopped    bool
	cancel     context.CancelFunc
	failures   []error

	wg sync.WaitGroup
}

func New(opts Options) *Server {
	opts = opts.withDefaults()

	s := &Server{
		opts:      opts,
		logger:    opts.Logger.With(slog.String("component", "mockserver")),
		queue:     NewQueueDispatcher(opts.ResponseWait),
		requests:  newFIFO[*RecordedRequest](),
		tlsConfig: opts.TLSConfig,
		conns:     make(map[net.Conn]struct{}),
	}
	s.dispatcher = s.queue
	if opts.MaxConnections > 0 {
		s.sem = semaphore.NewWeighted(opts.MaxConnections)
	}
	return s
}

// UseTLS makes the server terminate TLS with config on every connection
// accepted afterwards. A nil config switches back to plaintext.
func (s *Server) UseTLS(config *tls.Config) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.tlsConfig = config
}

// SetDispatcher replaces the response queue. A nil dispatcher restores it.
func (s *Server) SetDispatcher(d Dispatcher) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if d == nil {
		d = s.queue
	}
	s.dispatcher = d
}

// Enqueue appends a scripted response to the queue served by the default
// dispatcher.
func (s *Server) Enqueue(response *Response) {
	s.queue.Enqueue(response)
}

// Start binds ListenHost:port and starts serving. Port 0 picks a free port.
// The bound port is returned.
func (s *Server) Start(port int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return 0, ErrServerClosed
	}
	if s.started {
		return 0, ErrAlreadyStarted
	}

	addr := net.JoinHostPort(s.opts.ListenHost, strconv.Itoa(port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return 0, &BindError{Addr: addr, Err: err}
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.listener = ln
	s.port = ln.Addr().(*net.TCPAddr).Port
	s.cancel = cancel
	s.started = true

	s.wg.Add(1)
	go s.acceptLoop(ctx, ln)

	s.logger.Info("listening",
		slog.String("address", ln.Addr().String()),
		slog.Bool("tls", s.tlsConfig != nil),
	)
	return s.port, nil
}

// Stop closes the listener and every open connection and waits for all
// connection goroutines to return. Calling it again, or before Start, does
// nothing.
func (s *Server) Stop() {
	s.mu.Lock()
	if !s.started || s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	s.cancel()
	s.listener.Close()
	for conn := range s.conns {
		conn.Close()
	}
	s.mu.Unlock()

	s.wg.Wait()
	s.requests.close()
	s.logger.Info("stopped")
}

func (s *Server) Port() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.port
}

func (s *Server) HostName() string {
	return s.opts.HostName
}

// Addr returns the address clients should dial, or nil before Start.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// URL returns an absolute URL for path on this server, using HostName.
func (s *Server) URL(path string) *url.URL {
	scheme := "http"
	s.mu.Lock()
	if s.tlsConfig != nil {
		scheme = "https"
	}
	s.mu.Unlock()

	u, err := url.Parse(path)
	if err != nil {
		u = &url.URL{Path: path}
	}
	u.Scheme = scheme
	u.Host = s.authority()
	return u
}

func (s *Server) authority() string {
	return net.JoinHostPort(s.opts.HostName, strconv.Itoa(s.Port()))
}

// RequestCount returns how many requests have been recorded so far,
// including those already taken.
func (s *Server) RequestCount() int {
	s.logMu.Lock()
	defer s.logMu.Unlock()

	return s.exchanges
}

// TakeRequest removes and returns the oldest recorded request, waiting up to
// timeout for one to arrive. It fails with ErrTimeout when none does, and
// with ErrServerClosed once the server is stopped and the log is drained.
func (s *Server) TakeRequest(timeout time.Duration) (*RecordedRequest, error) {
	ctx, cancel := context.WithTimeout(context.Background(), max(timeout, 0))
	defer cancel()

	req, err := s.requests.take(ctx)
	if errors.Is(err, context.DeadlineExceeded) {
		return nil, ErrTimeout
	}
	return req, err
}

// TakeRequestContext is TakeRequest bounded by ctx instead of a timeout.
func (s *Server) TakeRequestContext(ctx context.Context) (*RecordedRequest, error) {
	return s.requests.take(ctx)
}

// Err reports the dispatch failures seen so far, such as requests that found
// the response queue empty.
func (s *Server) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return errors.Join(s.failures...)
}

func (s *Server) currentDispatcher() (Dispatcher, *tls.Config) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.dispatcher, s.tlsConfig
}

func (s *Server) logRequest(req *RecordedRequest) {
	s.logMu.Lock()
	defer s.logMu.Unlock()

	req.ExchangeIndex = s.exchanges
	s.exchanges++
	s.requests.put(req)
}

func (s *Server) fail(err error) {
	s.logger.Error("dispatch failed", slog.Any("error", err))

	s.mu.Lock()
	defer s.mu.Unlock()

	s.failures = append(s.failures, err)
}
