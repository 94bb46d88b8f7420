// Package session keeps the single JSON-RPC conversation with the daemon:
// it owns the connection, hands out correlation ids, writes through the
// outbound gate and feeds decoded events to the dispatch queue.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/digitalbodhi/sigmsg/internal/dispatch"
	"github.com/digitalbodhi/sigmsg/internal/event"
	"github.com/digitalbodhi/sigmsg/internal/jsonrpc"
	"github.com/digitalbodhi/sigmsg/internal/metrics"
	"github.com/digitalbodhi/sigmsg/internal/oneshot"
	"github.com/digitalbodhi/sigmsg/internal/supervisor"
)

// DefaultWriteTimeout bounds a single write to the daemon.
const DefaultWriteTimeout = 10 * time.Second

// ErrSessionClosed is returned by sends attempted after the session completed.
var ErrSessionClosed = errors.New("session closed")

// Reporter receives failures that no caller can handle.
type Reporter interface {
	Report(err error)
}

// Server is the request surface started once registration has been sent.
type Server interface {
	Serve(ctx context.Context) error
}

// Account identifies the daemon account and the profile registered for it.
type Account struct {
	Number     string
	Name       string
	GivenName  string
	FamilyName string
}

type Options struct {
	// Addr is the daemon's host:port.
	Addr        string
	Account     Account
	AutoReply   string
	DialTimeout time.Duration
	Log         *slog.Logger
	Metrics     *metrics.Metrics
	Reporter    Reporter

	// WriteTimeout fails a write the daemon does not drain in time. Zero
	// means DefaultWriteTimeout.
	WriteTimeout time.Duration
}

type Session struct {
	addr         string
	account      Account
	autoReply    string
	dialTimeout  time.Duration
	writeTimeout time.Duration
	log          *slog.Logger
	metrics      *metrics.Metrics
	reporter     Reporter

	ready  *oneshot.Signal
	closed *oneshot.Signal

	mu   sync.Mutex
	conn net.Conn

	ids      atomic.Int64
	gate     *jsonrpc.Gate
	registry *dispatch.Registry
	queue    *dispatch.Queue
}

// New creates a session with the default receive handlers installed. The
// correlation counter starts at 1, so the first id handed out is 2.
func New(opts Options) *Session {
	log := opts.Log
	if log == nil {
		log = slog.Default()
	}
	writeTimeout := opts.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = DefaultWriteTimeout
	}
	s := &Session{
		addr:         opts.Addr,
		account:      opts.Account,
		autoReply:    opts.AutoReply,
		dialTimeout:  opts.DialTimeout,
		writeTimeout: writeTimeout,
		log:          log,
		metrics:      opts.Metrics,
		reporter:     opts.Reporter,
		ready:        oneshot.New(),
		closed:       oneshot.New(),
		registry:     dispatch.NewRegistry(),
	}
	s.ids.Store(1)
	s.gate = jsonrpc.NewGate(s.ready, s.writer, log)
	s.queue = dispatch.NewQueue(s.registry.Dispatch, s.report, log)
	s.installDefaultHandlers()
	return s
}

// Registry returns the event routing table, for extra handlers and observers.
func (s *Session) Registry() *dispatch.Registry {
	return s.registry
}

// NextID allocates a correlation id.
func (s *Session) NextID() int64 {
	return s.ids.Add(1)
}

// Ready is closed once the transport has connected.
func (s *Session) Ready() <-chan struct{} {
	return s.ready.Done()
}

// Done is closed once the session has completed.
func (s *Session) Done() <-chan struct{} {
	return s.closed.Done()
}

// Connected reports whether a transport is currently held.
func (s *Session) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn != nil
}

// Account returns the configured account.
func (s *Session) Account() Account {
	return s.account
}

// deadlineWriter arms the connection's write deadline before every write.
// The gate serializes writes, so deadlines never overlap.
type deadlineWriter struct {
	conn    net.Conn
	timeout time.Duration
}

func (w deadlineWriter) Write(p []byte) (int, error) {
	if err := w.conn.SetWriteDeadline(time.Now().Add(w.timeout)); err != nil {
		return 0, err
	}
	return w.conn.Write(p)
}

func (s *Session) writer() io.Writer {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return nil
	}
	return deadlineWriter{conn: s.conn, timeout: s.writeTimeout}
}

// Send writes a wire-ready document through the outbound gate.
func (s *Session) Send(ctx context.Context, doc []byte) error {
	if s.closed.Fired() {
		return ErrSessionClosed
	}
	err := s.gate.Send(ctx, doc)
	s.metrics.Send(methodOf(doc), err)
	return err
}

func methodOf(doc []byte) string {
	var head struct {
		Method string `json:"method"`
	}
	if err := json.Unmarshal(doc, &head); err != nil || head.Method == "" {
		return "unknown"
	}
	return head.Method
}

// SendMessage sends body to recipients, or to the group named by the first
// recipient when group is set.
func (s *Session) SendMessage(ctx context.Context, recipients []string, body string, attachments []string, group bool) error {
	recipients = event.NormalizeRecipients(recipients...)
	if len(recipients) == 0 {
		return errors.New("no recipients")
	}
	var opts []event.SendOption
	if len(attachments) > 0 {
		opts = append(opts, event.WithAttachments(attachments...))
	}
	if group {
		opts = append(opts, event.ToGroup())
	}
	return s.Send(ctx, event.NewSendMessage(s.account.Number, recipients, body, s.NextID(), opts...))
}

// Register sends the profile update that announces the account. It blocks
// until the transport is ready.
func (s *Session) Register(ctx context.Context) error {
	doc := event.NewUpdateProfile(s.account.Number, s.account.Name, s.account.GivenName, s.account.FamilyName, s.NextID())
	if err := s.Send(ctx, doc); err != nil {
		return fmt.Errorf("register account: %w", err)
	}
	s.log.Info("account registered", "name", s.account.Name)
	return nil
}

// Close resolves the completion signal. It reports whether this call did.
func (s *Session) Close() bool {
	return s.closed.Fire()
}

func (s *Session) report(err error) {
	if s.reporter != nil {
		s.reporter.Report(err)
		return
	}
	s.log.Error("unhandled failure", "error", err)
}

// RunConnect dials the daemon, reads from it until the session completes or
// ctx is cancelled, and always closes the connection on the way out.
func (s *Session) RunConnect(ctx context.Context) error {
	dialer := net.Dialer{Timeout: s.dialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", s.addr)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.closed.Fire()
		return fmt.Errorf("%w: dial %s: %v", supervisor.ErrConnectivity, s.addr, err)
	}
	s.connectionMade(conn)
	defer s.release(conn)

	readDone := make(chan error, 1)
	go func() {
		var r jsonrpc.Reassembler
		readDone <- r.Pump(conn, func(doc json.RawMessage) {
			s.handleDocument(doc)
		}, s.decodeFailed)
	}()

	select {
	case err := <-readDone:
		s.connectionLost(err)
	case <-s.closed.Done():
	case <-ctx.Done():
	}
	return nil
}

func (s *Session) connectionMade(conn net.Conn) {
	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()
	s.metrics.TransportUp(true)
	s.log.Info("connected to daemon", "remote", conn.RemoteAddr().String())
	s.ready.Fire()
}

func (s *Session) release(conn net.Conn) {
	s.mu.Lock()
	s.conn = nil
	s.mu.Unlock()
	s.metrics.TransportUp(false)
	if err := conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		s.log.Warn("closing daemon connection", "error", err)
	}
	s.log.Debug("daemon connection closed")
}

// connectionLost handles the end of the read loop. A clean end of stream
// only completes the session; anything else also reports a connectivity
// failure, which stops the process.
func (s *Session) connectionLost(err error) {
	if errors.Is(err, io.EOF) {
		s.log.Info("daemon closed the connection")
		s.closed.Fire()
		return
	}
	s.Lost(err)
}

// Lost completes the session after an abrupt transport failure and reports
// it. Safe to call concurrently with the failure handler's own completion.
func (s *Session) Lost(err error) {
	s.closed.Fire()
	s.log.Error("connection to daemon lost", "error", err)
	s.report(fmt.Errorf("%w: %w", supervisor.ErrConnectivity, err))
}

func (s *Session) handleDocument(doc json.RawMessage) {
	s.log.Debug("received", "doc", string(doc))
	ev, err := event.Parse(doc, s)
	if err != nil {
		s.decodeFailed(err)
		return
	}
	s.metrics.Event(ev.Kind().String(), ev.Subkind().String())
	s.queue.Enqueue(ev)
}

func (s *Session) decodeFailed(err error) {
	s.metrics.DecodeFailure()
	s.log.Warn("could not decode document", "error", err)
}

// untilClosed derives a context that is also cancelled when the session
// completes.
func (s *Session) untilClosed(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(ctx)
	go func() {
		select {
		case <-s.closed.Done():
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}

// RunDispatch consumes decoded events until the session completes or ctx is
// cancelled.
func (s *Session) RunDispatch(ctx context.Context) error {
	ctx, cancel := s.untilClosed(ctx)
	defer cancel()
	err := s.queue.Run(ctx)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// RunGateway registers the account, starts srv, and waits for the session
// to complete. srv is stopped through its context when this returns.
func (s *Session) RunGateway(ctx context.Context, srv Server) error {
	ctx, cancel := s.untilClosed(ctx)
	defer cancel()

	if err := s.Register(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return err
	}

	served := make(chan error, 1)
	go func() { served <- srv.Serve(ctx) }()

	select {
	case err := <-served:
		if err != nil {
			return fmt.Errorf("request surface: %w", err)
		}
		return nil
	case <-ctx.Done():
	}
	return <-served
}
