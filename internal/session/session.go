// Package session implements the WFD source session state machine (C5): it
// drives the M1-M16 sequence through internal/wfdproto's dispatch table,
// owns the listening socket and accepted RTSP connection, and schedules the
// media pipeline supervisor. Every piece of mutable session state is owned
// by exactly one goroutine (run) — the idiomatic Go re-expression of the
// source's single-threaded cooperative event loop, following the same
// single-goroutine-owns-state discipline as alxayo-rtmp-go's
// internal/rtmp/conn/session.go ("mutated only by the command handling
// goroutine; no locks required").
package session

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"net/netip"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/alxayo/wfd-out-session/internal/bufpool"
	wfderrors "github.com/alxayo/wfd-out-session/internal/errors"
	"github.com/alxayo/wfd-out-session/internal/logger"
	"github.com/alxayo/wfd-out-session/internal/pipeline"
	"github.com/alxayo/wfd-out-session/internal/wfdproto"
)

// DisplaySource describes the local screen region to capture, per spec §6.
// Scheme is reserved for future display backends (open question (d)); only
// "x" is accepted today.
type DisplaySource struct {
	Scheme string
	Name   string
	X, Y, Width, Height uint16
}

// PeerDescriptor is the sink description supplied by the (external) P2P
// discovery/association collaborator.
type PeerDescriptor struct {
	LocalAddr   string
	RemoteAddr  string
	Connected   bool
	Subelements []byte
}

// Config bundles a session's construction-time parameters.
type Config struct {
	Display          DisplaySource
	Peer             PeerDescriptor
	PipelineProgram  string
	PipelineArgsBase []string
	RateLimitPerSec  float64
	RateLimitBurst   int
}

var sessionCounter uint32

func nextSessionID() uint32 { return atomic.AddUint32(&sessionCounter, 1) }

// pipelineLauncher is the subset of *pipeline.Supervisor the session
// depends on, kept as an interface (mirroring the teacher's hooks.Hook
// interface shape) so tests can substitute a fake without spawning a real
// process.
type pipelineLauncher interface {
	Launch(args pipeline.LaunchArgs) error
	Kill()
	Done() <-chan pipeline.ExitResult
}

// Session is one WFD source<->sink RTSP control session.
type Session struct {
	log zerolog.Logger

	display DisplaySource
	peer    PeerDescriptor

	dispatcher *wfdproto.Dispatcher
	dctx       *wfdproto.DispatchContext

	state           wfdproto.State
	nextRequest     wfdproto.MKind
	outstandingCSeq int
	cseqCounter     int

	listenLn net.Listener
	conn     net.Conn
	reader   *bufio.Reader

	pipelineProgram  string
	pipelineArgsBase []string
	pipeline         pipelineLauncher
	pipelineArmTimer *time.Timer
	pipelineArmCh    <-chan time.Time

	cmdCh       chan func(*Session)
	readCh      chan readResult
	childExitCh chan pipeline.ExitResult

	runStarted int32 // atomic; 0 until HandleIO starts the command goroutine

	closeOnce sync.Once
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

type readResult struct {
	req  *wfdproto.Request
	resp *wfdproto.Response
	err  error
}

// New validates the display/resolution parameters and constructs a Session
// in state INIT. Construction errors (INVALID_INPUT, UNSUPPORTED_RESOLUTION)
// are returned without creating a session, per spec.md §7 policy.
func New(cfg Config, log zerolog.Logger) (*Session, error) {
	if cfg.Display.Scheme != "x" {
		return nil, wfderrors.New(wfderrors.KindInvalidInput, "session.New",
			fmt.Errorf("unsupported display scheme %q", cfg.Display.Scheme))
	}
	if cfg.Display.Width == 0 || cfg.Display.Height == 0 {
		return nil, wfderrors.New(wfderrors.KindInvalidInput, "session.New",
			fmt.Errorf("width and height must be > 0"))
	}
	standard, mask, err := wfdproto.ResolveResolution(int(cfg.Display.Width), int(cfg.Display.Height))
	if err != nil {
		return nil, err
	}

	rate, burst := cfg.RateLimitPerSec, cfg.RateLimitBurst
	if rate == 0 {
		rate = 20
	}
	if burst == 0 {
		burst = 10
	}

	sid := nextSessionID()
	sessionLog := logger.WithSession(&log, fmt.Sprintf("%08X", sid), cfg.Peer.RemoteAddr)

	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		log:     sessionLog,
		display: cfg.Display,
		peer:    cfg.Peer,

		dispatcher: wfdproto.NewDispatcher(sessionLog, rate, burst),
		dctx: &wfdproto.DispatchContext{
			SessionIDHex: fmt.Sprintf("%08X", sid),
			Standard:     standard,
			Mask:         mask,
			Log:          sessionLog,
		},

		state: wfdproto.StateInit,

		pipelineProgram:  cfg.PipelineProgram,
		pipelineArgsBase: cfg.PipelineArgsBase,

		cmdCh:       make(chan func(*Session)),
		readCh:      make(chan readResult, 1),
		childExitCh: make(chan pipeline.ExitResult, 1),

		ctx:    ctx,
		cancel: cancel,
	}, nil
}

// ListenAddr returns the bound listening address after a successful
// InitiateIO, mainly for tests that need to dial the ephemeral port back.
func (s *Session) ListenAddr() net.Addr {
	if s.listenLn == nil {
		return nil
	}
	return s.listenLn.Addr()
}

// State returns the session's current state. Only safe to call after the
// session has stopped (Close()'d) or from the command goroutine itself;
// concurrent callers should use StateSync.
func (s *Session) State() wfdproto.State { return s.state }

// StateSync reads the session's state from the command goroutine, safe to
// call concurrently with normal operation. Once the session has closed, do
// can no longer round-trip through the (now-exited) command goroutine; fall
// back to the direct read State() documents as safe post-close, since
// ctx.Done() closing happens-after run()'s last write to state.
func (s *Session) StateSync() wfdproto.State {
	var st wfdproto.State
	if err := s.do(func(sess *Session) error { st = sess.state; return nil }); err != nil {
		return s.State()
	}
	return st
}

// InitiateIO resolves the sink's RTSP port from its subelements and opens a
// listening socket bound to the local address. Must be called exactly once,
// before HandleIO.
func (s *Session) InitiateIO() error {
	if s.listenLn != nil {
		return wfderrors.New(wfderrors.KindInProgress, "session.InitiateIO", fmt.Errorf("already initiated"))
	}
	if !s.peer.Connected {
		return wfderrors.New(wfderrors.KindNotConnected, "session.InitiateIO", fmt.Errorf("peer not connected"))
	}
	localAddr, err := netip.ParseAddr(s.peer.LocalAddr)
	if err != nil || !localAddr.Is4() {
		return wfderrors.New(wfderrors.KindBadAddressFamily, "session.InitiateIO",
			fmt.Errorf("local address %q is not a valid IPv4 address", s.peer.LocalAddr))
	}

	port, err := wfdproto.ExtractRTSPPort(s.peer.Subelements)
	if err != nil {
		return err
	}

	ln, err := net.Listen("tcp4", fmt.Sprintf("%s:%d", localAddr.String(), port))
	if err != nil {
		return wfderrors.New(wfderrors.KindOSIO, "session.InitiateIO", err)
	}
	s.listenLn = ln
	s.dctx.LocalIP = localAddr.String()
	s.dctx.StreamURL = fmt.Sprintf("rtsp://%s/wfd1.0/streamid=0", localAddr.String())
	s.log.Info().Str("listen_addr", ln.Addr().String()).Msg("session listening for sink connection")
	return nil
}

// HandleIO accepts the pending connection, closes the listening socket, and
// starts the session's goroutines: the command loop (run) and the read
// loop. Transitions state to NEGOTIATING.
func (s *Session) HandleIO() error {
	if s.listenLn == nil {
		return wfderrors.New(wfderrors.KindNotConnected, "session.HandleIO", fmt.Errorf("InitiateIO not called"))
	}
	conn, err := s.listenLn.Accept()
	if err != nil {
		return wfderrors.New(wfderrors.KindOSIO, "session.HandleIO", err)
	}
	_ = s.listenLn.Close()
	s.listenLn = nil

	s.conn = conn
	s.reader = bufio.NewReader(conn)
	s.state = wfdproto.StateNegotiating

	s.wg.Add(2)
	atomic.StoreInt32(&s.runStarted, 1)
	go s.run()
	go s.readLoop()

	s.log.Info().Str("remote_addr", conn.RemoteAddr().String()).Msg("sink connected, session negotiating")
	return nil
}

// InitiateRequest kicks off M1. Must be called after HandleIO.
func (s *Session) InitiateRequest() error {
	return s.do(func(sess *Session) error {
		return sess.sendRequest(wfdproto.M1, nil)
	})
}

// Resume issues an M5 PLAY trigger. Valid from PAUSED.
func (s *Session) Resume() error {
	return s.do(func(sess *Session) error {
		if sess.state != wfdproto.StatePaused {
			return wfderrors.New(wfderrors.KindProtocolError, "session.Resume",
				fmt.Errorf("resume is only valid from PAUSED, current state %s", sess.state))
		}
		return sess.sendRequest(wfdproto.M5, wfdproto.TriggerPlay)
	})
}

// Pause issues an M5 PAUSE trigger. Valid from PLAYING.
func (s *Session) Pause() error {
	return s.do(func(sess *Session) error {
		if sess.state != wfdproto.StatePlaying {
			return wfderrors.New(wfderrors.KindProtocolError, "session.Pause",
				fmt.Errorf("pause is only valid from PLAYING, current state %s", sess.state))
		}
		return sess.sendRequest(wfdproto.M5, wfdproto.TriggerPause)
	})
}

// Teardown forces local session teardown: kills any live pipeline, closes
// sockets, and marks the session DEAD. This is the explicit teardown() call
// spec.md §4.5 names as one of the three ways state may advance outside a
// dispatcher rule-list.
func (s *Session) Teardown() error {
	return s.Close()
}

// Close idempotently tears the session down: stops timers, kills any live
// pipeline, closes the connection/listener, and stops the command and read
// goroutines. Safe to call multiple times and safe to call before HandleIO.
func (s *Session) Close() error {
	if atomic.LoadInt32(&s.runStarted) == 0 {
		s.closeInternal()
		s.wg.Wait()
		return nil
	}
	done := make(chan struct{})
	select {
	case s.cmdCh <- func(sess *Session) { sess.closeInternal(); close(done) }:
		<-done
	case <-s.ctx.Done():
		s.closeInternal()
	}
	s.wg.Wait()
	return nil
}

// do posts fn to the command goroutine and waits for it to run, returning
// its error. Used by every synchronous public entry point so all session
// mutation happens on the single owning goroutine.
func (s *Session) do(fn func(*Session) error) error {
	if atomic.LoadInt32(&s.runStarted) == 0 {
		return wfderrors.New(wfderrors.KindNotConnected, "session.do", fmt.Errorf("HandleIO has not been called yet"))
	}
	errCh := make(chan error, 1)
	select {
	case s.cmdCh <- func(sess *Session) { errCh <- fn(sess) }:
		return <-errCh
	case <-s.ctx.Done():
		return wfderrors.New(wfderrors.KindProtocolError, "session.do", fmt.Errorf("session already closed"))
	}
}

// run is the command goroutine: the single owner of all mutable session
// state. It multiplexes public API calls (cmdCh), inbound RTSP traffic
// (readCh), pipeline exit notifications (childExitCh), and the pipeline arm
// timer into one select, exactly as spec.md §5 requires of the event loop.
func (s *Session) run() {
	defer s.wg.Done()
	for {
		select {
		case <-s.ctx.Done():
			return
		case fn := <-s.cmdCh:
			fn(s)
		case rr := <-s.readCh:
			s.handleReadResult(rr)
		case er := <-s.childExitCh:
			s.handleChildExit(er)
		case <-s.pipelineArmCh:
			s.handleArmTimerFire()
		}
	}
}

// readLoop parses framed RTSP messages off the connection and forwards each
// to the command goroutine in arrival order, preserving spec.md §5's
// ordering guarantee. It decides reply vs. request by peeking the status
// line prefix, since replies and inbound requests share one stream.
func (s *Session) readLoop() {
	defer s.wg.Done()
	for {
		isResp, err := wfdproto.PeekIsResponse(s.reader)
		if err != nil {
			s.send(readResult{err: err})
			return
		}

		var rr readResult
		if isResp {
			rr.resp, rr.err = wfdproto.ReadResponse(s.reader)
		} else {
			rr.req, rr.err = wfdproto.ReadRequest(s.reader)
		}
		s.send(rr)
		if rr.err != nil {
			return
		}
	}
}

func (s *Session) send(rr readResult) {
	select {
	case s.readCh <- rr:
	case <-s.ctx.Done():
	}
}

func (s *Session) handleReadResult(rr readResult) {
	if rr.err != nil {
		s.forceTeardown(wfderrors.New(wfderrors.KindOSIO, "session.readLoop", rr.err))
		return
	}

	if rr.resp != nil {
		s.handleReply(rr.resp)
		bufpool.Put(rr.resp.Body)
		return
	}
	s.handleInboundRequest(rr.req)
	bufpool.Put(rr.req.Body)
}

func (s *Session) handleReply(resp *wfdproto.Response) {
	if s.nextRequest == 0 {
		s.forceTeardown(wfderrors.New(wfderrors.KindProtocolError, "session.handleReply",
			fmt.Errorf("unexpected reply with no outstanding request, CSeq %d", resp.CSeq)))
		return
	}
	if resp.CSeq != s.outstandingCSeq {
		s.forceTeardown(wfderrors.New(wfderrors.KindProtocolError, "session.handleReply",
			fmt.Errorf("reply CSeq %d does not match outstanding %d", resp.CSeq, s.outstandingCSeq)))
		return
	}

	kind := s.nextRequest
	s.nextRequest = 0
	s.outstandingCSeq = 0
	logger.WithMessage(&s.log, kind.String(), "", resp.CSeq).Debug().Msg("reply received")

	directives, err := s.dispatcher.DispatchReply(s.dctx, kind, resp)
	if err != nil {
		s.forceTeardown(err)
		return
	}
	s.applyDirectives(directives)
}

func (s *Session) handleInboundRequest(req *wfdproto.Request) {
	kind := wfdproto.RouteInbound(req.Method, len(req.Body))
	logger.WithMessage(&s.log, kind.String(), req.Method, req.CSeq).Debug().Msg("request received")

	resp, directives, err := s.dispatcher.DispatchRequest(s.dctx, req)
	if resp != nil {
		if _, writeErr := resp.WriteTo(s.conn); writeErr != nil {
			s.forceTeardown(wfderrors.New(wfderrors.KindOSIO, "session.handleInboundRequest", writeErr))
			return
		}
	}
	if err != nil {
		s.forceTeardown(err)
		return
	}
	s.applyDirectives(directives)
}

func (s *Session) applyDirectives(directives []wfdproto.Directive) {
	for _, d := range directives {
		switch d.Kind {
		case wfdproto.DirNewState:
			s.log.Debug().Str("from", s.state.String()).Str("to", d.NewState.String()).Msg("state transition")
			s.state = d.NewState
		case wfdproto.DirNextRequest:
			if err := s.sendRequest(d.NextRequest, d.Args); err != nil {
				s.forceTeardown(err)
				return
			}
		case wfdproto.DirKillPipeline:
			if s.pipeline != nil {
				s.pipeline.Kill()
			}
		case wfdproto.DirArmPipelineTimer:
			s.armPipelineTimer(d.ArmDelay)
		}
	}
}

// sendRequest builds and writes the named M-kind request, enforcing the
// single-flight invariant (spec.md §8 property 1).
func (s *Session) sendRequest(kind wfdproto.MKind, args any) error {
	if s.nextRequest != 0 {
		return wfderrors.New(wfderrors.KindProtocolError, "session.sendRequest",
			fmt.Errorf("request %s already outstanding, refusing to issue %s", s.nextRequest, kind))
	}
	req, err := s.dispatcher.BuildRequest(s.dctx, kind, args)
	if err != nil {
		return err
	}
	s.cseqCounter++
	req.CSeq = s.cseqCounter
	req.Headers.Set(wfdproto.HeaderCSeq, strconv.Itoa(req.CSeq))

	if _, err := req.WriteTo(s.conn); err != nil {
		return wfderrors.New(wfderrors.KindOSIO, "session.sendRequest", err)
	}
	s.nextRequest = kind
	s.outstandingCSeq = req.CSeq
	s.log.Debug().Stringer("m_kind", kind).Int("cseq", req.CSeq).Msg("request sent")
	return nil
}

func (s *Session) armPipelineTimer(delay time.Duration) {
	if s.pipelineArmTimer != nil {
		s.pipelineArmTimer.Stop()
	}
	s.pipelineArmTimer = time.NewTimer(delay)
	s.pipelineArmCh = s.pipelineArmTimer.C
}

func (s *Session) handleArmTimerFire() {
	s.pipelineArmCh = nil
	if err := s.launchPipeline(); err != nil {
		s.forceTeardown(err)
	}
}

func (s *Session) launchPipeline() error {
	sup := pipeline.New(s.pipelineProgram, s.pipelineArgsBase, s.log)
	args := pipeline.LaunchArgs{
		X: s.display.X, Y: s.display.Y,
		Width: s.display.Width, Height: s.display.Height,
		RemoteIP:    s.peer.RemoteAddr,
		RTPPort:     s.dctx.RTPPort,
		DisplayName: s.display.Name,
	}
	if err := sup.Launch(args); err != nil {
		return wfderrors.New(wfderrors.KindPipelineFailed, "session.launchPipeline", err)
	}
	s.pipeline = sup

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		select {
		case res := <-sup.Done():
			select {
			case s.childExitCh <- res:
			case <-s.ctx.Done():
			}
		case <-s.ctx.Done():
		}
	}()
	return nil
}

// handleChildExit implements spec.md §4.6's child-exit callback contract:
// an exit observed while the session is not PAUSED forces teardown.
func (s *Session) handleChildExit(res pipeline.ExitResult) {
	s.log.Info().Err(res.Err).Int("exit_code", res.ExitCode).Msg("pipeline child exited")
	if s.state != wfdproto.StatePaused {
		s.forceTeardown(wfderrors.New(wfderrors.KindPipelineFailed, "session.handleChildExit",
			fmt.Errorf("pipeline exited unexpectedly in state %s", s.state)))
	}
}

// forceTeardown is the "unrecoverable error" path spec.md §4.5 names:
// protocol errors during negotiation and pipeline failures force the
// session to TEARING_DOWN and then destroy it, without terminating the
// process.
func (s *Session) forceTeardown(cause error) {
	s.log.Warn().Err(cause).Msg("forcing session teardown")
	s.state = wfdproto.StateTearingDown
	s.closeInternal()
}

// closeInternal performs the idempotent total-destroy sequence: cancel
// timers, kill any live pipeline, close the connection and listener, mark
// DEAD. Guarded by sync.Once so repeated destroy (explicit Close(), a
// forced teardown, or both racing) is safe — spec.md §8 property 6 and the
// supplemented "idempotent total destroy" feature from original_source/.
func (s *Session) closeInternal() {
	s.closeOnce.Do(func() {
		if s.pipelineArmTimer != nil {
			s.pipelineArmTimer.Stop()
			s.pipelineArmCh = nil
		}
		if s.pipeline != nil {
			s.pipeline.Kill()
		}
		if s.conn != nil {
			_ = s.conn.Close()
		}
		if s.listenLn != nil {
			_ = s.listenLn.Close()
			s.listenLn = nil
		}
		s.state = wfdproto.StateDead
		s.cancel()
	})
}
