package wfdproto

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	wfderrors "github.com/alxayo/wfd-out-session/internal/errors"
)

// MKind names one row of the WFD 1.0 M1-M16 message table (source role).
type MKind int

const (
	M1 MKind = iota + 1
	M2
	M3
	M4
	M5
	M6
	M7
	M8
	M9
	M10
	M11
	M12
	M13
	M14
	M15
	M16
)

func (k MKind) String() string { return fmt.Sprintf("M%d", int(k)) }

// State is the session state machine's state, defined here (rather than in
// the session package) because it is also the target type of NEW_STATE
// directives emitted by dispatch table rows — keeping it in wfdproto
// avoids a dispatch<->session import cycle (session imports wfdproto, not
// the reverse), the same decoupling the teacher's rpc.Dispatcher uses by
// taking callback fields instead of importing the conn package.
type State int

const (
	StateInit State = iota
	StateNegotiating
	StateEstablished
	StatePlaying
	StatePaused
	StateTearingDown
	StateDead
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "INIT"
	case StateNegotiating:
		return "NEGOTIATING"
	case StateEstablished:
		return "ESTABLISHED"
	case StatePlaying:
		return "PLAYING"
	case StatePaused:
		return "PAUSED"
	case StateTearingDown:
		return "TEARING_DOWN"
	case StateDead:
		return "DEAD"
	default:
		return "UNKNOWN"
	}
}

// DirectiveKind enumerates the rule-list directive vocabulary spec.md §4.4
// calls for ("a small DSL (enum-tagged directives) for the rule-list",
// design notes §9).
type DirectiveKind int

const (
	DirNextRequest DirectiveKind = iota
	DirNewState
	DirKillPipeline
	DirArmPipelineTimer
)

// Directive is one post-handler rule, applied by the session's command
// goroutine after a local handler returns successfully.
type Directive struct {
	Kind DirectiveKind

	NextRequest MKind // valid when Kind == DirNextRequest
	Args        any   // arguments for the next_request builder (DirNextRequest)

	NewState State // valid when Kind == DirNewState

	ArmDelay time.Duration // valid when Kind == DirArmPipelineTimer
}

// DispatchContext carries the negotiated parameters and mutable wire-level
// state that dispatch table rows read and write. It does not carry the
// session's lifecycle plumbing (sockets, goroutines, pipeline handle) —
// those stay in the session package, which owns a *DispatchContext and
// applies the Directives each row returns.
type DispatchContext struct {
	LocalIP      string
	StreamURL    string // rtsp://<local_ip>/wfd1.0/streamid=0
	SessionIDHex string // uppercase-hex numeric session id

	Standard Standard
	Mask     uint32

	Capabilities *Capabilities // set at M3 reply; last-write-wins, see design note (c)
	RTPPort      uint16        // sink's client_port, learned at M6
	TransportRaw string        // the Transport header value to echo at M6

	Log zerolog.Logger
}

// SessionHeaderValue formats the Session header value uppercase-hex,
// consistently at every occurrence (design note on the M6/M7 hex-vs-decimal
// inconsistency in the original source).
func (c *DispatchContext) SessionHeaderValue() string {
	return fmt.Sprintf("%s;timeout=30", c.SessionIDHex)
}

// Row is one entry of the M-table. BuildRequest is set only for M-kinds the
// source originates (M1, M3, M4, M5); HandleRequest only for M-kinds the
// source receives (M2, M6-M16); HandleReply is paired with BuildRequest.
type Row struct {
	BuildRequest func(ctx *DispatchContext, args any) (*Request, error)
	HandleRequest func(ctx *DispatchContext, req *Request) (*Response, []Directive, error)
	HandleReply  func(ctx *DispatchContext, resp *Response) ([]Directive, error)
}

// Table is the full M1-M16 dispatch table.
type Table map[MKind]Row

// Dispatcher routes inbound RTSP requests/replies through Table, enforcing
// the policy spec.md §4.4(a)/(b) names: an inbound request whose row has no
// HandleRequest gets 501; a reply is only accepted for the single
// outstanding request kind.
type Dispatcher struct {
	table   Table
	limiter *rate.Limiter
	log     zerolog.Logger
}

// NewDispatcher builds a Dispatcher over the standard M-table, bounding
// inbound request processing to reqPerSec with a burst of burst — a
// defensive throttle against a misbehaving or malicious sink, the same
// concern golang.org/x/time/rate addresses in gtfodev-camsRelay's stream
// renewal loop and winkmichael-wink-rtsp-bench's load generator.
func NewDispatcher(log zerolog.Logger, reqPerSec float64, burst int) *Dispatcher {
	return &Dispatcher{table: NewTable(), limiter: rate.NewLimiter(rate.Limit(reqPerSec), burst), log: log}
}

// RouteInbound maps an inbound request's method (and, for GET_PARAMETER,
// whether it carries a body) to the M-kind row that should handle it.
func RouteInbound(method string, bodyLen int) MKind {
	switch method {
	case "OPTIONS":
		return M2
	case "SETUP":
		return M6
	case "PLAY":
		return M7
	case "TEARDOWN":
		return M8
	case "PAUSE":
		return M9
	case "SET_PARAMETER":
		return M14
	case "GET_PARAMETER":
		if bodyLen == 0 {
			return M16
		}
		return M10
	default:
		return M15
	}
}

// DispatchRequest handles one inbound RTSP request: resolves its M-kind,
// rejects it with 501 if the table has no handler for that kind (policy
// (a)), applies the rate limiter, and invokes the row's HandleRequest.
func (d *Dispatcher) DispatchRequest(ctx *DispatchContext, req *Request) (*Response, []Directive, error) {
	if !d.limiter.Allow() {
		return nil, nil, wfderrors.New(wfderrors.KindProtocolError, "dispatch.rateLimit",
			fmt.Errorf("inbound request rate exceeded"))
	}

	kind := RouteInbound(req.Method, len(req.Body))
	row, ok := d.table[kind]
	if !ok || row.HandleRequest == nil {
		resp := NewResponse(req, 501, "Not Implemented")
		return resp, nil, nil
	}
	return row.HandleRequest(ctx, req)
}

// DispatchReply routes a reply to the row matching the single outstanding
// request kind. Callers (the session) are responsible for tracking which
// kind is outstanding and rejecting replies with a mismatched CSeq before
// reaching here (policy (b), invariant 1: at most one in flight).
func (d *Dispatcher) DispatchReply(ctx *DispatchContext, kind MKind, resp *Response) ([]Directive, error) {
	row, ok := d.table[kind]
	if !ok || row.HandleReply == nil {
		return nil, wfderrors.New(wfderrors.KindProtocolError, "dispatch.reply",
			fmt.Errorf("no reply handler registered for %s", kind))
	}
	return row.HandleReply(ctx, resp)
}

// BuildRequest invokes the named row's request builder (used for
// source-originated M1/M3/M4/M5).
func (d *Dispatcher) BuildRequest(ctx *DispatchContext, kind MKind, args any) (*Request, error) {
	row, ok := d.table[kind]
	if !ok || row.BuildRequest == nil {
		return nil, wfderrors.New(wfderrors.KindProtocolError, "dispatch.build",
			fmt.Errorf("no request builder registered for %s", kind))
	}
	return row.BuildRequest(ctx, args)
}
