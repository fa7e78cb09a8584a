package wfdproto

import (
	"fmt"
	"time"

	wfderrors "github.com/alxayo/wfd-out-session/internal/errors"
)

// pipelineArmDelay is how long the session waits after replying 200 to M7
// PLAY before launching the media pipeline, giving the reply a chance to
// reach the sink and the sink's RTP receiver a moment to come up.
const pipelineArmDelay = 100 * time.Millisecond

// NewTable builds the standard M1-M16 row set. Rows with neither
// BuildRequest nor HandleRequest set are unreachable by construction
// (Dispatcher never looks one up without first resolving an MKind that
// routes to a populated row), but M10/M11/M12/M13/M15 are listed explicitly
// below with a shared "not implemented" handler so the table documents
// every row spec.md §4.1 names, not just the ones this core exercises.
func NewTable() Table {
	notImplemented := func(ctx *DispatchContext, req *Request) (*Response, []Directive, error) {
		return NewResponse(req, 501, "Not Implemented"), nil, nil
	}
	noop := func(ctx *DispatchContext, req *Request) (*Response, []Directive, error) {
		return NewResponse(req, 200, "OK"), nil, nil
	}

	return Table{
		M1: {
			BuildRequest: buildM1,
			HandleReply:  handleM1Reply,
		},
		M2: {
			HandleRequest: handleM2Request,
		},
		M3: {
			BuildRequest: buildM3,
			HandleReply:  handleM3Reply,
		},
		M4: {
			BuildRequest: buildM4,
			HandleReply:  handleM4Reply,
		},
		M5: {
			BuildRequest: buildM5,
			HandleReply:  handleM5Reply,
		},
		M6: {
			HandleRequest: handleM6Request,
		},
		M7: {
			HandleRequest: handleM7Request,
		},
		M8: {
			HandleRequest: handleM8Request,
		},
		M9: {
			HandleRequest: handleM9Request,
		},
		M10: {HandleRequest: notImplemented},
		M11: {HandleRequest: notImplemented},
		M12: {HandleRequest: notImplemented},
		M13: {HandleRequest: notImplemented},
		M14: {HandleRequest: noop},
		M15: {HandleRequest: notImplemented},
		M16: {HandleRequest: noop},
	}
}

// --- M1: source -> sink, OPTIONS * ---------------------------------------

func buildM1(ctx *DispatchContext, args any) (*Request, error) {
	req := &Request{Method: "OPTIONS", URL: "*", Headers: newHeaders()}
	req.Headers.Set(HeaderRequire, "org.wfa.wfd1.0")
	return req, nil
}

func handleM1Reply(ctx *DispatchContext, resp *Response) ([]Directive, error) {
	if resp.StatusCode != 200 {
		return nil, wfderrors.New(wfderrors.KindProtocolError, "handleM1Reply",
			fmt.Errorf("M1 OPTIONS rejected: status %d", resp.StatusCode))
	}
	public, _ := resp.Headers.Get(HeaderPublic)
	for _, want := range []string{"org.wfa.wfd1.0", "GET_PARAMETER", "SET_PARAMETER"} {
		if !containsToken(public, want) {
			return nil, wfderrors.New(wfderrors.KindProtocolError, "handleM1Reply",
				fmt.Errorf("M1 reply Public header missing %q: %q", want, public))
		}
	}
	return nil, nil
}

// --- M2: sink -> source, OPTIONS * ----------------------------------------

func handleM2Request(ctx *DispatchContext, req *Request) (*Response, []Directive, error) {
	require, _ := req.Headers.Get(HeaderRequire)
	if require != "org.wfa.wfd1.0" {
		resp := NewResponse(req, 551, "Option not supported")
		return resp, nil, nil
	}
	resp := NewResponse(req, 200, "OK")
	resp.Headers.Set(HeaderPublic, "org.wfa.wfd1.0, SETUP, TEARDOWN, PLAY, PAUSE, GET_PARAMETER, SET_PARAMETER")
	return resp, []Directive{{Kind: DirNextRequest, NextRequest: M3}}, nil
}

// --- M3: source -> sink, GET_PARAMETER ------------------------------------

func buildM3(ctx *DispatchContext, args any) (*Request, error) {
	req := &Request{Method: "GET_PARAMETER", URL: "rtsp://localhost/wfd1.0", Headers: newHeaders()}
	req.Headers.Set(HeaderContentType, "text/parameters")
	req.Body = []byte("wfd_video_formats\r\nwfd_audio_codecs\r\nwfd_client_rtp_ports\r\n")
	return req, nil
}

func handleM3Reply(ctx *DispatchContext, resp *Response) ([]Directive, error) {
	if resp.StatusCode != 200 {
		return nil, wfderrors.New(wfderrors.KindProtocolError, "handleM3Reply",
			fmt.Errorf("M3 GET_PARAMETER rejected: status %d", resp.StatusCode))
	}
	caps, err := ParseCapabilityReply(resp.Body)
	if err != nil {
		return nil, err
	}
	if ctx.Capabilities != nil {
		ctx.Log.Debug().Msg("M3 reply replaces previously negotiated capabilities")
	}
	ctx.Capabilities = caps // last-write-wins, see design note (c)
	return []Directive{{Kind: DirNextRequest, NextRequest: M4}}, nil
}

// --- M4: source -> sink, SET_PARAMETER (chosen format + URL + ports) -----

func buildM4(ctx *DispatchContext, args any) (*Request, error) {
	if ctx.Capabilities == nil {
		return nil, wfderrors.New(wfderrors.KindProtocolError, "buildM4", fmt.Errorf("capabilities not yet negotiated"))
	}
	req := &Request{Method: "SET_PARAMETER", URL: "rtsp://localhost/wfd1.0", Headers: newHeaders()}
	req.Headers.Set(HeaderContentType, "text/parameters")
	body := fmt.Sprintf(
		"wfd_video_formats: %s\r\nwfd_presentation_URL: %s\r\nwfd_client_rtp_ports: %s\r\n",
		FormatVideoFormatsRow(ctx.Standard, ctx.Mask),
		FormatPresentationURL(ctx.StreamURL),
		FormatClientRTPPorts(ctx.Capabilities.RTPPort1, ctx.Capabilities.RTPPort2),
	)
	req.Body = []byte(body)
	return req, nil
}

func handleM4Reply(ctx *DispatchContext, resp *Response) ([]Directive, error) {
	if resp.StatusCode != 200 {
		return nil, wfderrors.New(wfderrors.KindProtocolError, "handleM4Reply",
			fmt.Errorf("M4 SET_PARAMETER rejected: status %d", resp.StatusCode))
	}
	return []Directive{
		{Kind: DirNewState, NewState: StateEstablished},
		{Kind: DirNextRequest, NextRequest: M5, Args: TriggerSetup},
	}, nil
}

// --- M5: source -> sink, SET_PARAMETER (wfd_trigger_method) ---------------

func buildM5(ctx *DispatchContext, args any) (*Request, error) {
	method, ok := args.(TriggerMethod)
	if !ok {
		return nil, wfderrors.New(wfderrors.KindInvalidInput, "buildM5", fmt.Errorf("M5 requires a TriggerMethod argument"))
	}
	req := &Request{Method: "SET_PARAMETER", URL: ctx.StreamURL, Headers: newHeaders()}
	req.Headers.Set(HeaderContentType, "text/parameters")
	req.Body = []byte(fmt.Sprintf("wfd_trigger_method: %s\r\n", method.String()))
	return req, nil
}

func handleM5Reply(ctx *DispatchContext, resp *Response) ([]Directive, error) {
	if resp.StatusCode != 200 {
		return nil, wfderrors.New(wfderrors.KindProtocolError, "handleM5Reply",
			fmt.Errorf("M5 SET_PARAMETER rejected: status %d", resp.StatusCode))
	}
	// State does not change here: the subsequent inbound M6/M7/M8/M9 from
	// the sink drives the actual transition.
	return nil, nil
}

// --- M6: sink -> source, SETUP ---------------------------------------------

func handleM6Request(ctx *DispatchContext, req *Request) (*Response, []Directive, error) {
	transport, ok := req.Headers.Get(HeaderTransport)
	if !ok {
		resp := NewResponse(req, 400, "Bad Request")
		return resp, nil, wfderrors.New(wfderrors.KindProtocolError, "handleM6Request", fmt.Errorf("SETUP missing Transport header"))
	}
	port, err := parseClientPort(transport)
	if err != nil {
		resp := NewResponse(req, 400, "Bad Request")
		return resp, nil, err
	}
	ctx.RTPPort = port
	ctx.TransportRaw = transport

	resp := NewResponse(req, 200, "OK")
	resp.Headers.Set(HeaderTransport, transport)
	resp.Headers.Set(HeaderSession, ctx.SessionHeaderValue())
	return resp, nil, nil
}

// --- M7: sink -> source, PLAY ----------------------------------------------

func handleM7Request(ctx *DispatchContext, req *Request) (*Response, []Directive, error) {
	resp := NewResponse(req, 200, "OK")
	resp.Headers.Set(HeaderSession, ctx.SessionHeaderValue())
	resp.Headers.Set(HeaderRange, "ntp=now-")
	return resp, []Directive{
		{Kind: DirNewState, NewState: StatePlaying},
		{Kind: DirArmPipelineTimer, ArmDelay: pipelineArmDelay},
	}, nil
}

// --- M8: sink -> source, TEARDOWN ------------------------------------------

func handleM8Request(ctx *DispatchContext, req *Request) (*Response, []Directive, error) {
	resp := NewResponse(req, 200, "OK")
	resp.Headers.Set(HeaderSession, ctx.SessionHeaderValue())
	return resp, []Directive{
		{Kind: DirKillPipeline},
		{Kind: DirNewState, NewState: StateTearingDown},
	}, nil
}

// --- M9: sink -> source, PAUSE ----------------------------------------------

func handleM9Request(ctx *DispatchContext, req *Request) (*Response, []Directive, error) {
	resp := NewResponse(req, 200, "OK")
	resp.Headers.Set(HeaderSession, ctx.SessionHeaderValue())
	return resp, []Directive{
		{Kind: DirKillPipeline},
		{Kind: DirNewState, NewState: StatePaused},
	}, nil
}

// containsToken reports whether comma-separated header value list contains
// token, ignoring surrounding whitespace around each element.
func containsToken(list, token string) bool {
	start := 0
	for i := 0; i <= len(list); i++ {
		if i == len(list) || list[i] == ',' {
			elem := trimSpace(list[start:i])
			if elem == token {
				return true
			}
			start = i + 1
		}
	}
	return false
}

func trimSpace(s string) string {
	for len(s) > 0 && (s[0] == ' ' || s[0] == '\t') {
		s = s[1:]
	}
	for len(s) > 0 && (s[len(s)-1] == ' ' || s[len(s)-1] == '\t') {
		s = s[:len(s)-1]
	}
	return s
}
