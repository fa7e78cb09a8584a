// Package integration drives the WFD source session end to end over real
// loopback TCP connections, playing the sink side of each scenario by hand.
package integration

import (
	"bufio"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alxayo/wfd-out-session/internal/session"
	"github.com/alxayo/wfd-out-session/internal/wfdproto"
)

func newLoopbackConfig(t *testing.T, pipelineProgram string, pipelineArgs []string) session.Config {
	t.Helper()
	return session.Config{
		Display: session.DisplaySource{Scheme: "x", Name: "HDMI-0", X: 0, Y: 0, Width: 1920, Height: 1080},
		Peer: session.PeerDescriptor{
			LocalAddr:   "127.0.0.1",
			RemoteAddr:  "127.0.0.1",
			Connected:   true,
			Subelements: wfdproto.BuildDeviceInfoSubelement(0, 7236, 0),
		},
		PipelineProgram:  pipelineProgram,
		PipelineArgsBase: pipelineArgs,
	}
}

func readNext(r *bufio.Reader) (*wfdproto.Request, *wfdproto.Response, error) {
	isResp, err := wfdproto.PeekIsResponse(r)
	if err != nil {
		return nil, nil, err
	}
	if isResp {
		resp, err := wfdproto.ReadResponse(r)
		return nil, resp, err
	}
	req, err := wfdproto.ReadRequest(r)
	return req, nil, err
}

func newSinkRequest(method, url string, cseq int) *wfdproto.Request {
	req := &wfdproto.Request{Method: method, URL: url, CSeq: cseq}
	req.Headers = wfdproto.NewHeaders()
	req.Headers.Set(wfdproto.HeaderCSeq, fmt.Sprintf("%d", cseq))
	return req
}

// dialSession starts a session listening on the WFD well-known port
// advertised in its subelement and dials it, returning both ends driven
// over the real socket.
func dialSession(t *testing.T, cfg session.Config) (*session.Session, net.Conn, *bufio.Reader) {
	t.Helper()
	s, err := session.New(cfg, zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, s.InitiateIO())

	done := make(chan error, 1)
	go func() { done <- s.HandleIO() }()

	conn, err := net.Dial("tcp", s.ListenAddr().String())
	require.NoError(t, err)
	require.NoError(t, <-done)

	return s, conn, bufio.NewReader(conn)
}

// TestS1HappyNegotiation drives M1 through M5 and asserts ESTABLISHED, per
// the happy-path negotiation scenario.
func TestS1HappyNegotiation(t *testing.T) {
	require.NoError(t, os.Setenv("DO_NOT_LAUNCH_GST", "1"))
	defer os.Unsetenv("DO_NOT_LAUNCH_GST")

	cfg := newLoopbackConfig(t, "/bin/sh", nil)
	s, conn, r := dialSession(t, cfg)
	defer s.Close()
	defer conn.Close()

	addr := s.ListenAddr().(*net.TCPAddr)
	assert.Equal(t, 7236, addr.Port)

	require.NoError(t, s.InitiateRequest())

	// M1: OPTIONS -> full capability set advertised.
	req, _, err := readNext(r)
	require.NoError(t, err)
	assert.Equal(t, "OPTIONS", req.Method)
	m1Reply := wfdproto.NewResponse(req, 200, "OK")
	m1Reply.Headers.Set(wfdproto.HeaderPublic,
		"org.wfa.wfd1.0, SETUP, TEARDOWN, PLAY, PAUSE, GET_PARAMETER, SET_PARAMETER")
	_, err = m1Reply.WriteTo(conn)
	require.NoError(t, err)

	// M2: sink-originated OPTIONS; the source issues M3 after replying.
	m2 := newSinkRequest("OPTIONS", "*", 1)
	m2.Headers.Set(wfdproto.HeaderRequire, "org.wfa.wfd1.0")
	_, err = m2.WriteTo(conn)
	require.NoError(t, err)
	_, m2Resp, err := readNext(r)
	require.NoError(t, err)
	assert.Equal(t, 200, m2Resp.StatusCode)

	// M3: GET_PARAMETER body requests the three named capabilities.
	req, _, err = readNext(r)
	require.NoError(t, err)
	assert.Equal(t, "GET_PARAMETER", req.Method)
	for _, want := range []string{"wfd_video_formats", "wfd_audio_codecs", "wfd_client_rtp_ports"} {
		assert.Contains(t, string(req.Body), want)
	}
	m3Reply := wfdproto.NewResponse(req, 200, "OK")
	m3Reply.Body = []byte("wfd_client_rtp_ports: RTP/AVP/UDP;unicast 19000 0 mode=play\r\n")
	_, err = m3Reply.WriteTo(conn)
	require.NoError(t, err)

	// M4: SET_PARAMETER carries the negotiated single video-format row.
	req, _, err = readNext(r)
	require.NoError(t, err)
	assert.Equal(t, "SET_PARAMETER", req.Method)
	assert.Contains(t, string(req.Body),
		"wfd_video_formats: 00 00 02 10 00000001 00000000 00000000 00 0000 0000 00 none none")
	m4Reply := wfdproto.NewResponse(req, 200, "OK")
	_, err = m4Reply.WriteTo(conn)
	require.NoError(t, err)

	assert.Equal(t, wfdproto.StateEstablished, s.StateSync())

	// M5: SETUP trigger follows immediately.
	req, _, err = readNext(r)
	require.NoError(t, err)
	assert.Equal(t, "SET_PARAMETER", req.Method)
	assert.Contains(t, string(req.Body), "wfd_trigger_method: SETUP")
	m5Reply := wfdproto.NewResponse(req, 200, "OK")
	_, err = m5Reply.WriteTo(conn)
	require.NoError(t, err)
}

// TestS2SetupThenPlay continues past ESTABLISHED through sink-originated
// SETUP/PLAY and asserts the pipeline launches with the negotiated
// remote-ip/port pair baked into its argv.
func TestS2SetupThenPlay(t *testing.T) {
	tmpFile := filepath.Join(t.TempDir(), "pipeline-argv.txt")
	script := fmt.Sprintf(`printf '%%s %%s\n' "$4" "$5" > %q; exec sleep 30`, tmpFile)

	cfg := newLoopbackConfig(t, "/bin/sh", []string{"-c", script})
	s, conn, r := dialSession(t, cfg)
	defer s.Close()
	defer conn.Close()

	require.NoError(t, s.InitiateRequest())
	negotiateToEstablished(t, conn, r)
	assert.Equal(t, wfdproto.StateEstablished, s.StateSync())

	m6 := newSinkRequest("SETUP", "rtsp://127.0.0.1/wfd1.0/streamid=0", 100)
	m6.Headers.Set(wfdproto.HeaderTransport, "RTP/AVP/UDP;unicast;client_port=50000")
	_, err := m6.WriteTo(conn)
	require.NoError(t, err)

	_, resp, err := readNext(r)
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)
	transport, _ := resp.Headers.Get(wfdproto.HeaderTransport)
	assert.Contains(t, transport, "client_port=50000")
	sessHdr, _ := resp.Headers.Get(wfdproto.HeaderSession)
	assert.Contains(t, sessHdr, "timeout=30")

	m7 := newSinkRequest("PLAY", "rtsp://127.0.0.1/wfd1.0/streamid=0", 101)
	_, err = m7.WriteTo(conn)
	require.NoError(t, err)

	_, resp, err = readNext(r)
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)
	rng, _ := resp.Headers.Get(wfdproto.HeaderRange)
	assert.Equal(t, "ntp=now-", rng)

	require.Eventually(t, func() bool {
		return s.StateSync() == wfdproto.StatePlaying
	}, 2*time.Second, 20*time.Millisecond)

	require.Eventually(t, func() bool {
		data, err := os.ReadFile(tmpFile)
		return err == nil && strings.TrimSpace(string(data)) == "127.0.0.1 50000"
	}, 2*time.Second, 20*time.Millisecond, "pipeline argv should carry the negotiated remote ip and rtp port")
}

// TestS3PauseResume drives PLAYING -> PAUSED -> PLAYING, confirming the
// pipeline is killed on PAUSE and relaunched on the following PLAY.
func TestS3PauseResume(t *testing.T) {
	cfg := newLoopbackConfig(t, "/bin/sh", []string{"-c", "exec sleep 30"})
	s, conn, r := dialSession(t, cfg)
	defer s.Close()
	defer conn.Close()

	require.NoError(t, s.InitiateRequest())
	negotiateToEstablished(t, conn, r)
	playFromEstablished(t, s, conn, r, 100)

	require.NoError(t, s.Pause())
	req, _, err := readNext(r)
	require.NoError(t, err)
	assert.Equal(t, "SET_PARAMETER", req.Method)
	assert.Contains(t, string(req.Body), "wfd_trigger_method: PAUSE")
	pauseReply := wfdproto.NewResponse(req, 200, "OK")
	_, err = pauseReply.WriteTo(conn)
	require.NoError(t, err)

	m9 := newSinkRequest("PAUSE", "rtsp://127.0.0.1/wfd1.0/streamid=0", 200)
	_, err = m9.WriteTo(conn)
	require.NoError(t, err)
	_, resp, err := readNext(r)
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)

	require.Eventually(t, func() bool {
		return s.StateSync() == wfdproto.StatePaused
	}, 2*time.Second, 20*time.Millisecond)

	require.NoError(t, s.Resume())
	req, _, err = readNext(r)
	require.NoError(t, err)
	assert.Contains(t, string(req.Body), "wfd_trigger_method: PLAY")
	resumeReply := wfdproto.NewResponse(req, 200, "OK")
	_, err = resumeReply.WriteTo(conn)
	require.NoError(t, err)

	m7again := newSinkRequest("PLAY", "rtsp://127.0.0.1/wfd1.0/streamid=0", 201)
	_, err = m7again.WriteTo(conn)
	require.NoError(t, err)
	_, resp, err = readNext(r)
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)

	require.Eventually(t, func() bool {
		return s.StateSync() == wfdproto.StatePlaying
	}, 2*time.Second, 20*time.Millisecond)
}

// TestS4UnexpectedChildDeath lets the pipeline process exit on its own
// while PLAYING and asserts the session tears itself down rather than
// treating it as a deliberate pause-triggered kill.
func TestS4UnexpectedChildDeath(t *testing.T) {
	cfg := newLoopbackConfig(t, "/bin/sh", []string{"-c", "true"}) // exits immediately on its own
	s, conn, r := dialSession(t, cfg)
	defer s.Close()
	defer conn.Close()

	require.NoError(t, s.InitiateRequest())
	negotiateToEstablished(t, conn, r)
	playFromEstablished(t, s, conn, r, 100)

	require.Eventually(t, func() bool {
		return s.StateSync() == wfdproto.StateDead
	}, 2*time.Second, 20*time.Millisecond, "an unexpected pipeline exit while PLAYING must force teardown")
}

// TestS5BadRequire asserts an M2 OPTIONS with an unsupported Require token
// is rejected with OPTION_NOT_SUPPORTED and does not advance state.
func TestS5BadRequire(t *testing.T) {
	require.NoError(t, os.Setenv("DO_NOT_LAUNCH_GST", "1"))
	defer os.Unsetenv("DO_NOT_LAUNCH_GST")

	cfg := newLoopbackConfig(t, "/bin/sh", nil)
	s, conn, r := dialSession(t, cfg)
	defer s.Close()
	defer conn.Close()

	m2 := newSinkRequest("OPTIONS", "*", 1)
	m2.Headers.Set(wfdproto.HeaderRequire, "org.example")
	_, err := m2.WriteTo(conn)
	require.NoError(t, err)

	_, resp, err := readNext(r)
	require.NoError(t, err)
	assert.Equal(t, 551, resp.StatusCode)

	assert.Equal(t, wfdproto.StateNegotiating, s.StateSync())
}

// TestS6InvalidConstruction asserts a zero-dimension display is rejected at
// construction time and no session object is returned.
func TestS6InvalidConstruction(t *testing.T) {
	cfg := newLoopbackConfig(t, "/bin/sh", nil)
	cfg.Display.Width = 0
	s, err := session.New(cfg, zerolog.Nop())
	assert.Error(t, err)
	assert.Nil(t, s)
}

// TestS9UnexpectedReply asserts a reply whose CSeq does not match the
// single outstanding request forces the session into teardown rather than
// being accepted or silently dropped.
func TestS9UnexpectedReply(t *testing.T) {
	require.NoError(t, os.Setenv("DO_NOT_LAUNCH_GST", "1"))
	defer os.Unsetenv("DO_NOT_LAUNCH_GST")

	cfg := newLoopbackConfig(t, "/bin/sh", nil)
	s, conn, r := dialSession(t, cfg)
	defer s.Close()
	defer conn.Close()

	require.NoError(t, s.InitiateRequest())

	req, _, err := readNext(r)
	require.NoError(t, err)
	assert.Equal(t, "OPTIONS", req.Method)

	mismatched := wfdproto.NewResponse(req, 200, "OK")
	mismatched.CSeq = req.CSeq + 1
	mismatched.Headers.Set(wfdproto.HeaderCSeq, fmt.Sprintf("%d", mismatched.CSeq))
	_, err = mismatched.WriteTo(conn)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return s.StateSync() == wfdproto.StateDead
	}, 2*time.Second, 20*time.Millisecond, "a reply with a mismatched CSeq must force teardown")
}

// negotiateToEstablished drives M1-M5 (with the sink's M2) with a minimally-compliant sink,
// shared by scenarios that only care about state reached after
// negotiation rather than re-asserting each message's body.
func negotiateToEstablished(t *testing.T, conn net.Conn, r *bufio.Reader) {
	t.Helper()

	req, _, err := readNext(r)
	require.NoError(t, err)
	require.Equal(t, "OPTIONS", req.Method)
	m1Reply := wfdproto.NewResponse(req, 200, "OK")
	m1Reply.Headers.Set(wfdproto.HeaderPublic, "org.wfa.wfd1.0, GET_PARAMETER, SET_PARAMETER")
	_, err = m1Reply.WriteTo(conn)
	require.NoError(t, err)

	m2 := newSinkRequest("OPTIONS", "*", 1)
	m2.Headers.Set(wfdproto.HeaderRequire, "org.wfa.wfd1.0")
	_, err = m2.WriteTo(conn)
	require.NoError(t, err)
	_, m2Resp, err := readNext(r)
	require.NoError(t, err)
	require.Equal(t, 200, m2Resp.StatusCode)

	req, _, err = readNext(r)
	require.NoError(t, err)
	require.Equal(t, "GET_PARAMETER", req.Method)
	m3Reply := wfdproto.NewResponse(req, 200, "OK")
	m3Reply.Body = []byte("wfd_client_rtp_ports: RTP/AVP/UDP;unicast 19000 0 mode=play\r\n")
	_, err = m3Reply.WriteTo(conn)
	require.NoError(t, err)

	req, _, err = readNext(r)
	require.NoError(t, err)
	require.Equal(t, "SET_PARAMETER", req.Method)
	m4Reply := wfdproto.NewResponse(req, 200, "OK")
	_, err = m4Reply.WriteTo(conn)
	require.NoError(t, err)

	req, _, err = readNext(r)
	require.NoError(t, err)
	require.Equal(t, "SET_PARAMETER", req.Method)
	m5Reply := wfdproto.NewResponse(req, 200, "OK")
	_, err = m5Reply.WriteTo(conn)
	require.NoError(t, err)
}

// playFromEstablished drives sink-originated SETUP/PLAY and waits for the
// session to report PLAYING.
func playFromEstablished(t *testing.T, s *session.Session, conn net.Conn, r *bufio.Reader, baseCseq int) {
	t.Helper()

	m6 := newSinkRequest("SETUP", "rtsp://127.0.0.1/wfd1.0/streamid=0", baseCseq)
	m6.Headers.Set(wfdproto.HeaderTransport, "RTP/AVP/UDP;unicast;client_port=50000")
	_, err := m6.WriteTo(conn)
	require.NoError(t, err)
	_, resp, err := readNext(r)
	require.NoError(t, err)
	require.Equal(t, 200, resp.StatusCode)

	m7 := newSinkRequest("PLAY", "rtsp://127.0.0.1/wfd1.0/streamid=0", baseCseq+1)
	_, err = m7.WriteTo(conn)
	require.NoError(t, err)
	_, resp, err = readNext(r)
	require.NoError(t, err)
	require.Equal(t, 200, resp.StatusCode)

	require.Eventually(t, func() bool {
		return s.StateSync() == wfdproto.StatePlaying
	}, 2*time.Second, 20*time.Millisecond)
}
