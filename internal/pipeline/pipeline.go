// Package pipeline supervises the external media pipeline process (screen
// capture -> H.264 -> MPEG-TS -> RTP/UDP) that the session forks once a
// stream enters PLAYING. It owns the child's lifecycle (launch, signal,
// reap) and reports termination asynchronously, standing in for the
// source's child-exit watch the way alxayo-rtmp-go/internal/rtmp/server/hooks/shell_hook.go
// stands in for an arbitrary external-process hook: build argv/env, run
// under exec.CommandContext-equivalent supervision, report back on completion.
package pipeline

import (
	"os"
	"os/exec"
	"strconv"
	"sync"
	"syscall"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	wfderrors "github.com/alxayo/wfd-out-session/internal/errors"
)

// envDoNotLaunch disables fork/exec of the real encoder program, per
// spec.md §6's process-environment escape hatch — used by tests and local
// development where no encoder binary is installed.
const envDoNotLaunch = "DO_NOT_LAUNCH_GST"

// LaunchArgs carries the negotiated parameters the argv is built from.
type LaunchArgs struct {
	X, Y          uint16
	Width, Height uint16
	RemoteIP      string
	RTPPort       uint16
	DisplayName   string
}

// ExitResult is reported on the Supervisor's Done channel when the child
// process terminates, expectedly or not.
type ExitResult struct {
	Err      error
	ExitCode int
}

// Supervisor forks/execs one media pipeline child process and reports its
// exit. A Supervisor is used for at most one live child at a time; callers
// create a fresh Supervisor for each PLAY->launch cycle (mirroring the
// source's one-shot, self-releasing child-exit watch).
type Supervisor struct {
	id      uuid.UUID // correlation token for this launch cycle's log lines only; exit handling does not consult it (the Supervisor holds no pointer back to the session)
	program string
	argsBase []string
	log     zerolog.Logger

	cmd     *exec.Cmd
	doneCh  chan ExitResult
	killOnce sync.Once
	skipped bool // true when DO_NOT_LAUNCH_GST suppressed the real fork/exec
}

// New creates a Supervisor for one launch cycle. program is the encoder
// binary path; argsBase is prepended to the per-launch argv (e.g. a
// wrapper script's fixed flags); typically empty.
func New(program string, argsBase []string, log zerolog.Logger) *Supervisor {
	return &Supervisor{id: uuid.New(), program: program, argsBase: argsBase, log: log}
}

// ID returns this launch cycle's correlation token.
func (p *Supervisor) ID() uuid.UUID { return p.id }

// Launch forks/execs the encoder program with argv built from args. If
// DO_NOT_LAUNCH_GST is set in the environment, Launch skips the fork/exec
// but still returns success (spec.md §4.6 "environment escape hatch").
func (p *Supervisor) Launch(args LaunchArgs) error {
	if v := os.Getenv(envDoNotLaunch); v != "" {
		p.skipped = true
		p.log.Info().Str("pipeline_id", p.id.String()).Msg("DO_NOT_LAUNCH_GST set, skipping pipeline launch")
		return nil
	}

	argv := append(append([]string{}, p.argsBase...), buildArgv(args)...)
	cmd := exec.Command(p.program, argv...)
	cmd.Env = os.Environ()
	cmd.Stdout = nil
	cmd.Stderr = nil

	if err := cmd.Start(); err != nil {
		return wfderrors.New(wfderrors.KindPipelineFailed, "pipeline.Launch", err)
	}
	p.cmd = cmd
	p.doneCh = make(chan ExitResult, 1)

	p.log.Info().
		Str("pipeline_id", p.id.String()).
		Int("pid", cmd.Process.Pid).
		Strs("argv", argv).
		Msg("pipeline launched")

	go p.wait()
	return nil
}

func (p *Supervisor) wait() {
	err := p.cmd.Wait()
	code := -1
	if p.cmd.ProcessState != nil {
		code = p.cmd.ProcessState.ExitCode()
	}
	p.log.Info().Str("pipeline_id", p.id.String()).Int("exit_code", code).Err(err).Msg("pipeline exited")
	p.doneCh <- ExitResult{Err: err, ExitCode: code}
}

// Kill sends SIGTERM to the recorded PID. Idempotent: a second call is a
// no-op, matching the source's "detach user data" behavior for a
// pre-emptive kill that races a natural exit.
func (p *Supervisor) Kill() {
	p.killOnce.Do(func() {
		if p.cmd == nil || p.cmd.Process == nil {
			return
		}
		p.log.Info().Str("pipeline_id", p.id.String()).Int("pid", p.cmd.Process.Pid).Msg("killing pipeline")
		_ = p.cmd.Process.Signal(syscall.SIGTERM)
	})
}

// Done returns the channel the child's exit is reported on. Never fires if
// Launch skipped the real fork/exec (DO_NOT_LAUNCH_GST).
func (p *Supervisor) Done() <-chan ExitResult {
	return p.doneCh
}

// buildArgv constructs the encoder argv from (x, y, width-1, height-1,
// remote_ip, rtp_port, display_name), per spec.md §4.6. starty is derived
// from args.Y, not args.X — the open-question (a) fix to the original
// source's bug.
func buildArgv(a LaunchArgs) []string {
	startx := int(a.X)
	starty := int(a.Y)
	return []string{
		strconv.Itoa(startx),
		strconv.Itoa(starty),
		strconv.Itoa(int(a.Width) - 1),
		strconv.Itoa(int(a.Height) - 1),
		a.RemoteIP,
		strconv.Itoa(int(a.RTPPort)),
		a.DisplayName,
	}
}
