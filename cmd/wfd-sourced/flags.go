package main

import (
	"errors"
	"flag"
	"fmt"
	"net/netip"
	"os"
	"strconv"
	"strings"
)

// version is injected at build time with -ldflags "-X main.version=...".
var version = "dev"

// cliConfig holds user-supplied flag values prior to translation into
// session.Config, so main.go can validate and map in one place.
type cliConfig struct {
	displayScheme string
	displayName   string
	displayGeom   string // "x,y,width,height"
	localAddr     string
	remoteAddr    string
	subelementHex string

	pipelineProgram string
	pipelineArgs    string // space-separated base argv, rarely needed

	rateLimitPerSec float64
	rateLimitBurst  int

	logLevel    string
	showVersion bool

	displayX, displayY, displayWidth, displayHeight uint16
}

func parseFlags(args []string) (*cliConfig, error) {
	fs := flag.NewFlagSet("wfd-sourced", flag.ContinueOnError)
	fs.SetOutput(os.Stdout)

	cfg := &cliConfig{}

	fs.StringVar(&cfg.displayScheme, "display.scheme", "x", "display backend scheme (only \"x\" supported)")
	fs.StringVar(&cfg.displayName, "display.name", "HDMI-0", "local display/output name to capture")
	fs.StringVar(&cfg.displayGeom, "display.geometry", "0,0,1920,1080", "capture region as x,y,width,height")

	fs.StringVar(&cfg.localAddr, "local-addr", "", "local IPv4 address to bind the RTSP listener on (required)")
	fs.StringVar(&cfg.remoteAddr, "remote-addr", "", "sink's IPv4 address, as established by P2P association (required)")
	fs.StringVar(&cfg.subelementHex, "sink-subelement", "", "hex-encoded WFD device info subelement advertised by the sink (required)")

	fs.StringVar(&cfg.pipelineProgram, "pipeline.program", "wfd-gst-pipeline", "media pipeline encoder binary to launch once PLAYING")
	fs.StringVar(&cfg.pipelineArgs, "pipeline.args", "", "space-separated base argv prepended to the per-session pipeline argv")

	fs.Float64Var(&cfg.rateLimitPerSec, "rtsp.rate-limit", 20, "inbound RTSP requests/sec this session accepts from the sink")
	fs.IntVar(&cfg.rateLimitBurst, "rtsp.rate-burst", 10, "inbound RTSP request burst allowance")

	fs.StringVar(&cfg.logLevel, "log-level", "info", "log level: debug|info|warn|error")
	fs.BoolVar(&cfg.showVersion, "version", false, "print version and exit")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if cfg.showVersion {
		return cfg, nil
	}

	if cfg.localAddr == "" {
		return nil, errors.New("-local-addr is required")
	}
	if cfg.remoteAddr == "" {
		return nil, errors.New("-remote-addr is required")
	}
	if cfg.subelementHex == "" {
		return nil, errors.New("-sink-subelement is required")
	}
	if _, err := netip.ParseAddr(cfg.localAddr); err != nil {
		return nil, fmt.Errorf("invalid -local-addr %q: %w", cfg.localAddr, err)
	}
	if _, err := netip.ParseAddr(cfg.remoteAddr); err != nil {
		return nil, fmt.Errorf("invalid -remote-addr %q: %w", cfg.remoteAddr, err)
	}

	x, y, w, h, err := parseGeometry(cfg.displayGeom)
	if err != nil {
		return nil, fmt.Errorf("invalid -display.geometry %q: %w", cfg.displayGeom, err)
	}
	cfg.displayX, cfg.displayY, cfg.displayWidth, cfg.displayHeight = x, y, w, h

	switch cfg.logLevel {
	case "debug", "info", "warn", "error":
	default:
		return nil, fmt.Errorf("invalid log-level %q", cfg.logLevel)
	}

	return cfg, nil
}

// parseGeometry parses "x,y,width,height" into four uint16 fields.
func parseGeometry(s string) (x, y, w, h uint16, err error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return 0, 0, 0, 0, fmt.Errorf("expected 4 comma-separated fields, got %d", len(parts))
	}
	vals := make([]uint16, 4)
	for i, p := range parts {
		n, convErr := strconv.ParseUint(strings.TrimSpace(p), 10, 16)
		if convErr != nil {
			return 0, 0, 0, 0, fmt.Errorf("field %d: %w", i, convErr)
		}
		vals[i] = uint16(n)
	}
	return vals[0], vals[1], vals[2], vals[3], nil
}

func (c *cliConfig) pipelineArgsBase() []string {
	if c.pipelineArgs == "" {
		return nil
	}
	return strings.Fields(c.pipelineArgs)
}
