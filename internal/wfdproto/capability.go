package wfdproto

import (
	"bufio"
	"fmt"
	"strconv"
	"strings"

	"github.com/mitchellh/mapstructure"

	wfderrors "github.com/alxayo/wfd-out-session/internal/errors"
)

// TriggerMethod is the validated, enumerated replacement for the source's
// leaky three-element sscanf capture of wfd_trigger_method (open question
// (b) in the design notes).
type TriggerMethod int

const (
	TriggerSetup TriggerMethod = iota
	TriggerPlay
	TriggerPause
	TriggerTeardown
)

func (t TriggerMethod) String() string {
	switch t {
	case TriggerSetup:
		return "SETUP"
	case TriggerPlay:
		return "PLAY"
	case TriggerPause:
		return "PAUSE"
	case TriggerTeardown:
		return "TEARDOWN"
	default:
		return "UNKNOWN"
	}
}

// ParseTriggerMethod validates s against exactly the four legal trigger
// values, rejecting anything else with PROTOCOL_ERROR instead of silently
// accepting a partial match.
func ParseTriggerMethod(s string) (TriggerMethod, error) {
	switch strings.TrimSpace(s) {
	case "SETUP":
		return TriggerSetup, nil
	case "PLAY":
		return TriggerPlay, nil
	case "PAUSE":
		return TriggerPause, nil
	case "TEARDOWN":
		return TriggerTeardown, nil
	default:
		return 0, wfderrors.New(wfderrors.KindProtocolError, "ParseTriggerMethod",
			fmt.Errorf("invalid wfd_trigger_method %q", s))
	}
}

// rawCapabilities holds the loosely-parsed "key: value" body lines before
// field-specific validation. Mirrors the two-step "parse loosely into a
// map, then decode into a struct" shape SilvaMendes-go-rtpengine's NG
// client uses for its bencode replies (parse first, mapstructure.Decode
// second).
type rawCapabilities struct {
	VideoFormats   string `mapstructure:"wfd_video_formats"`
	AudioCodecs    string `mapstructure:"wfd_audio_codecs"`
	ClientRTPPorts string `mapstructure:"wfd_client_rtp_ports"`
}

// Capabilities holds the sink capabilities learned from the M3
// GET_PARAMETER reply, after field-specific validation.
type Capabilities struct {
	VideoFormats string // kept as the raw row text; this core does not need to parse the sink's own formats, only echo a chosen one at M4
	AudioCodecs  string
	RTPPort1     uint16
	RTPPort2     uint16
}

// parseBodyLines tokenizes a CRLF "key: value" body into a map, ignoring
// blank lines. Unknown keys are kept (and later ignored by ParseCapabilityReply).
// Of the requested keys only wfd_client_rtp_ports must be present;
// wfd_video_formats and wfd_audio_codecs may be absent.
func parseBodyLines(body []byte) (map[string]interface{}, error) {
	out := make(map[string]interface{})
	scanner := bufio.NewScanner(strings.NewReader(string(body)))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		idx := strings.Index(line, ":")
		if idx < 0 {
			return nil, wfderrors.New(wfderrors.KindProtocolError, "parseBodyLines", fmt.Errorf("malformed capability line %q", line))
		}
		key := strings.TrimSpace(line[:idx])
		val := strings.TrimSpace(line[idx+1:])
		out[key] = val
	}
	if err := scanner.Err(); err != nil {
		return nil, wfderrors.New(wfderrors.KindProtocolError, "parseBodyLines", err)
	}
	return out, nil
}

// ParseCapabilityReply parses an M3 GET_PARAMETER reply body into
// Capabilities, validating wfd_client_rtp_ports per spec.md §4.2.
func ParseCapabilityReply(body []byte) (*Capabilities, error) {
	fields, err := parseBodyLines(body)
	if err != nil {
		return nil, err
	}

	var raw rawCapabilities
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &raw,
		WeaklyTypedInput: true,
		ErrorUnused:      false, // unknown keys ignored, per source leniency
	})
	if err != nil {
		return nil, wfderrors.New(wfderrors.KindOSIO, "ParseCapabilityReply", err)
	}
	if err := dec.Decode(fields); err != nil {
		return nil, wfderrors.New(wfderrors.KindProtocolError, "ParseCapabilityReply", err)
	}

	port1, port2, err := ParseClientRTPPorts(raw.ClientRTPPorts)
	if err != nil {
		return nil, err
	}

	return &Capabilities{
		VideoFormats: raw.VideoFormats,
		AudioCodecs:  raw.AudioCodecs,
		RTPPort1:     port1,
		RTPPort2:     port2,
	}, nil
}

// ParseClientRTPPorts validates and extracts the two RTP ports from a
// wfd_client_rtp_ports value, e.g.
// "RTP/AVP/UDP;unicast 19000 0 mode=play".
func ParseClientRTPPorts(s string) (port1, port2 uint16, err error) {
	const prefix = "RTP/AVP/UDP;unicast"
	if !strings.HasPrefix(s, prefix) {
		return 0, 0, wfderrors.New(wfderrors.KindProtocolError, "ParseClientRTPPorts",
			fmt.Errorf("wfd_client_rtp_ports missing required prefix %q", prefix))
	}
	rest := strings.TrimSpace(strings.TrimPrefix(s, prefix))
	fields := strings.Fields(rest)
	if len(fields) != 3 {
		return 0, 0, wfderrors.New(wfderrors.KindProtocolError, "ParseClientRTPPorts",
			fmt.Errorf("expected 2 ports + mode token, got %q", s))
	}
	p1, err1 := strconv.ParseUint(fields[0], 10, 16)
	p2, err2 := strconv.ParseUint(fields[1], 10, 16)
	if err1 != nil || err2 != nil {
		return 0, 0, wfderrors.New(wfderrors.KindProtocolError, "ParseClientRTPPorts",
			fmt.Errorf("non-numeric port in %q", s))
	}
	if !strings.HasPrefix(fields[2], "mode=play") {
		return 0, 0, wfderrors.New(wfderrors.KindProtocolError, "ParseClientRTPPorts",
			fmt.Errorf("expected mode=play token, got %q", fields[2]))
	}
	if p1 == 0 && p2 == 0 {
		return 0, 0, wfderrors.New(wfderrors.KindProtocolError, "ParseClientRTPPorts",
			fmt.Errorf("both RTP ports are zero"))
	}
	return uint16(p1), uint16(p2), nil
}

// FormatVideoFormatsRow builds the source's single wfd_video_formats row,
// placing mask in the column matching standard and zeroing the other two,
// per spec.md §4.2 / testable property 4.
func FormatVideoFormatsRow(standard Standard, mask uint32) string {
	cea, vesa, hh := uint32(0), uint32(0), uint32(0)
	switch standard {
	case StandardCEA:
		cea = mask
	case StandardVESA:
		vesa = mask
	case StandardHH:
		hh = mask
	}
	return fmt.Sprintf("00 00 02 10 %08x %08x %08x 00 0000 0000 00 none none", cea, vesa, hh)
}

// FormatPresentationURL appends the literal " none" WFD requires after the
// source's stream URL.
func FormatPresentationURL(streamURL string) string {
	return streamURL + " none"
}

// FormatClientRTPPorts re-serializes a validated port pair back to wire
// form; buildM4 uses it to echo the sink's M3 ports in the M4 body. Kept
// symmetrical with ParseClientRTPPorts.
func FormatClientRTPPorts(port1, port2 uint16) string {
	return fmt.Sprintf("RTP/AVP/UDP;unicast %d %d mode=play", port1, port2)
}
