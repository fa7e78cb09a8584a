//go:build ignore

// Generates deterministic WFD M3 GET_PARAMETER reply body golden vector
// text files, per spec.md §4.2 / testable property 5.
// Run: go run ./tests/golden/gen_capability_vectors.go
// Files:
//   - capability_reply_valid.txt          (well-formed, CEA 1920x1080 row)
//   - capability_reply_bad_prefix.txt     (wfd_client_rtp_ports missing RTP/AVP/UDP;unicast)
//   - capability_reply_bad_mode.txt       (mode != play)
//   - capability_reply_both_ports_zero.txt
package main

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
)

func crlf(lines ...string) []byte {
	var out []byte
	for _, l := range lines {
		out = append(out, l...)
		out = append(out, '\r', '\n')
	}
	return out
}

func writeFile(path string, data []byte) error {
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

func main() {
	dir, _ := os.Getwd()
	fmt.Println("Generating WFD capability reply golden vectors in", dir)

	valid := crlf(
		"wfd_video_formats: 00 00 02 10 00000001 00000000 00000000 00 0000 0000 00 none none",
		"wfd_audio_codecs: AAC 00000001 00",
		"wfd_client_rtp_ports: RTP/AVP/UDP;unicast 19000 0 mode=play",
	)
	badPrefix := crlf(
		"wfd_video_formats: 00 00 02 10 00000001 00000000 00000000 00 0000 0000 00 none none",
		"wfd_client_rtp_ports: RTP/AVP/TCP;unicast 19000 0 mode=play",
	)
	badMode := crlf(
		"wfd_video_formats: 00 00 02 10 00000001 00000000 00000000 00 0000 0000 00 none none",
		"wfd_client_rtp_ports: RTP/AVP/UDP;unicast 19000 0 mode=record",
	)
	bothZero := crlf(
		"wfd_video_formats: 00 00 02 10 00000001 00000000 00000000 00 0000 0000 00 none none",
		"wfd_client_rtp_ports: RTP/AVP/UDP;unicast 0 0 mode=play",
	)

	files := []struct {
		name string
		data []byte
	}{
		{"capability_reply_valid.txt", valid},
		{"capability_reply_bad_prefix.txt", badPrefix},
		{"capability_reply_bad_mode.txt", badMode},
		{"capability_reply_both_ports_zero.txt", bothZero},
	}

	for _, f := range files {
		p := filepath.Join(dir, f.name)
		if err := writeFile(p, f.data); err != nil {
			fmt.Fprintln(os.Stderr, "error:", err)
			os.Exit(1)
		}
		h := sha256.Sum256(f.data)
		fmt.Printf("Wrote %-36s size=%3d sha256=%s\n", f.name, len(f.data), hex.EncodeToString(h[:8]))
	}
}
