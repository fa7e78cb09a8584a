//go:build ignore

// Generates deterministic WFD subelement golden vector binary files.
// Run: go run ./tests/golden/gen_subelement_vectors.go
// Files:
//   - subelement_device_info_valid.bin    (single DEVICE_INFO subelement, port 7236)
//   - subelement_device_info_alt_port.bin (single DEVICE_INFO subelement, port 8554)
//   - subelement_truncated.bin            (header present, payload cut short)
//   - subelement_missing_device_info.bin  (well-formed but no DEVICE_INFO present)
//
// Subelement layout (WFD P2P information element, DEVICE_INFO only):
//
//	id(1) + length(2, BE) + device_info_bitmap(2, BE) + rtsp_port(2, BE) + max_throughput(2, BE)
package main

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
)

const (
	subelementDeviceInfo = 0x00
	subelementCoupledSink = 0x06 // arbitrary non-DEVICE_INFO id for the "missing" vector
	deviceInfoPayloadLen  = 6
)

func buildDeviceInfo(bitmap, port, maxThroughput uint16) []byte {
	buf := make([]byte, 3+deviceInfoPayloadLen)
	buf[0] = subelementDeviceInfo
	binary.BigEndian.PutUint16(buf[1:3], deviceInfoPayloadLen)
	binary.BigEndian.PutUint16(buf[3:5], bitmap)
	binary.BigEndian.PutUint16(buf[5:7], port)
	binary.BigEndian.PutUint16(buf[7:9], maxThroughput)
	return buf
}

func writeFile(path string, data []byte) error {
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

func main() {
	dir, _ := os.Getwd()
	fmt.Println("Generating WFD subelement golden vectors in", dir)

	validPort7236 := buildDeviceInfo(0x0111, 7236, 0x0006)
	validPort8554 := buildDeviceInfo(0x0111, 8554, 0x0006)

	// header claims a 6-byte payload but only 2 bytes follow.
	truncated := []byte{subelementDeviceInfo, 0x00, 0x06, 0xAA, 0xBB}

	// a single, well-formed, non-DEVICE_INFO subelement.
	missing := []byte{subelementCoupledSink, 0x00, 0x01, 0x00}

	files := []struct {
		name string
		data []byte
	}{
		{"subelement_device_info_valid.bin", validPort7236},
		{"subelement_device_info_alt_port.bin", validPort8554},
		{"subelement_truncated.bin", truncated},
		{"subelement_missing_device_info.bin", missing},
	}

	for _, f := range files {
		p := filepath.Join(dir, f.name)
		if err := writeFile(p, f.data); err != nil {
			fmt.Fprintln(os.Stderr, "error:", err)
			os.Exit(1)
		}
		h := sha256.Sum256(f.data)
		fmt.Printf("Wrote %-34s size=%3d sha256=%s\n", f.name, len(f.data), hex.EncodeToString(h[:8]))
	}
}
