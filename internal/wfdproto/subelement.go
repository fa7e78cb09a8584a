package wfdproto

import (
	"encoding/binary"
	"fmt"

	wfderrors "github.com/alxayo/wfd-out-session/internal/errors"
)

// SubelementID identifies a WFD subelement carried in a P2P information
// element blob.
type SubelementID byte

const (
	SubelementDeviceInfo SubelementID = 0x00
)

// subelementHeaderLen is ID (1 byte) + length (2 bytes, big-endian).
const subelementHeaderLen = 3

// deviceInfoPayloadLen is the fixed WFD_DEVICE_INFO subelement payload:
// device info bitmap (2 bytes) + RTSP control port (2 bytes) + max
// throughput (2 bytes).
const deviceInfoPayloadLen = 6

// ExtractRTSPPort parses a WFD subelement blob (as carried out-of-band
// during P2P discovery) and extracts the sink's RTSP TCP control port from
// its DEVICE_INFO subelement. Pure function; no mutation.
func ExtractRTSPPort(blob []byte) (uint16, error) {
	offset := 0
	for offset < len(blob) {
		if offset+subelementHeaderLen > len(blob) {
			return 0, wfderrors.New(wfderrors.KindProtocolError, "ExtractRTSPPort",
				fmt.Errorf("malformed subelement header at offset %d", offset))
		}
		id := SubelementID(blob[offset])
		length := int(binary.BigEndian.Uint16(blob[offset+1 : offset+3]))
		payloadStart := offset + subelementHeaderLen
		payloadEnd := payloadStart + length
		if payloadEnd > len(blob) {
			return 0, wfderrors.New(wfderrors.KindProtocolError, "ExtractRTSPPort",
				fmt.Errorf("subelement length %d exceeds remaining blob at offset %d", length, offset))
		}

		if id == SubelementDeviceInfo {
			if length < deviceInfoPayloadLen {
				return 0, wfderrors.New(wfderrors.KindProtocolError, "ExtractRTSPPort",
					fmt.Errorf("DEVICE_INFO subelement too short: %d bytes", length))
			}
			payload := blob[payloadStart:payloadEnd]
			// bytes [0:2] = device info bitmap (unused here), [2:4] = RTSP
			// control port, [4:6] = max throughput (unused here).
			port := binary.BigEndian.Uint16(payload[2:4])
			return port, nil
		}

		offset = payloadEnd
	}
	return 0, wfderrors.New(wfderrors.KindProtocolError, "ExtractRTSPPort",
		fmt.Errorf("DEVICE_INFO subelement not present"))
}

// BuildDeviceInfoSubelement serializes a DEVICE_INFO subelement, mainly
// used by tests to synthesize a peer/link descriptor.
func BuildDeviceInfoSubelement(deviceInfoBitmap uint16, rtspPort uint16, maxThroughput uint16) []byte {
	buf := make([]byte, subelementHeaderLen+deviceInfoPayloadLen)
	buf[0] = byte(SubelementDeviceInfo)
	binary.BigEndian.PutUint16(buf[1:3], uint16(deviceInfoPayloadLen))
	binary.BigEndian.PutUint16(buf[3:5], deviceInfoBitmap)
	binary.BigEndian.PutUint16(buf[5:7], rtspPort)
	binary.BigEndian.PutUint16(buf[7:9], maxThroughput)
	return buf
}
