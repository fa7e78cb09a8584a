package wfdproto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	wfderrors "github.com/alxayo/wfd-out-session/internal/errors"
)

func TestExtractRTSPPortRoundTrip(t *testing.T) {
	blob := BuildDeviceInfoSubelement(0x0101, 7236, 50)
	port, err := ExtractRTSPPort(blob)
	require.NoError(t, err)
	assert.EqualValues(t, 7236, port)
}

func TestExtractRTSPPortSkipsUnknownSubelements(t *testing.T) {
	unknown := []byte{0x01, 0x00, 0x02, 0xAA, 0xBB}
	deviceInfo := BuildDeviceInfoSubelement(0, 19000, 0)
	blob := append(append([]byte{}, unknown...), deviceInfo...)

	port, err := ExtractRTSPPort(blob)
	require.NoError(t, err)
	assert.EqualValues(t, 19000, port)
}

func TestExtractRTSPPortMissingDeviceInfo(t *testing.T) {
	blob := []byte{0x01, 0x00, 0x02, 0xAA, 0xBB}
	_, err := ExtractRTSPPort(blob)
	assert.Error(t, err)
	assert.True(t, wfderrors.Is(err, wfderrors.KindProtocolError))
}

func TestExtractRTSPPortTruncatedHeader(t *testing.T) {
	blob := []byte{0x00, 0x00}
	_, err := ExtractRTSPPort(blob)
	assert.Error(t, err)
}

func TestExtractRTSPPortLengthExceedsBlob(t *testing.T) {
	blob := []byte{0x00, 0x00, 0x10, 0x01, 0x02}
	_, err := ExtractRTSPPort(blob)
	assert.Error(t, err)
}

func TestExtractRTSPPortDeviceInfoTooShort(t *testing.T) {
	blob := []byte{0x00, 0x00, 0x02, 0x01, 0x02}
	_, err := ExtractRTSPPort(blob)
	assert.Error(t, err)
}

func TestBuildDeviceInfoSubelementLayout(t *testing.T) {
	blob := BuildDeviceInfoSubelement(0x1234, 7236, 999)
	require.Len(t, blob, subelementHeaderLen+deviceInfoPayloadLen)
	assert.Equal(t, byte(SubelementDeviceInfo), blob[0])
}
