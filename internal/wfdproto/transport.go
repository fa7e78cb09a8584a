package wfdproto

import (
	"fmt"
	"strconv"
	"strings"

	wfderrors "github.com/alxayo/wfd-out-session/internal/errors"
)

// parseClientPort extracts the client_port value from an inbound SETUP
// Transport header, e.g. "RTP/AVP/UDP;unicast;client_port=19000". WFD
// source-side SETUP only ever sees a single UDP port (no RTCP companion
// port range), so a bare "client_port=N" or "client_port=N-M" (taking N)
// both parse.
func parseClientPort(transport string) (uint16, error) {
	for _, field := range strings.Split(transport, ";") {
		field = strings.TrimSpace(field)
		if !strings.HasPrefix(field, "client_port=") {
			continue
		}
		val := strings.TrimPrefix(field, "client_port=")
		val = strings.SplitN(val, "-", 2)[0]
		port, err := strconv.ParseUint(val, 10, 16)
		if err != nil {
			return 0, wfderrors.New(wfderrors.KindProtocolError, "parseClientPort",
				fmt.Errorf("invalid client_port in Transport header %q", transport))
		}
		return uint16(port), nil
	}
	return 0, wfderrors.New(wfderrors.KindProtocolError, "parseClientPort",
		fmt.Errorf("Transport header missing client_port: %q", transport))
}
