package wfdproto

import (
	"fmt"

	wfderrors "github.com/alxayo/wfd-out-session/internal/errors"
)

// Standard identifies which of the three WFD resolution catalogues a
// (width,height) pair belongs to.
type Standard int

const (
	StandardCEA Standard = iota
	StandardVESA
	StandardHH
)

func (s Standard) String() string {
	switch s {
	case StandardCEA:
		return "CEA"
	case StandardVESA:
		return "VESA"
	case StandardHH:
		return "HH"
	default:
		return "UNKNOWN"
	}
}

type resolutionEntry struct {
	width, height int
	standard      Standard
	mask          uint32
}

// resolutionTable is the WFD 1.0 CEA/VESA/HH resolution catalogue, carried
// over from the Wi-Fi Display 1.0 specification as fixed compile-time
// data. Each entry carries its bit within its standard's 32-bit mask;
// 1920x1080 uses CEA bit 0, the same bit as 640x480. Lookup returns the
// first matching entry, so 1280x1024 resolves to its CEA entry.
var resolutionTable = []resolutionEntry{
	// CEA
	{640, 480, StandardCEA, 1 << 0},
	{720, 480, StandardCEA, 1 << 1},
	{720, 576, StandardCEA, 1 << 3},
	{1280, 720, StandardCEA, 1 << 5},
	{1920, 1080, StandardCEA, 1 << 0},
	{1280, 1024, StandardCEA, 1 << 13},
	// VESA
	{800, 600, StandardVESA, 1 << 0},
	{1024, 768, StandardVESA, 1 << 1},
	{1152, 864, StandardVESA, 1 << 2},
	{1280, 768, StandardVESA, 1 << 3},
	{1280, 800, StandardVESA, 1 << 4},
	{1360, 768, StandardVESA, 1 << 5},
	{1366, 768, StandardVESA, 1 << 6},
	{1280, 1024, StandardVESA, 1 << 7},
	{1400, 1050, StandardVESA, 1 << 8},
	{1440, 900, StandardVESA, 1 << 9},
	{1600, 900, StandardVESA, 1 << 10},
	{1600, 1200, StandardVESA, 1 << 11},
	{1920, 1200, StandardVESA, 1 << 12},
	// HH (handheld)
	{800, 480, StandardHH, 1 << 0},
	{854, 480, StandardHH, 1 << 1},
	{864, 480, StandardHH, 1 << 2},
	{960, 540, StandardHH, 1 << 3},
	{848, 480, StandardHH, 1 << 4},
}

// ResolveResolution maps (width,height) to (standard, 32-bit bitmask) per
// C3. Returns UNSUPPORTED_RESOLUTION if the pair is not in the table.
func ResolveResolution(width, height int) (Standard, uint32, error) {
	for _, e := range resolutionTable {
		if e.width == width && e.height == height {
			return e.standard, e.mask, nil
		}
	}
	return 0, 0, wfderrors.New(wfderrors.KindUnsupportedResolution, "ResolveResolution",
		fmt.Errorf("no WFD resolution entry for %dx%d", width, height))
}
