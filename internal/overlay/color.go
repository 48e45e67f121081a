package overlay

import (
	"fmt"
	"image/color"
	"strconv"
	"strings"
)

// HexColor converts 0xRRGGBB to an opaque color
func HexColor(hex int) color.NRGBA {
	return color.NRGBA{
		R: uint8((hex >> 16) & 0xff),
		G: uint8((hex >> 8) & 0xff),
		B: uint8(hex & 0xff),
		A: 0xff,
	}
}

// ParseHexColor parses "RRGGBB" with an optional "#" or "0x" prefix
func ParseHexColor(s string) (color.NRGBA, error) {
	trimmed := strings.TrimPrefix(strings.TrimPrefix(strings.ToLower(strings.TrimSpace(s)), "#"), "0x")
	if len(trimmed) != 6 {
		return color.NRGBA{}, fmt.Errorf("invalid hex color %q", s)
	}
	value, err := strconv.ParseUint(trimmed, 16, 32)
	if err != nil {
		return color.NRGBA{}, fmt.Errorf("invalid hex color %q: %w", s, err)
	}
	return HexColor(int(value)), nil
}

// Stability is how settled a live recognition result is, from least to most
type Stability int

const (
	NotReady Stability = iota
	Tentative
	Verified
	Available
	TentativelyStable
	Stable
)

var stabilityNames = []string{"not_ready", "tentative", "verified", "available", "tentatively_stable", "stable"}

func (s Stability) String() string {
	if s < NotReady || s > Stable {
		return "Stability(" + strconv.Itoa(int(s)) + ")"
	}
	return stabilityNames[s]
}

// ParseStability accepts a stability name or its number
func ParseStability(s string) (Stability, error) {
	for i, name := range stabilityNames {
		if s == name {
			return Stability(i), nil
		}
	}
	if n, err := strconv.Atoi(s); err == nil && n >= int(NotReady) && n <= int(Stable) {
		return Stability(n), nil
	}
	return NotReady, fmt.Errorf("unknown stability %q", s)
}

// StabilityColor shades from orange to green as a result settles
func StabilityColor(s Stability) color.NRGBA {
	switch s {
	case Verified:
		return HexColor(0xC96500)
	case Available:
		return HexColor(0x886500)
	case TentativelyStable:
		return HexColor(0x4B6500)
	case Stable:
		return HexColor(0x006500)
	default:
		return HexColor(0xFF6500)
	}
}

// StabilityProgress maps a stability onto the 0-100 progress scale
func StabilityProgress(s Stability) int {
	return clamp(int(s)*100/int(Stable), 0, 100)
}
