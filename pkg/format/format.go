// Package format provides human-readable formatting and parsing utilities.
package format

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// =============================================================================
// BYTE SIZES
// =============================================================================

// Binary size units.
const (
	KiB int64 = 1024
	MiB       = 1024 * KiB
	GiB       = 1024 * MiB
	TiB       = 1024 * GiB
)

var unitMultipliers = map[string]int64{
	"":    1,
	"b":   1,
	"k":   KiB,
	"kb":  KiB,
	"kib": KiB,
	"m":   MiB,
	"mb":  MiB,
	"mib": MiB,
	"g":   GiB,
	"gb":  GiB,
	"gib": GiB,
	"t":   TiB,
	"tb":  TiB,
	"tib": TiB,
}

var sizePattern = regexp.MustCompile(`(?i)^\s*([0-9]+(?:\.[0-9]+)?)\s*([a-z]*)\s*$`)

// ParseBytes parses a size such as "30MB", "1.5 GiB" or "4096".
// Units are binary; a bare number is a byte count.
func ParseBytes(s string) (int64, error) {
	matches := sizePattern.FindStringSubmatch(s)
	if matches == nil {
		return 0, fmt.Errorf("invalid byte size %q", s)
	}

	value, err := strconv.ParseFloat(matches[1], 64)
	if err != nil {
		return 0, fmt.Errorf("invalid byte size %q: %w", s, err)
	}

	multiplier, ok := unitMultipliers[strings.ToLower(matches[2])]
	if !ok {
		return 0, fmt.Errorf("unknown size unit %q", matches[2])
	}

	return int64(value * float64(multiplier)), nil
}

// Bytes formats a byte count into human-readable format.
// Example: Bytes(1536) => "1.5 KB"
func Bytes(bytes int64) string {
	if bytes < 0 {
		return "-" + Bytes(-bytes)
	}
	if bytes < KiB {
		return fmt.Sprintf("%d B", bytes)
	}

	div, exp := KiB, 0
	for n := bytes / KiB; n >= KiB && exp < 3; n /= KiB {
		div *= KiB
		exp++
	}

	sizes := []string{"KB", "MB", "GB", "TB"}
	return fmt.Sprintf("%.1f %s", float64(bytes)/float64(div), sizes[exp])
}

// =============================================================================
// NUMBERS AND RATES
// =============================================================================

var printer = message.NewPrinter(language.English)

// Number formats a number with thousand separators.
// Example: Number(1234567) => "1,234,567"
func Number(n int64) string {
	return printer.Sprintf("%d", n)
}

// Bitrate formats a bits-per-second value using decimal units.
// Example: Bitrate(1200000) => "1.2 Mbps"
func Bitrate(bps int64) string {
	switch {
	case bps >= 1_000_000_000:
		return printer.Sprintf("%.1f Gbps", float64(bps)/1_000_000_000)
	case bps >= 1_000_000:
		return printer.Sprintf("%.1f Mbps", float64(bps)/1_000_000)
	case bps >= 1_000:
		return printer.Sprintf("%.0f kbps", float64(bps)/1_000)
	default:
		return printer.Sprintf("%d bps", bps)
	}
}

// Micros formats a microsecond timestamp as a duration.
// Example: Micros(2500000) => "2.5s"
func Micros(us int64) string {
	return (time.Duration(us) * time.Microsecond).Round(time.Millisecond).String()
}
