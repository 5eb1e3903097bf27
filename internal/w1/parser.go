// Package w1 reads DS18B20 temperature sensors through the Linux w1 sysfs
// interface and validates their raw output.
package w1

import (
	"strconv"
	"strings"

	"github.com/jwulff/w1log/internal/domain"
)

// DS18B20 datasheet limits, in milli-degrees Celsius.
const (
	MinMillidegrees = -55000
	MaxMillidegrees = 125000

	// PowerOnResetMillidegrees is what the scratchpad holds before the
	// first conversion completes.
	PowerOnResetMillidegrees = 85000
)

const (
	crcOKMarker       = "YES"
	temperatureMarker = "t="
)

// Parse validates the contents of a w1_slave file, which looks like:
//
//	72 01 4b 46 7f ff 0e 10 57 : crc=57 YES
//	72 01 4b 46 7f ff 0e 10 57 t=23125
//
// ok is false when content is empty: the device could not be read and
// contributes nothing this cycle.
func Parse(id domain.Identity, content string) (reading domain.ValidatedReading, ok bool) {
	if strings.TrimSpace(content) == "" {
		return domain.ValidatedReading{Identity: id}, false
	}

	reading = domain.ValidatedReading{Identity: id}
	lines := strings.Split(content, "\n")

	if !strings.HasSuffix(strings.TrimSpace(lines[0]), crcOKMarker) {
		reading.Reason = domain.ReasonCRCError
		return reading, true
	}

	if len(lines) < 2 {
		reading.Reason = domain.ReasonParseError
		return reading, true
	}
	pos := strings.Index(lines[1], temperatureMarker)
	if pos == -1 {
		reading.Reason = domain.ReasonParseError
		return reading, true
	}
	raw, err := strconv.Atoi(strings.TrimSpace(lines[1][pos+len(temperatureMarker):]))
	if err != nil {
		reading.Reason = domain.ReasonParseError
		return reading, true
	}

	reading.Raw = raw
	reading.Reason = Classify(raw)
	if reading.Reason == domain.ReasonOK {
		reading.Value = domain.IntPtr(raw / 10)
	}
	return reading, true
}

// Classify applies the validity policy to a raw milli-degree value.
// The power-on-reset value is rejected even though a real 85 °C reading
// looks identical.
func Classify(raw int) domain.Reason {
	if raw == PowerOnResetMillidegrees {
		return domain.ReasonPowerOnResetSuspect
	}
	if raw < MinMillidegrees || raw > MaxMillidegrees {
		return domain.ReasonOutOfRange
	}
	return domain.ReasonOK
}
