package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidatedReadingOK(t *testing.T) {
	tests := []struct {
		name     string
		reading  ValidatedReading
		expected bool
	}{
		{"ok with value", ValidatedReading{Reason: ReasonOK, Value: IntPtr(2350)}, true},
		{"ok without value", ValidatedReading{Reason: ReasonOK}, false},
		{"crc error", ValidatedReading{Reason: ReasonCRCError}, false},
		{"out of range", ValidatedReading{Reason: ReasonOutOfRange}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.reading.OK())
		})
	}
}

func TestIntPtr(t *testing.T) {
	p := IntPtr(-5500)
	assert.Equal(t, -5500, *p)
}
