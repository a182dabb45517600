package agentbus

import (
	"errors"
	"testing"

	"github.com/godbus/dbus/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestConnectionError(t *testing.T) {
	inner := errors.New("name has no owner")
	err := &ConnectionError{Op: "introspection", Err: inner}

	assert.Contains(t, err.Error(), "introspection")
	assert.Contains(t, err.Error(), "name has no owner")
	assert.ErrorIs(t, err, inner)
}

func TestVariantToInt32(t *testing.T) {
	tests := []struct {
		name string
		in   dbus.Variant
		want int32
	}{
		{"int32", dbus.MakeVariant(int32(1)), 1},
		{"uint32", dbus.MakeVariant(uint32(1)), 1},
		{"int64", dbus.MakeVariant(int64(1)), 1},
		{"int16", dbus.MakeVariant(int16(1)), 1},
		{"byte", dbus.MakeVariant(byte(1)), 1},
		{"string falls back to zero", dbus.MakeVariant("1"), 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, variantToInt32(tt.in))
		})
	}
}

// TestForwardChange_NeverBlocks: the signal dispatch loop must not stall on a
// slow consumer; overflow drops instead.
func TestForwardChange_NeverBlocks(t *testing.T) {
	c := NewDBusAgentClient(zerolog.Nop())

	for i := 0; i < 100; i++ {
		c.forwardChange("payload")
	}

	// the buffered portion is retained in order
	assert.Len(t, c.changes, cap(c.changes))
	change := <-c.Changes()
	assert.Equal(t, "payload", change.Payload)
}
