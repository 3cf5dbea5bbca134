package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFloatsToPCM16Silence(t *testing.T) {
	out := floatsToPCM16([]float32{0, 0, 0})
	assert.Equal(t, []byte{0, 0, 0, 0, 0, 0}, out)
}

func TestFloatsToPCM16ClampsOutOfRange(t *testing.T) {
	out := floatsToPCM16([]float32{2.0, -2.0})
	checkSample := func(v int16, lo, hi byte) {
		assert.Equal(t, lo, byte(v))
		assert.Equal(t, hi, byte(v>>8))
	}
	checkSample(32767, out[0], out[1])
	checkSample(-32767, out[2], out[3])
}

func TestFloatsToPCM16Empty(t *testing.T) {
	out := floatsToPCM16(nil)
	assert.Empty(t, out)
}
