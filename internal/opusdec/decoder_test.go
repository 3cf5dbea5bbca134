package opusdec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewStateOK(t *testing.T) {
	s, err := NewState()
	require.NoError(t, err)
	require.NotNil(t, s)
}

func TestDecodeEmptyPacketIsDecodeError(t *testing.T) {
	s, err := NewState()
	require.NoError(t, err)

	_, err = s.Decode(nil)
	require.Error(t, err)
	var decErr *DecodeError
	require.ErrorAs(t, err, &decErr)
}

func TestDecodeBase64InvalidPayload(t *testing.T) {
	s, err := NewState()
	require.NoError(t, err)

	_, err = s.DecodeBase64("not valid base64!!")
	require.Error(t, err)
	var decErr *DecodeError
	require.ErrorAs(t, err, &decErr)
	assert.Contains(t, decErr.Reason, "base64")
}

func TestResetProducesUsableDecoder(t *testing.T) {
	s, err := NewState()
	require.NoError(t, err)
	require.NoError(t, s.Reset())

	_, err = s.Decode(nil)
	require.Error(t, err)
}
