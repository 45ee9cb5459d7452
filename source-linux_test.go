//go:build linux

package iwldvm

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDevSourceReadsCapture(t *testing.T) {
	first := EncodePacket(CardStateNotification, 1, []byte{1, 0, 0, 0})
	second := EncodePacket(BeaconNotification, 2, make([]byte, beaconNotifBytes))
	path := filepath.Join(t.TempDir(), "capture.bin")
	require.NoError(t, os.WriteFile(path, append(append([]byte(nil), first...), second...), 0o600))

	src, err := OpenDevSource(path)
	require.NoError(t, err)
	defer src.Close()

	got, err := src.Receive()
	require.NoError(t, err)
	assert.Equal(t, first, got)

	got, err = src.Receive()
	require.NoError(t, err)
	assert.Equal(t, second, got)

	got, err = src.Receive()
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestDevSourceTruncatedFrame(t *testing.T) {
	raw := EncodePacket(CardStateNotification, 1, []byte{1, 0, 0, 0})
	path := filepath.Join(t.TempDir(), "short.bin")
	require.NoError(t, os.WriteFile(path, raw[:6], 0o600))

	src, err := OpenDevSource(path)
	require.NoError(t, err)
	defer src.Close()

	_, err = src.Receive()
	assert.ErrorIs(t, err, ErrMalformed)

	// The record boundary is lost, so the source stays failed.
	got, again := src.Receive()
	assert.Nil(t, got)
	assert.Equal(t, err, again)
}

func TestDevSourceTruncatedHeader(t *testing.T) {
	raw := EncodePacket(CardStateNotification, 1, []byte{1, 0, 0, 0})
	path := filepath.Join(t.TempDir(), "header.bin")
	require.NoError(t, os.WriteFile(path, append(append([]byte(nil), raw...), raw[:2]...), 0o600))

	src, err := OpenDevSource(path)
	require.NoError(t, err)
	defer src.Close()

	got, err := src.Receive()
	require.NoError(t, err)
	assert.Equal(t, raw, got)

	_, err = src.Receive()
	assert.ErrorIs(t, err, ErrMalformed)
	_, err = src.Receive()
	assert.ErrorIs(t, err, ErrMalformed)
}
