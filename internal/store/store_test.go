package store

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenMissingFileStartsAtZeroValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "state.json")
	s, err := Open(path, "0")
	require.NoError(t, err)

	n, err := s.GetRebootCounter()
	require.NoError(t, err)
	assert.Zero(t, n)

	on, err := s.SanityMode()
	require.NoError(t, err)
	assert.False(t, on)
}

func TestSetThenReopenPersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")

	s, err := Open(path, "0")
	require.NoError(t, err)
	require.NoError(t, s.SetRebootCounter(3))
	require.NoError(t, s.SetSanityMode(true))

	reopened, err := Open(path, "0")
	require.NoError(t, err)

	n, err := reopened.GetRebootCounter()
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	on, err := reopened.SanityMode()
	require.NoError(t, err)
	assert.True(t, on)
}

func TestInstanceIDsAreNamespaced(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")

	s, err := Open(path, "0")
	require.NoError(t, err)
	require.NoError(t, s.SetRebootCounter(5))

	other, err := Open(path, "1")
	require.NoError(t, err)
	n, err := other.GetRebootCounter()
	require.NoError(t, err)
	assert.Zero(t, n, "a different instance id must not see instance 0's counter")

	require.NoError(t, other.SetRebootCounter(9))

	reopenedZero, err := Open(path, "0")
	require.NoError(t, err)
	n, err = reopenedZero.GetRebootCounter()
	require.NoError(t, err)
	assert.Equal(t, 5, n, "instance 0's counter must survive instance 1 writing its own")
}
