package main

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseCommand(t *testing.T) {
	cmd, steps, err := parseCommand([]string{"up"})
	require.NoError(t, err)
	require.Equal(t, "up", cmd)
	require.Zero(t, steps)

	cmd, steps, err = parseCommand([]string{"down"})
	require.NoError(t, err)
	require.Equal(t, "down", cmd)
	require.Equal(t, 1, steps)

	_, steps, err = parseCommand([]string{"down", "3"})
	require.NoError(t, err)
	require.Equal(t, 3, steps)

	for _, bad := range [][]string{nil, {"sideways"}, {"down", "x"}, {"down", "0"}} {
		_, _, err := parseCommand(bad)
		require.Error(t, err, "%v", bad)
	}
}

func TestRunRequiresDSN(t *testing.T) {
	t.Setenv(dsnEnv, "")
	err := run([]string{"up"})
	require.ErrorContains(t, err, "-database")
}
