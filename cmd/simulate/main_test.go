package main

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSimulateCommand(t *testing.T) {
	var out bytes.Buffer
	cmd := newCommand()
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs([]string{
		"--host", "127.0.0.1",
		"--workers", "2",
		"--msg-num", "6",
		"--mean-time", "2ms",
		"--spread", "0s",
		"--failure-rate", "0",
		"--N", "20ms",
		"--seed", "3",
		"--log-level", "error",
	})

	require.NoError(t, cmd.Execute())
	assert.Contains(t, out.String(), "sent: 6  failed: 0")
	assert.Contains(t, out.String(), "unsent: 0")
}

func TestSimulateCommandRejectsNoWorkers(t *testing.T) {
	cmd := newCommand()
	cmd.SetOut(io.Discard)
	cmd.SetErr(io.Discard)
	cmd.SetArgs([]string{"--workers", "0", "--log-level", "error"})
	assert.Error(t, cmd.Execute())
}
