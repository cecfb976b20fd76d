package executor

import (
	"bytes"
	"context"
	"os/exec"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunCapturesOutput(t *testing.T) {
	var out bytes.Buffer
	cmd := exec.Command("/bin/sh", "-c", "echo hello; echo oops >&2")
	cmd.Stdout = &out
	cmd.Stderr = &out
	require.NoError(t, New(context.Background()).Run(cmd))
	assert.Contains(t, out.String(), "hello\n")
	assert.Contains(t, out.String(), "oops\n")
}

func TestRunExitCode(t *testing.T) {
	err := New(context.Background()).Run(exec.Command("/bin/sh", "-c", "exit 3"))
	require.Error(t, err)
	assert.Equal(t, 3, ExitCode(err))
	assert.Equal(t, 0, ExitCode(nil))
}

func TestRunCancelKillsGroup(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	start := time.Now()
	err := New(ctx).Run(exec.Command("/bin/sh", "-c", "sleep 10 & sleep 10"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "command aborted")
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestOutput(t *testing.T) {
	e := New(context.Background())
	out, err := e.Output("printf '%s' abc")
	require.NoError(t, err)
	assert.Equal(t, "abc", out)

	out, err = e.Output("echo partial; exit 1")
	require.NoError(t, err)
	assert.Equal(t, "partial\n", out)
}

func TestIdlePriority(t *testing.T) {
	if _, err := exec.LookPath("nice"); err != nil {
		t.Skip("nice not available")
	}
	var out bytes.Buffer
	e := New(context.Background())
	e.ApplyIdlePriority = true
	cmd := exec.Command("/bin/sh", "-c", "nice")
	cmd.Stdout = &out
	require.NoError(t, e.Run(cmd))
	assert.Equal(t, "19\n", out.String())
}
