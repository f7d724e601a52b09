package session

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func shellConfig(t *testing.T) Config {
	t.Helper()
	return Config{
		Command:     "/bin/sh",
		Args:        []string{},
		Cwd:         "/tmp",
		IdleTimeout: time.Minute,
		BufferSize:  1000,
	}
}

func TestSessionRunCommandEchoesHello(t *testing.T) {
	s := New("test0001hello", shellConfig(t), "", nil)
	require.NoError(t, s.Start())
	defer s.Stop()

	out, completed, err := s.RunCommand("echo hello", 5*time.Second)
	require.NoError(t, err)
	assert.True(t, completed)
	assert.Contains(t, out, "hello")
}

func TestSessionRunCommandStripsColor(t *testing.T) {
	s := New("test0002color", shellConfig(t), "", nil)
	require.NoError(t, s.Start())
	defer s.Stop()

	out, completed, err := s.RunCommand(`printf '\033[31mred\033[0m\n'`, 5*time.Second)
	require.NoError(t, err)
	assert.True(t, completed)
	assert.NotContains(t, out, "\x1b")
	assert.Contains(t, out, "red")
}

func TestSessionRunCommandTimeout(t *testing.T) {
	s := New("test0003sleep", shellConfig(t), "", nil)
	require.NoError(t, s.Start())
	defer s.Stop()

	_, completed, err := s.RunCommand("sleep 5", 200*time.Millisecond)
	require.NoError(t, err)
	assert.False(t, completed)
}

func TestSessionRunCommandBusyOnOverlap(t *testing.T) {
	s := New("test0004busy", shellConfig(t), "", nil)
	require.NoError(t, s.Start())
	defer s.Stop()

	s.runLock <- struct{}{}
	defer func() { <-s.runLock }()

	_, _, err := s.RunCommand("echo hi", time.Second)
	require.Error(t, err)
}

func TestSessionSendKeysAndGetBuffer(t *testing.T) {
	s := New("test0005keys", shellConfig(t), "", nil)
	require.NoError(t, s.Start())
	defer s.Stop()

	require.NoError(t, s.SendKeys([]byte("echo from-keys\n")))
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if strings.Contains(s.GetBuffer(nil), "from-keys") {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	assert.Contains(t, s.GetBuffer(nil), "from-keys")
}

func TestSessionStopIsIdempotent(t *testing.T) {
	s := New("test0006stop", shellConfig(t), "", nil)
	require.NoError(t, s.Start())

	require.NoError(t, s.Stop())
	require.NoError(t, s.Stop())
	assert.False(t, s.IsAlive())
}

func TestSessionSetSentinelRejectsMissingPlaceholder(t *testing.T) {
	s := New("test0007sntl", shellConfig(t), "", nil)
	require.NoError(t, s.Start())
	defer s.Stop()

	err := s.SetSentinel("no placeholder here")
	require.Error(t, err)
}

func TestSessionSetSentinelSwitchesTemplate(t *testing.T) {
	s := New("test0008sntl", shellConfig(t), "", nil)
	require.NoError(t, s.Start())
	defer s.Stop()

	require.NoError(t, s.SetSentinel("echo MARK_{sentinel}"))
	out, completed, err := s.RunCommand("echo after-switch", 5*time.Second)
	require.NoError(t, err)
	assert.True(t, completed)
	assert.Contains(t, out, "after-switch")
}

func TestSessionIsAliveFalseAfterStop(t *testing.T) {
	s := New("test0009live", shellConfig(t), "", nil)
	require.NoError(t, s.Start())
	assert.True(t, s.IsAlive())
	require.NoError(t, s.Stop())
	assert.False(t, s.IsAlive())
}
