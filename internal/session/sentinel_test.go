package session

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewSentinelUniqueAndPrefixed(t *testing.T) {
	a := newSentinel()
	b := newSentinel()
	assert.True(t, strings.HasPrefix(a, sentinelPrefix))
	assert.NotEqual(t, a, b)
	assert.Len(t, a, len(sentinelPrefix)+8)
}

func TestFindSentinelLineSkipsEcho(t *testing.T) {
	sentinel := "__PTY_DONE_deadbeef"
	sentinelCmd := "echo " + sentinel
	lines := []string{
		"hello",
		sentinelCmd, // the command echo, must be skipped
		sentinel,    // the real output
	}
	idx := findSentinelLine(lines, sentinel, strings.TrimSpace(sentinelCmd))
	assert.Equal(t, 2, idx)
}

func TestFindSentinelLineNotFound(t *testing.T) {
	idx := findSentinelLine([]string{"a", "b"}, "__PTY_DONE_x", "echo __PTY_DONE_x")
	assert.Equal(t, -1, idx)
}

func TestFilterEchoesDropsCommandAndSentinelEchoes(t *testing.T) {
	cmd := "echo hello"
	sentinelCmd := "echo __PTY_DONE_abc"
	lines := []string{
		"$ echo hello",
		"hello",
		"$ echo __PTY_DONE_abc",
	}
	got := filterEchoes(lines, cmd, sentinelCmd)
	assert.Equal(t, []string{"hello"}, got)
}

func TestFilterEchoesKeepsGenuineOutput(t *testing.T) {
	lines := []string{"output line one", "output line two"}
	got := filterEchoes(lines, "mycommand", "echo __PTY_DONE_x")
	assert.Equal(t, lines, got)
}

// TestSentinelAmbiguityWithDefaultTemplate covers the case the default
// sentinel template echoes the sentinel literal itself, so the command
// echo must not be mistaken for the real sentinel output.
func TestSentinelAmbiguityWithDefaultTemplate(t *testing.T) {
	sentinel := newSentinel()
	sentinelCmd := strings.ReplaceAll("echo {sentinel}", "{sentinel}", sentinel)
	lines := []string{sentinelCmd, sentinel}
	idx := findSentinelLine(lines, sentinel, strings.TrimSpace(sentinelCmd))
	assert.Equal(t, 1, idx)
}
