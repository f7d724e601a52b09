package session

import (
	"crypto/rand"
	"encoding/hex"
	"strings"
)

const sentinelPrefix = "__PTY_DONE_"

// newSentinel returns a unique sentinel token: the literal prefix followed
// by 8 random hex characters.
func newSentinel() string {
	buf := make([]byte, 4)
	_, _ = rand.Read(buf)
	return sentinelPrefix + hex.EncodeToString(buf)
}

// findSentinelLine scans lines for the first line whose stripped form
// contains the sentinel but is not itself the command echo (equal to, or
// ending with, the stripped sentinelCmd). It returns the index of that
// line, or -1 if not found.
func findSentinelLine(lines []string, sentinel, sentinelCmdStripped string) int {
	for i, line := range lines {
		if !strings.Contains(line, sentinel) {
			continue
		}
		stripped := strings.TrimSpace(line)
		if stripped == sentinelCmdStripped || strings.HasSuffix(stripped, sentinelCmdStripped) {
			continue
		}
		return i
	}
	return -1
}

// filterEchoes drops lines that are just the issued command or sentinel
// command being echoed back by the shell/REPL, retaining genuine output.
func filterEchoes(lines []string, cmd, sentinelCmd string) []string {
	cmdStripped := strings.TrimSpace(cmd)
	sentinelCmdStripped := strings.TrimSpace(sentinelCmd)

	out := make([]string, 0, len(lines))
	for _, line := range lines {
		stripped := strings.TrimSpace(line)
		switch {
		case stripped == cmdStripped, stripped == sentinelCmdStripped:
			continue
		case strings.HasSuffix(stripped, cmdStripped) && cmdStripped != "":
			continue
		case strings.HasSuffix(stripped, sentinelCmdStripped) && sentinelCmdStripped != "":
			continue
		}
		out = append(out, line)
	}
	return out
}
