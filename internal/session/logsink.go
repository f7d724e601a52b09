package session

import (
	"bufio"
	"os"
)

// logSink is an append-only, line-buffered text sink for one session's
// sanitized output, opened fresh per session and closed on stop.
type logSink struct {
	f *os.File
	w *bufio.Writer
}

func newLogSink(path string) (*logSink, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, err
	}
	return &logSink{f: f, w: bufio.NewWriter(f)}, nil
}

func (s *logSink) writeLine(line string) {
	_, _ = s.w.WriteString(line)
	_ = s.w.WriteByte('\n')
	_ = s.w.Flush()
}

func (s *logSink) Close() error {
	_ = s.w.Flush()
	return s.f.Close()
}
