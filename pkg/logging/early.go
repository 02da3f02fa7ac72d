package logging

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"
)

// EarlyLog reports config and logger construction failures before zap is
// available. Lines use the same keys as the zap JSON encoder so log
// collectors parse them alike.
type EarlyLog struct {
	out io.Writer
}

func NewEarlyLog() *EarlyLog {
	return &EarlyLog{out: os.Stderr}
}

func (l *EarlyLog) Error(msg string, args ...interface{}) {
	l.write("error", msg, args)
}

func (l *EarlyLog) Warn(msg string, args ...interface{}) {
	l.write("warn", msg, args)
}

func (l *EarlyLog) Info(msg string, args ...interface{}) {
	l.write("info", msg, args)
}

func (l *EarlyLog) write(level, msg string, args []interface{}) {
	line, err := json.Marshal(map[string]string{
		"level":     level,
		"timestamp": time.Now().UTC().Format("2006-01-02T15:04:05.000Z0700"),
		"message":   fmt.Sprintf(msg, args...),
	})
	if err != nil {
		fmt.Fprintf(l.out, "%s: %s\n", level, fmt.Sprintf(msg, args...))
		return
	}
	fmt.Fprintln(l.out, string(line))
}
