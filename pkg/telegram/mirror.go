package telegram

import (
	"strings"

	"github.com/rs/zerolog"
)

// Mirror is a zerolog writer that queues entries at or above a level to be
// sent to the control chat. Entries are dropped when the queue is full so
// logging never blocks.
type Mirror struct {
	level    zerolog.Level
	console  zerolog.ConsoleWriter
	messages chan string
}

var _ zerolog.LevelWriter = (*Mirror)(nil)

func NewMirror(level zerolog.Level, size int) *Mirror {
	m := &Mirror{
		level:    level,
		messages: make(chan string, size),
	}
	m.console = zerolog.ConsoleWriter{
		Out:        writerFunc(func(p []byte) { m.push(strings.TrimSpace(string(p))) }),
		NoColor:    true,
		TimeFormat: "15:04:05",
	}
	return m
}

func (m *Mirror) Write(p []byte) (int, error) {
	return m.console.Write(p)
}

func (m *Mirror) WriteLevel(l zerolog.Level, p []byte) (int, error) {
	if l < m.level {
		return len(p), nil
	}
	return m.console.Write(p)
}

func (m *Mirror) push(msg string) {
	if msg == "" {
		return
	}
	select {
	case m.messages <- msg:
	default:
	}
}

type writerFunc func(p []byte)

func (f writerFunc) Write(p []byte) (int, error) {
	f(p)
	return len(p), nil
}
