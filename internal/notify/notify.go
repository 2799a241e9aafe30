// Package notify shows short desktop notifications on mode changes and
// fatal errors. On Linux they go to org.freedesktop.Notifications over the
// session bus; elsewhere they are written to the log.
package notify

import (
	"log/slog"
	"sync"
)

// Notifier shows a message to the user.
type Notifier interface {
	Notify(title, body string) error
}

// Nop discards notifications.
type Nop struct{}

func (Nop) Notify(string, string) error { return nil }

// Log writes notifications to a logger.
type Log struct {
	Logger *slog.Logger
}

func (l Log) Notify(title, body string) error {
	log := l.Logger
	if log == nil {
		log = slog.Default()
	}
	log.Info("notification", "title", title, "body", body)
	return nil
}

// New returns the platform notifier, or Nop when disabled. If the desktop
// service is unreachable it falls back to Log.
func New(enabled bool, log *slog.Logger) Notifier {
	if !enabled {
		return Nop{}
	}
	n, err := newDesktop()
	if err != nil {
		if log != nil {
			log.Debug("desktop notifications unavailable", "error", err)
		}
		return Log{Logger: log}
	}
	return n
}

// Recorder keeps notifications in memory.
type Recorder struct {
	mu       sync.Mutex
	Messages []Message
}

// Message is one recorded notification.
type Message struct {
	Title string
	Body  string
}

func (r *Recorder) Notify(title, body string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Messages = append(r.Messages, Message{Title: title, Body: body})
	return nil
}

// Last returns the most recent notification.
func (r *Recorder) Last() (Message, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.Messages) == 0 {
		return Message{}, false
	}
	return r.Messages[len(r.Messages)-1], true
}
