// Package notify delivers "pipeline started" events to people and systems.
package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Event describes one pipeline start for a camera.
type Event struct {
	ID      string    `json:"id"`
	Camera  string    `json:"camera"`
	Message string    `json:"message"`
	Link    string    `json:"link,omitempty"`
	Labels  []string  `json:"labels"`
	Time    time.Time `json:"time"`
}

// Text renders the human-readable alert line.
func (e Event) Text() string {
	return fmt.Sprintf("%s [%s](%s) Detected: %s!",
		e.Message, e.Time.Format(time.DateTime), e.Link, strings.Join(e.Labels, ", "))
}

// Notifier delivers an event.
type Notifier interface {
	Notify(ctx context.Context, e Event) error
}

// Multi fans an event out to every notifier and joins their errors.
type Multi []Notifier

// Notify delivers to all notifiers even when some fail.
func (m Multi) Notify(ctx context.Context, e Event) error {
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Nop discards events.
type Nop struct{}

// Notify does nothing.
func (Nop) Notify(context.Context, Event) error { return nil }
