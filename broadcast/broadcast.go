// Package broadcast keeps a live video broadcast in step with a camera relay.
package broadcast

import "context"

// Broadcaster opens and closes the public side of a relay.
type Broadcaster interface {
	// Start makes the camera's broadcast live and returns a watch link.
	Start(ctx context.Context, camera string) (string, error)
	// Stop ends the camera's broadcast if one is open.
	Stop(ctx context.Context, camera string) error
}

// Noop is used when broadcasting is disabled.
type Noop struct{}

// Start returns an empty link.
func (Noop) Start(context.Context, string) (string, error) { return "", nil }

// Stop does nothing.
func (Noop) Stop(context.Context, string) error { return nil }
