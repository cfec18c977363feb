// Package broadcast defines the port for pushing real-time events to
// connected clients.
package broadcast

import "context"

// Broadcaster sends real-time events to the clients of the tenant carried
// by ctx.
type Broadcaster interface {
	BroadcastEvent(ctx context.Context, eventType string, payload any)
}
