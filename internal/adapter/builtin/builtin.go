// Package builtin provides the capability implementations shipped with
// toolgate. Tool definitions reference them by ImplementationRef.
package builtin

import (
	"fmt"
	"net/http"
	"time"

	"github.com/Strob0t/toolgate/internal/port/messagequeue"
	"github.com/Strob0t/toolgate/internal/port/plugin"
)

// Implementation refs.
const (
	RefNATSPublish = "nats.publish"
	RefHTTPWebhook = "http.webhook"
)

// Deps are the collaborators the builtin capabilities need. A nil Queue
// leaves nats.publish unregistered.
type Deps struct {
	Queue          messagequeue.Queue
	HTTPClient     *http.Client
	WebhookTimeout time.Duration
}

// Register adds every builtin capability whose dependencies are present.
func Register(reg *plugin.Registry, deps Deps) error {
	if deps.Queue != nil {
		if err := reg.Register(RefNATSPublish, NewPublisher(deps.Queue)); err != nil {
			return fmt.Errorf("register %s: %w", RefNATSPublish, err)
		}
	}
	if err := reg.Register(RefHTTPWebhook, NewWebhook(deps.HTTPClient, deps.WebhookTimeout)); err != nil {
		return fmt.Errorf("register %s: %w", RefHTTPWebhook, err)
	}
	return nil
}
