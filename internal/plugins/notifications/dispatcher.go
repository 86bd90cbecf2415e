package notifications

import (
	"context"
	"fmt"
)

// Sender delivers a payload to a user's target through the backend the
// target selects.
type Sender interface {
	Send(ctx context.Context, target Target, payload Payload) error
}

// pushBackend and relayBackend are the two delivery mechanisms.
type pushBackend interface {
	Send(ctx context.Context, sub *PushSubscription, payload Payload) error
}

type relayBackend interface {
	Send(ctx context.Context, encryptedURL, iv string, payload Payload) error
}

// Dispatcher routes payloads to the push or relay backend.
type Dispatcher struct {
	push  pushBackend
	relay relayBackend
}

// NewDispatcher creates a dispatcher over the two backends.
func NewDispatcher(push *PushSender, relay *RelaySender) *Dispatcher {
	return &Dispatcher{push: push, relay: relay}
}

// Send implements Sender. It returns ErrMissingTarget when the selected
// backend has no target, ErrSubscriptionExpired when the push service
// dropped the subscription, and ErrInvalidRelayConfig when the relay URL
// cannot be opened.
func (d *Dispatcher) Send(ctx context.Context, target Target, payload Payload) error {
	switch target.Service {
	case ServicePush:
		if target.Subscription == nil {
			return ErrMissingTarget
		}
		return d.push.Send(ctx, target.Subscription, payload)
	case ServiceRelay:
		if !target.HasRelay() {
			return ErrMissingTarget
		}
		return d.relay.Send(ctx, target.RelayURLEncrypted, target.RelayIV, payload)
	default:
		return fmt.Errorf("unknown reminder service %q", target.Service)
	}
}
