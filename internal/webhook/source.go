package webhook

import (
	"context"
	"errors"

	"github.com/zapgate/go-whatsapp-browser-gateway/pkg/session"
)

// InstanceSource resolves webhook targets from the instance store. A missing
// instance yields no target rather than an error, since events can outlive
// a just-deleted instance.
type InstanceSource struct {
	Store *session.PgStore
}

func (s InstanceSource) WebhookTarget(ctx context.Context, instanceID string) (*Target, error) {
	inst, err := s.Store.Instance(ctx, instanceID)
	if errors.Is(err, session.ErrInstanceNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &Target{
		URL:    inst.WebhookURL,
		Secret: inst.WebhookSecret,
		Events: inst.WebhookEvents,
	}, nil
}
