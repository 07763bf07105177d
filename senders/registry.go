package senders

import (
	"context"
	"fmt"
	"net/http"

	"github.com/fencewatch/fencewatch/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Sender delivers a fully-formed message to a list of recipients and
// returns the transport-assigned message ID. Senders never retry;
// retry policy, if any, belongs to the caller.
type Sender interface {
	Send(ctx context.Context, subject, body string, recipients ...string) (string, error)
}

type Registry map[string]Sender

func NewSenderRegistry(lc fx.Lifecycle, log *zap.Logger, cfg *config.Config, transport http.RoundTripper) Registry {
	base := base{log, cfg, transport}
	return map[string]Sender{
		"email": &mailgunSender{base},
	}
}

type base struct {
	log       *zap.Logger
	cfg       *config.Config
	transport http.RoundTripper
}

// DeliveryError wraps a transport-level failure (auth, network,
// rejected recipient) with the transport's diagnostic message.
type DeliveryError struct {
	Platform string
	Err      error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("delivery via %s failed: %v", e.Platform, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }
