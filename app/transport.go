package app

import (
	"net/http"

	"go.uber.org/fx"
	"go.uber.org/zap"
)

const userAgent = "fencewatch/1.0 (+https://github.com/fencewatch/fencewatch)"

// NewTransport is the HTTP transport shared by the scraper and the mail
// client. Outbound requests carry an identifying User-Agent unless the
// caller set one.
func NewTransport(lc fx.Lifecycle, log *zap.Logger) http.RoundTripper {
	return &transport{http.DefaultTransport, log}
}

type transport struct {
	base http.RoundTripper
	log  *zap.Logger
}

func (tpt *transport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Header.Get("User-Agent") == "" {
		req = req.Clone(req.Context())
		req.Header.Set("User-Agent", userAgent)
	}
	return tpt.base.RoundTrip(req)
}
