package modelclient

import (
	"context"
	"errors"
	"net"
	"strings"

	"github.com/fable-labs/fableflow/core"
)

// classify maps a provider failure onto the engine's ModelError taxonomy.
// Iris surfaces provider errors as wrapped transport/status errors without a
// stable type, so classification is by error shape first and status text
// second. Anything unrecognized is treated as a transport failure, which the
// retry policy considers transient.
func classify(err error) error {
	var merr *core.ModelError
	if errors.As(err, &merr) {
		return err
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return core.NewModelError(core.ModelErrTimeout, "model call timed out", err)
	}
	if errors.Is(err, context.Canceled) {
		return err
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return core.NewModelError(core.ModelErrTimeout, "network timeout", err)
	}

	msg := strings.ToLower(err.Error())
	switch {
	case containsAny(msg, "401", "403", "unauthorized", "invalid api key", "authentication"):
		return core.NewModelError(core.ModelErrUnauthorized, "provider rejected credentials", err)
	case containsAny(msg, "429", "rate limit", "too many requests", "quota"):
		return core.NewModelError(core.ModelErrRateLimited, "provider rate limited the request", err)
	case containsAny(msg, "unmarshal", "unexpected end of json", "decode", "malformed"):
		return core.NewModelError(core.ModelErrMalformedResponse, "provider response could not be parsed", err)
	default:
		return core.NewModelError(core.ModelErrTransport, "provider call failed", err)
	}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
