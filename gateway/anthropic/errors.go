package anthropic

import (
	"context"
	"errors"

	"github.com/anthropics/anthropic-sdk-go"

	"github.com/hupe1980/contextmesh/core"
)

// classify maps Anthropic SDK failures onto the engine's error taxonomy so
// the retry loop can distinguish transient from fatal failures.
func classify(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return core.NewTransientError("timeout", err)
	}

	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.StatusCode == 408:
			return core.NewTransientError("timeout", err)
		case apiErr.StatusCode == 429:
			return core.NewTransientError("rate_limit", err)
		case apiErr.StatusCode >= 500:
			return core.NewTransientError("server", err)
		}
	}

	return err
}
