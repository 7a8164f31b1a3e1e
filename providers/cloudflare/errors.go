package cloudflare

import (
	"errors"
	"fmt"
	"net/http"

	cf "github.com/cloudflare/cloudflare-go"

	"gitlab.bluewillows.net/root/trafego/pkg/provider"
)

// wrap maps a Cloudflare SDK error onto the provider error taxonomy and
// annotates it with the instance and operation.
func (a *Adapter) wrap(operation string, err error) error {
	return provider.WrapError(a.id, operation, classify(err))
}

func classify(err error) error {
	if err == nil {
		return nil
	}

	var notFound *cf.NotFoundError
	if errors.As(err, &notFound) {
		return fmt.Errorf("%v: %w", err, provider.ErrNotFound)
	}
	var rateLimited *cf.RatelimitError
	if errors.As(err, &rateLimited) {
		return fmt.Errorf("%v: %w", err, provider.ErrRateLimited)
	}
	var authentication *cf.AuthenticationError
	if errors.As(err, &authentication) {
		return fmt.Errorf("%v: %w", err, provider.ErrUnauthorized)
	}
	var authorization *cf.AuthorizationError
	if errors.As(err, &authorization) {
		return fmt.Errorf("%v: %w", err, provider.ErrUnauthorized)
	}
	var service *cf.ServiceError
	if errors.As(err, &service) {
		return fmt.Errorf("%v: %w", err, provider.ErrUnreachable)
	}

	var apiErr *cf.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.StatusCode == http.StatusNotFound:
			return fmt.Errorf("%v: %w", err, provider.ErrNotFound)
		case apiErr.StatusCode == http.StatusConflict:
			return fmt.Errorf("%v: %w", err, provider.ErrConflict)
		case apiErr.StatusCode == http.StatusUnauthorized || apiErr.StatusCode == http.StatusForbidden:
			return fmt.Errorf("%v: %w", err, provider.ErrUnauthorized)
		case apiErr.StatusCode == http.StatusTooManyRequests:
			return fmt.Errorf("%v: %w", err, provider.ErrRateLimited)
		case apiErr.StatusCode >= 500:
			return fmt.Errorf("%v: %w", err, provider.ErrUnreachable)
		}
		// Cloudflare reports "identical record already exists" as a 400
		// with error code 81058.
		for _, code := range apiErr.ErrorCodes {
			if code == 81058 {
				return fmt.Errorf("%v: %w", err, provider.ErrConflict)
			}
		}
		return err
	}

	// Transport-level failures (DNS, TLS, timeouts) never reached the API.
	return fmt.Errorf("%v: %w", err, provider.ErrUnreachable)
}
