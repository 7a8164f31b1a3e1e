package route53

import (
	"errors"
	"fmt"
	"strings"

	r53types "github.com/aws/aws-sdk-go-v2/service/route53/types"
	"github.com/aws/smithy-go"

	"gitlab.bluewillows.net/root/trafego/pkg/provider"
)

// wrap maps an AWS SDK error onto the provider error taxonomy and
// annotates it with the instance and operation.
func (a *Adapter) wrap(operation string, err error) error {
	return provider.WrapError(a.id, operation, classify(err))
}

func classify(err error) error {
	if err == nil {
		return nil
	}

	var noZone *r53types.NoSuchHostedZone
	if errors.As(err, &noZone) {
		return fmt.Errorf("%v: %w", err, provider.ErrZoneNotFound)
	}
	var throttled *r53types.ThrottlingException
	if errors.As(err, &throttled) {
		return fmt.Errorf("%v: %w", err, provider.ErrRateLimited)
	}
	var priorPending *r53types.PriorRequestNotComplete
	if errors.As(err, &priorPending) {
		return fmt.Errorf("%v: %w", err, provider.ErrRateLimited)
	}
	var badBatch *r53types.InvalidChangeBatch
	if errors.As(err, &badBatch) {
		// Route 53 reports "already exists" and "not found" through the
		// same InvalidChangeBatch error.
		if strings.Contains(err.Error(), "not found") {
			return fmt.Errorf("%v: %w", err, provider.ErrNotFound)
		}
		return fmt.Errorf("%v: %w", err, provider.ErrConflict)
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "AccessDenied", "AccessDeniedException", "InvalidClientTokenId",
			"UnrecognizedClientException", "SignatureDoesNotMatch", "ExpiredToken":
			return fmt.Errorf("%v: %w", err, provider.ErrUnauthorized)
		case "Throttling", "ThrottlingException", "RequestLimitExceeded":
			return fmt.Errorf("%v: %w", err, provider.ErrRateLimited)
		case "ServiceUnavailable", "InternalFailure", "InternalError":
			return fmt.Errorf("%v: %w", err, provider.ErrUnreachable)
		}
		return err
	}

	// Transport-level failures never reached the API.
	return fmt.Errorf("%v: %w", err, provider.ErrUnreachable)
}
