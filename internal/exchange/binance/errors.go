package binance

import (
	"encoding/json"
	"fmt"

	apperrors "market_maker/pkg/errors"
	httpclient "market_maker/pkg/http"
)

// venueError mirrors the venue's {code, msg} error body.
type venueError struct {
	Code int    `json:"code"`
	Msg   string `json:"msg"`
}

// mapVenueError translates a raw APIError into the shared sentinel
// vocabulary so the rest of the system never branches on a
// venue-specific code.
func mapVenueError(err error) error {
	apiErr, ok := err.(*httpclient.APIError)
	if !ok {
		return apperrors.ErrNetwork
	}

	var ve venueError
	if jsonErr := json.Unmarshal(apiErr.Body, &ve); jsonErr != nil {
		return fmt.Errorf("%w: status=%d body=%s", apperrors.ErrVenueOrderRejected, apiErr.StatusCode, string(apiErr.Body))
	}

	switch ve.Code {
	case -2015:
		return apperrors.ErrAuthenticationFailed
	case -1021:
		return apperrors.ErrClockSkew
	case -1013, -1111, -1100:
		return apperrors.ErrInvalidOrderParameter
	case -2010:
		return apperrors.ErrInsufficientFunds
	case -2011, -2013:
		return apperrors.ErrOrderNotFound
	case -1003:
		return apperrors.ErrRateLimitExceeded
	}

	if apiErr.StatusCode >= 500 {
		return apperrors.ErrNetwork
	}
	return fmt.Errorf("%w: code=%d msg=%s", apperrors.ErrVenueOrderRejected, ve.Code, ve.Msg)
}

// isTransient reports whether an error from this adapter is worth
// retrying at the pkg/retry layer.
func isTransient(err error) bool {
	switch err {
	case apperrors.ErrNetwork, apperrors.ErrRateLimitExceeded, apperrors.ErrClockSkew, apperrors.ErrExchangeMaintenance, apperrors.ErrSystemOverload:
		return true
	}
	return false
}
