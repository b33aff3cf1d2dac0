package apiclient

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/changzhi777/A-TeamUI-1-sub003/internal/domain"
)

var ErrUnsuccessfulResponse = errors.New("upstream reported failure")

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *envelopeError  `json:"error"`
}

type envelopeError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *envelopeError) String() string {
	if e == nil {
		return "no error details"
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func statusError(statusCode int) error {
	switch statusCode {
	case http.StatusNotFound:
		return domain.ErrNotFound
	case http.StatusUnauthorized, http.StatusForbidden:
		return domain.ErrUnauthorized
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return domain.ErrBadRequest
	case http.StatusTooManyRequests:
		return domain.ErrTemporarilyUnavailable
	}
	if statusCode >= 500 {
		return domain.ErrTemporarilyUnavailable
	}
	return nil
}

// decodeEnvelope maps an upstream response to its data payload.
// A 204 or an empty data field yields the zero value of T.
func decodeEnvelope[T any](statusCode int, data []byte) (T, error) {
	var zero T

	var response envelope
	parseErr := json.Unmarshal(data, &response)

	if err := statusError(statusCode); err != nil {
		if parseErr == nil && response.Error != nil {
			return zero, fmt.Errorf("%w: status %d (%s)", err, statusCode, response.Error)
		}
		return zero, fmt.Errorf("%w: status %d", err, statusCode)
	}

	if statusCode < 200 || statusCode >= 300 {
		return zero, fmt.Errorf("unexpected status code %d", statusCode)
	}

	if statusCode == http.StatusNoContent || len(data) == 0 {
		return zero, nil
	}

	if parseErr != nil {
		return zero, fmt.Errorf("failed to parse response envelope: %w", parseErr)
	}

	if !response.Success {
		return zero, fmt.Errorf("%w: %s", ErrUnsuccessfulResponse, response.Error)
	}

	if len(response.Data) == 0 || string(response.Data) == "null" {
		return zero, nil
	}

	var result T
	if err := json.Unmarshal(response.Data, &result); err != nil {
		return zero, fmt.Errorf("failed to parse response data: %w", err)
	}
	return result, nil
}

// isCallerError is true for failures caused by the request itself. These are
// not reported
func isCallerError(err error) bool {
	return errors.Is(err, domain.ErrNotFound) ||
		errors.Is(err, domain.ErrUnauthorized) ||
		errors.Is(err, domain.ErrBadRequest)
}
