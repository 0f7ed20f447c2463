package gitlab

import (
	"errors"
	"fmt"
	"net/http"
)

const maxErrorBody = 512

// APIError is returned for every unexpected (non-2xx) response.
type APIError struct {
	Method     string
	URL        string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	body := e.Body
	if len(body) > maxErrorBody {
		body = body[:maxErrorBody] + "..."
	}
	return fmt.Sprintf("%s %s: unexpected status %d: %s", e.Method, e.URL, e.StatusCode, body)
}

// IsNotFound returns true if err is an APIError with 404 status
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// exists translates 404 into absence, any other error is returned as is
func exists[T any](v *T, err error) (*T, bool, error) {
	if err != nil {
		if IsNotFound(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return v, true, nil
}
