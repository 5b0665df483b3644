// Package gateway holds the HTTP clients for external classification
// dependencies: IP reputation, local LLM inference, and the third-party
// detection API. Every client fails open: errors are classified, counted,
// and surfaced to the caller, never fatal.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"syscall"

	"github.com/openbotdefense/kestrel/internal/metrics"
)

// statusError marks a non-2xx response so FailKind can separate contract
// breakage from transport trouble.
type statusError struct {
	code int
}

func (e *statusError) Error() string {
	return fmt.Sprintf("unexpected status %d", e.code)
}

// FailKind maps a dependency error to one of the shared failure kinds.
func FailKind(err error) string {
	var se *statusError
	if errors.As(err, &se) {
		return metrics.KindStatus
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return metrics.KindTimeout
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return metrics.KindTimeout
	}

	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) {
		return metrics.KindConnect
	}
	var oe *net.OpError
	if errors.As(err, &oe) {
		return metrics.KindConnect
	}

	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) || errors.Is(err, io.ErrUnexpectedEOF) {
		return metrics.KindDecode
	}

	return metrics.KindUnexpected
}

// countFailure records a classified dependency failure.
func countFailure(dependency string, err error) {
	metrics.DependencyFailures.WithLabelValues(dependency, FailKind(err)).Inc()
}

// PostJSON sends a JSON payload and decodes a JSON response. Non-2xx
// responses become a status-kind error; the body is drained so the
// connection can be reused. Shared by the gateways and the scoring
// service backend.
func PostJSON(ctx context.Context, client *http.Client, url string, headers map[string]string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return &statusError{code: resp.StatusCode}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
