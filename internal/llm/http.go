package llm

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"google.golang.org/api/googleapi"

	"github.com/maxkimambo/revgraph/internal/errors"
)

const maxResponseBytes = 16 << 20

// postJSON sends in as JSON and decodes a 2xx response into out.
func postJSON(ctx context.Context, hc *http.Client, op, url string, header http.Header, in, out interface{}) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return errors.NewInternalFault(fmt.Sprintf("failed to encode %s request: %v", op, err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return errors.NewValidationError(errors.CodeInvalidConfig, fmt.Sprintf("invalid endpoint %q", url), op).WithCause(err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	res, err := hc.Do(req)
	if err != nil {
		return transportError(ctx, op, err)
	}
	defer res.Body.Close()

	if err := googleapi.CheckResponse(res); err != nil {
		return statusError(op, err)
	}

	body, err := io.ReadAll(io.LimitReader(res.Body, maxResponseBytes))
	if err != nil {
		return transportError(ctx, op, err)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return errors.NewExternalServiceError(errors.CodeServiceResponse,
			fmt.Sprintf("malformed response body: %s", truncate(string(body), 200)), op, false).
			WithCause(err)
	}
	return nil
}

func transportError(ctx context.Context, op string, err error) error {
	if ctx.Err() != nil {
		cause := context.Cause(ctx)
		if cause == nil {
			cause = ctx.Err()
		}
		return errors.NewCancelledError(op, cause)
	}
	return errors.NewExternalServiceError(errors.CodeServiceRequest,
		"request failed", op, true).WithCause(err)
}

// statusError maps a non-2xx response. 408, 429 and 5xx are retryable.
func statusError(op string, err error) error {
	var gerr *googleapi.Error
	if !stderrors.As(err, &gerr) {
		return errors.NewExternalServiceError(errors.CodeServiceResponse, err.Error(), op, false).WithCause(err)
	}

	msg := gerr.Message
	if msg == "" {
		msg = truncate(strings.TrimSpace(gerr.Body), 300)
	}

	code := errors.CodeServiceRequest
	retryable := gerr.Code == http.StatusRequestTimeout ||
		gerr.Code == http.StatusTooManyRequests ||
		gerr.Code >= http.StatusInternalServerError
	switch gerr.Code {
	case http.StatusUnauthorized, http.StatusForbidden:
		code = errors.CodeServiceAuth
	case http.StatusTooManyRequests:
		code = errors.CodeRateLimited
	}

	perr := errors.NewExternalServiceError(code, fmt.Sprintf("HTTP %d: %s", gerr.Code, msg), op, retryable).
		WithContext("status", gerr.Code).
		WithCause(err)
	if code == errors.CodeServiceAuth {
		perr.WithHint("Check GOOGLE_API_KEY or the Application Default Credentials")
	}
	return perr
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
