package llm

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/kaptinlin/jsonrepair"

	"github.com/maxkimambo/revgraph/internal/errors"
)

var (
	fencedJSON  = regexp.MustCompile("(?s)```json\\s*(.*?)\\s*```")
	fencedBlock = regexp.MustCompile("(?s)```[a-zA-Z]*\\s*(.*?)\\s*```")
)

// ExtractJSON locates the JSON payload in model output: a ```json fence, any
// fence, or the span from the first opening bracket to the last bracket of the
// same kind. An unterminated span runs to the end of the text.
func ExtractJSON(text string) string {
	if m := fencedJSON.FindStringSubmatch(text); m != nil {
		return strings.TrimSpace(m[1])
	}
	if m := fencedBlock.FindStringSubmatch(text); m != nil {
		return strings.TrimSpace(m[1])
	}

	start := strings.IndexAny(text, "[{")
	if start < 0 {
		return ""
	}
	closing := "]"
	if text[start] == '{' {
		closing = "}"
	}
	end := strings.LastIndex(text, closing)
	if end <= start {
		return strings.TrimSpace(text[start:])
	}
	return strings.TrimSpace(text[start : end+1])
}

// ParseList decodes a JSON array of T from model output. Malformed or truncated
// JSON is repaired first, and a lone object is read as a one-element list.
func ParseList[T any](text string) ([]T, error) {
	const op = "llm.parse"

	payload := ExtractJSON(text)
	if payload == "" {
		return nil, errors.NewExternalServiceError(errors.CodeServiceResponse,
			"no JSON found in model output", op, false).
			WithContext("preview", truncate(text, 120))
	}

	if out, ok := decodeList[T](payload); ok {
		return out, nil
	}

	repaired, err := jsonrepair.JSONRepair(payload)
	if err != nil {
		return nil, errors.NewExternalServiceError(errors.CodeServiceResponse,
			"model output is not repairable JSON", op, false).
			WithCause(err).
			WithContext("preview", truncate(payload, 120))
	}
	if out, ok := decodeList[T](repaired); ok {
		return out, nil
	}
	return nil, errors.NewExternalServiceError(errors.CodeServiceResponse,
		fmt.Sprintf("model output is not a list of %T", *new(T)), op, false).
		WithContext("preview", truncate(repaired, 120))
}

func decodeList[T any](payload string) ([]T, bool) {
	var list []T
	if err := json.Unmarshal([]byte(payload), &list); err == nil {
		return list, true
	}
	var single T
	if strings.HasPrefix(payload, "{") && json.Unmarshal([]byte(payload), &single) == nil {
		return []T{single}, true
	}
	return nil, false
}
