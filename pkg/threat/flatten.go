package threat

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	sserr "github.com/mindhub-health/gateway-core/pkg/errors"
)

// DefaultMaxBodyBytes caps how much of a request body is read for
// scanning. Bodies beyond the cap are rejected rather than partially
// scanned — a partially scanned body could smuggle a payload past the
// signature sets.
const DefaultMaxBodyBytes = 1 << 20 // 1 MB

// FlattenJSON decodes a JSON document and returns every leaf string value
// plus every object key, in depth-first order. Nested payloads are thereby
// scanned identically to flat query parameters. Non-string leaves
// (numbers, booleans, null) carry no signature surface and are skipped.
//
// Invalid JSON returns a [sserr.CodeValidationFormat] error: a body the
// scanner cannot interpret is denied, never waved through.
func FlattenJSON(data []byte) ([]string, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}
	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, sserr.Wrap(err, sserr.CodeValidationFormat,
			"threat: request body is not valid JSON")
	}
	var leaves []string
	flattenValue(doc, &leaves)
	return leaves, nil
}

// flattenValue walks the decoded document collecting object keys and
// string leaves.
func flattenValue(v any, out *[]string) {
	switch val := v.(type) {
	case map[string]any:
		for key, nested := range val {
			*out = append(*out, key)
			flattenValue(nested, out)
		}
	case []any:
		for _, nested := range val {
			flattenValue(nested, out)
		}
	case string:
		*out = append(*out, val)
	}
}

// RequestValues gathers every scannable string from an HTTP request: the
// URL path, query keys and values, and — for JSON bodies — all flattened
// leaf values. The body is restored on the request so downstream handlers
// can read it again.
//
// maxBody bounds how many body bytes are read; pass 0 to use
// [DefaultMaxBodyBytes]. A body exceeding the bound or failing to parse
// returns an error (fail closed).
func RequestValues(r *http.Request, maxBody int64) ([]string, error) {
	if maxBody <= 0 {
		maxBody = DefaultMaxBodyBytes
	}

	values := []string{r.URL.Path}
	for key, vals := range r.URL.Query() {
		values = append(values, key)
		values = append(values, vals...)
	}

	if r.Body == nil || r.Body == http.NoBody {
		return values, nil
	}
	contentType := r.Header.Get("Content-Type")
	if !strings.Contains(contentType, "application/json") {
		return values, nil
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBody+1))
	if err != nil {
		return nil, sserr.Wrap(err, sserr.CodeValidation,
			"threat: failed to read request body")
	}
	// Restore the body for downstream handlers regardless of outcome.
	r.Body = io.NopCloser(bytes.NewReader(body))

	if int64(len(body)) > maxBody {
		return nil, sserr.New(sserr.CodeValidation,
			"threat: request body exceeds scan limit")
	}

	leaves, err := FlattenJSON(body)
	if err != nil {
		return nil, err
	}
	return append(values, leaves...), nil
}
