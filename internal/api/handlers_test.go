package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validAddress() string   { return strings.Repeat("1", 32) }
func validSignature() string { return strings.Repeat("2", 87) }

func TestParseTimeRange(t *testing.T) {
	cases := []struct {
		input string
		ok    bool
	}{
		{"", true},
		{"30d", true},
		{"365d", true},
		{"366d", false},
		{"720h", true},
		{"721h", false},
		{"1440m", true},
		{"1441m", false},
		{"30x", false},
		{"d30", false},
		{"-5d", false},
	}
	for _, tc := range cases {
		_, err := parseTimeRange(tc.input)
		if tc.ok {
			assert.NoError(t, err, "input=%q", tc.input)
		} else {
			assert.Error(t, err, "input=%q", tc.input)
		}
	}
}

func postJSON(t *testing.T, handler http.HandlerFunc, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	b, err := json.Marshal(body)
	require.NoError(t, err)
	r := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(b))
	r.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler(rec, r)
	return rec
}

// Validation failures return before any engine is touched, so a zero
// Handler is sufficient for these paths.
func TestAnalyzePathRejectsBadGrammar(t *testing.T) {
	h := &Handler{}

	rec := postJSON(t, h.AnalyzePath, "/api/v1/analyze/path", analyzePathRequest{
		Address: "!!!", Token: validAddress(),
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "InvalidRequest")
}

func TestAnalyzePathRejectsBadDirection(t *testing.T) {
	h := &Handler{}

	rec := postJSON(t, h.AnalyzePath, "/api/v1/analyze/path", analyzePathRequest{
		Address: validAddress(), Token: validAddress(), Direction: "sideways",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAnalyzePathRejectsOutOfRangeTimeRange(t *testing.T) {
	h := &Handler{}

	rec := postJSON(t, h.AnalyzePath, "/api/v1/analyze/path", analyzePathRequest{
		Address: validAddress(), Token: validAddress(), TimeRange: "366d",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "InvalidTimeRange")
}

func TestTraceRejectsOversizedBatch(t *testing.T) {
	h := &Handler{}

	sigs := make([]string, 101)
	for i := range sigs {
		sigs[i] = validSignature()
	}
	rec := postJSON(t, h.Trace, "/api/v1/trace", traceRequest{Signatures: sigs})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTraceRejectsEmptyBatchAndBadSignature(t *testing.T) {
	h := &Handler{}

	rec := postJSON(t, h.Trace, "/api/v1/trace", traceRequest{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = postJSON(t, h.Trace, "/api/v1/trace", traceRequest{Signatures: []string{"short"}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAnalyzeTokenRejectsOversizedLimit(t *testing.T) {
	h := &Handler{}

	rec := postJSON(t, h.AnalyzeToken, "/api/v1/analyze/token", analyzeTokenRequest{
		Token: validAddress(), Limit: 1001,
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDecodeJSONRejectsTrailingData(t *testing.T) {
	h := &Handler{}

	r := httptest.NewRequest(http.MethodPost, "/api/v1/trace", strings.NewReader(`{"signatures":[]}{"extra":true}`))
	r.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.Trace(rec, r)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestQueryParamNormalization(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/api/v1/analyze/token?token_address="+validAddress(), nil)
	got := normalizedParam(r, tokenVariants...)
	assert.Equal(t, validAddress(), got)

	r = httptest.NewRequest(http.MethodGet, "/api/v1/analyze/token?TokenAddress="+validAddress(), nil)
	got = normalizedParam(r, tokenVariants...)
	assert.Equal(t, validAddress(), got)

	r = httptest.NewRequest(http.MethodGet, "/api/v1/analyze/token", nil)
	assert.Empty(t, normalizedParam(r, tokenVariants...))
}

func TestHealth(t *testing.T) {
	h := &Handler{}
	rec := httptest.NewRecorder()
	h.Health(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}
