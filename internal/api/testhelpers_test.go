package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/tokengate/tokengate/internal/api"
	"github.com/tokengate/tokengate/internal/domain"
	"github.com/tokengate/tokengate/internal/gate"
	"github.com/tokengate/tokengate/internal/token"
)

const validKey = "integration-test-key"

var alicePrincipal = domain.Principal{ID: 1, Username: "alice"}

var signingKey = []byte("api-test-signing-key-0123456789ab")

func tokenOptions() token.Options {
	return token.Options{SigningKey: signingKey, Expiry: time.Hour, Issuer: "tokengate"}
}

func newGate(t *testing.T, origins ...string) *gate.Gate {
	t.Helper()
	g, err := gate.New(gate.Config{
		CORS: gate.NewCORSPolicy(origins),
		Keys: gate.MinLengthChecker{Min: 12},
		Resolver: gate.NewStaticResolver(
			alicePrincipal,
			domain.Principal{ID: 2, Username: "bob"},
		),
		Issuer: token.NewIssuer(tokenOptions()),
	})
	require.NoError(t, err)
	return g
}

// fullTestServer returns a Server with every optional component configured.
func fullTestServer(t *testing.T) *api.Server {
	t.Helper()
	return &api.Server{
		Gate:     newGate(t),
		Verifier: token.NewVerifier(tokenOptions(), token.NewMemoryDenylist(time.Now)),
	}
}

// captureLogs installs a JSON slog handler wrapped in api.ContextHandler that
// writes to a buffer, runs fn, then restores the previous default logger.
func captureLogs(t *testing.T, fn func()) string {
	t.Helper()
	var buf bytes.Buffer
	handler := api.NewContextHandler(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	prev := slog.Default()
	slog.SetDefault(slog.New(handler))
	t.Cleanup(func() { slog.SetDefault(prev) })

	fn()

	return buf.String()
}

func doRequest(h http.Handler, method, path string, body string, headers map[string]string) *httptest.ResponseRecorder {
	var rdr io.Reader = http.NoBody
	if body != "" {
		rdr = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rdr)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

// issueToken obtains a token through the router, the way a client would.
func issueToken(t *testing.T, h http.Handler, username string) string {
	t.Helper()
	rec := doRequest(h, http.MethodPost, api.TokenPath, `{"username":"`+username+`"}`,
		map[string]string{"X-API-Key": validKey})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp gate.TokenResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp.Token
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body), rec.Body.String())
	return body
}

type mockHealthChecker struct {
	name string
	err  error
}

func (m *mockHealthChecker) Name() string { return m.name }

func (m *mockHealthChecker) HealthCheck(ctx context.Context) error {
	return m.err
}
