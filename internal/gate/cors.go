package gate

import (
	"net/http"
	"slices"
	"strconv"
	"strings"
)

// CORSPolicy computes the cross-origin headers attached to every gate
// response. It is a pure function of the request origin.
//
// Unlike a general CORS middleware, the gate emits allow-headers and
// allow-methods on every response, Origin header or not, so browser callers
// can read error envelopes too.
type CORSPolicy struct {
	AllowedOrigins []string // "*" allows any origin
	AllowedHeaders []string // always includes Content-Type and X-API-Key
	AllowedMethods []string // always includes OPTIONS
	ExposedHeaders []string
	MaxAge         int // preflight cache lifetime in seconds; zero omits the header
}

// NewCORSPolicy returns the gate's default policy for the given origins.
// An empty origin list means wildcard.
func NewCORSPolicy(origins []string) CORSPolicy {
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	return CORSPolicy{
		AllowedOrigins: origins,
		AllowedHeaders: []string{"Content-Type", APIKeyHeader},
		AllowedMethods: []string{http.MethodPost, http.MethodOptions},
		ExposedHeaders: []string{"X-Request-ID", "Retry-After"},
		MaxAge:         300,
	}.normalized()
}

// normalized guarantees the mandatory headers and methods are present.
func (p CORSPolicy) normalized() CORSPolicy {
	p.AllowedHeaders = appendMissingFold(p.AllowedHeaders, "Content-Type", APIKeyHeader)
	p.AllowedMethods = appendMissingFold(p.AllowedMethods, http.MethodOptions)
	return p
}

// Wildcard reports whether any origin is allowed.
func (p CORSPolicy) Wildcard() bool {
	return slices.Contains(p.AllowedOrigins, "*")
}

// Headers returns the CORS response headers for a request from origin.
// With an allow-list, a listed origin is reflected and anything else gets no
// Access-Control-Allow-Origin header, which browsers treat as a denial.
func (p CORSPolicy) Headers(origin string) http.Header {
	p = p.normalized()
	h := make(http.Header)

	switch {
	case p.Wildcard():
		h.Set("Access-Control-Allow-Origin", "*")
	default:
		h.Set("Vary", "Origin")
		if origin != "" && slices.Contains(p.AllowedOrigins, origin) {
			h.Set("Access-Control-Allow-Origin", origin)
		}
	}
	h.Set("Access-Control-Allow-Headers", strings.Join(p.AllowedHeaders, ", "))
	h.Set("Access-Control-Allow-Methods", strings.Join(p.AllowedMethods, ", "))
	if len(p.ExposedHeaders) > 0 {
		h.Set("Access-Control-Expose-Headers", strings.Join(p.ExposedHeaders, ", "))
	}
	if p.MaxAge > 0 {
		h.Set("Access-Control-Max-Age", strconv.Itoa(p.MaxAge))
	}
	return h
}

// apply copies the policy headers for r onto w.
func (p CORSPolicy) apply(w http.ResponseWriter, r *http.Request) {
	dst := w.Header()
	for k, vs := range p.Headers(r.Header.Get("Origin")) {
		dst[k] = vs
	}
}

func appendMissingFold(list []string, want ...string) []string {
	out := slices.Clone(list)
	for _, w := range want {
		found := slices.ContainsFunc(out, func(s string) bool { return strings.EqualFold(s, w) })
		if !found {
			out = append(out, w)
		}
	}
	return out
}
