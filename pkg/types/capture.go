package types

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"strings"
	"time"
)

// DefaultUpdateFrequency is how often a downstream client is expected to
// refresh data with a captured config.
const DefaultUpdateFrequency = time.Hour

// volatileHeaders change on every request and never take part in a signature.
var volatileHeaders = map[string]bool{
	"timestamp":      true,
	"user-sign":      true,
	"x-request-id":   true,
	"content-length": true,
}

// RequestParameters is the replayable part of a captured API request.
type RequestParameters struct {
	Method  string            `json:"method"`
	URL     string            `json:"url"`
	Headers map[string]string `json:"headers"`
	Query   map[string]string `json:"queryParams"`
}

// Normalized returns a copy with lower-cased header names and volatile
// headers removed. The URL is reduced to scheme, host and path.
func (p RequestParameters) Normalized() RequestParameters {
	out := RequestParameters{
		Method:  strings.ToUpper(p.Method),
		URL:     p.URL,
		Headers: make(map[string]string, len(p.Headers)),
		Query:   make(map[string]string, len(p.Query)),
	}
	if i := strings.IndexByte(out.URL, '?'); i >= 0 {
		out.URL = out.URL[:i]
	}
	for k, v := range p.Headers {
		k = strings.ToLower(k)
		if volatileHeaders[k] {
			continue
		}
		out.Headers[k] = v
	}
	for k, v := range p.Query {
		out.Query[k] = v
	}
	return out
}

// CapturedAPIConfig is the recorded fingerprint of a live authenticated API call.
type CapturedAPIConfig struct {
	ID               int64             `json:"id"`
	APIVersion       string            `json:"apiVersion"`
	Parameters       RequestParameters `json:"parameters"`
	IsActive         bool              `json:"isActive"`
	UpdateFrequency  time.Duration     `json:"updateFrequency"`
	LinkedSessionIDs []string          `json:"linkedSessionIds,omitempty"`
	CreatedAt        time.Time         `json:"createdAt"`
	UpdatedAt        time.Time         `json:"updatedAt"`
}

// Signature identifies configs that are equivalent for deduplication.
func (c *CapturedAPIConfig) Signature() string {
	return ParametersSignature(c.APIVersion, c.Parameters)
}

// ParametersSignature hashes the normalized parameters under an api version.
func ParametersSignature(apiVersion string, params RequestParameters) string {
	n := params.Normalized()
	var b strings.Builder
	b.WriteString(n.Method)
	b.WriteByte('\n')
	b.WriteString(n.URL)
	b.WriteByte('\n')
	writeSorted(&b, n.Headers)
	b.WriteByte('\n')
	writeSorted(&b, n.Query)

	sum := sha256.Sum256([]byte(b.String()))
	return apiVersion + ":" + hex.EncodeToString(sum[:])
}

func writeSorted(b *strings.Builder, m map[string]string) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		// json keeps separators inside values unambiguous
		kv, _ := json.Marshal([2]string{k, m[k]})
		b.Write(kv)
	}
}
