// Package tamper provides payload transformation functions that help bypass
// Web Application Firewalls (WAFs) and input filters during SQL injection testing.
//
// Each Tamper transforms a raw injection string before it is placed on the
// wire. Tampers are pure functions of (payload, Context) and are annotated
// with a Stage, a Priority (lower runs earlier) and the set of techniques
// they apply to. A Chain composes tampers: the output of tamper i is the
// input to tamper i+1. A tamper may refuse by returning the payload
// unchanged with no Applied entry; refusal never halts the chain.
//
// Built-in tampers:
//   - space2comment: Replaces spaces with /**/ comments
//   - uppercase:     Converts SQL keywords to UPPER CASE
//   - randomcase:    Randomizes the case of SQL keywords
//   - charencode:    Hex-encodes non-alphanumeric characters (%XX)
//   - between:       Replaces > comparisons with BETWEEN x AND x+1
//
// Usage:
//
//	chain := tamper.BuildChain(tamper.StageExtraction, "boolean", nil)
//	result := chain.Apply(payload, tamper.Context{})
//	client = tamper.WrapClient(client, chain)
package tamper

import (
	"context"
	"net/url"
	"sort"
	"strings"

	"github.com/0x6d61/sqleech/internal/transport"
)

// Stage identifies when in the detection/extraction lifecycle a tamper runs.
type Stage int

const (
	// StageDetection runs during initial heuristic/technique probing.
	StageDetection Stage = iota
	// StageInjection runs while sending confirmation/extraction payloads.
	StageInjection
	// StageExtraction runs during per-character data exfiltration.
	StageExtraction
)

// Context carries per-call metadata a tamper may consult (currently unused
// fields are reserved for future tampers that need DBMS or technique hints).
type Context struct {
	DBMS      string
	Technique string
}

// Result is the outcome of applying a single tamper.
type Result struct {
	Payload    string
	Applied    []string
	Confidence float64
}

// Tamper transforms a raw SQL injection payload string. Implementations must
// be pure: the same (payload, ctx) pair always produces the same Result.
type Tamper interface {
	// Name returns the tamper's short identifier (e.g. "space2comment").
	Name() string
	// Stage reports when this tamper is eligible to run.
	Stage() Stage
	// Priority orders tampers within a stage; lower runs earlier.
	Priority() int
	// AppliesTo lists technique names ("boolean", "time", "error", ...) this
	// tamper is useful for. An empty set means "all techniques".
	AppliesTo() []string
	// Apply transforms the payload. Returning the input payload unchanged
	// with an empty Applied slice signals refusal; the chain still
	// multiplies in the returned Confidence (refusal should use 1.0).
	Apply(payload string, ctx Context) Result
}

// appliesTo reports whether t is eligible for the given technique name.
// A tamper whose AppliesTo is empty applies to every technique.
func appliesTo(t Tamper, technique string) bool {
	set := t.AppliesTo()
	if len(set) == 0 || technique == "" {
		return true
	}
	for _, s := range set {
		if strings.EqualFold(s, technique) {
			return true
		}
	}
	return false
}

// Chain is an ordered, composable sequence of tampers.
type Chain []Tamper

// Apply runs each tamper in order, threading the payload through the chain.
// The returned Result.Applied is the concatenation of every sub-tamper's
// Applied entries in chain order; Result.Confidence is their product.
// An empty chain is the identity: it returns the payload unchanged with
// confidence 1.0.
func (c Chain) Apply(payload string, ctx Context) Result {
	out := Result{Payload: payload, Confidence: 1.0}
	for _, t := range c {
		r := t.Apply(out.Payload, ctx)
		out.Payload = r.Payload
		out.Applied = append(out.Applied, r.Applied...)
		if r.Confidence == 0 {
			r.Confidence = 1.0
		}
		out.Confidence *= r.Confidence
	}
	return out
}

// ApplyString is a convenience wrapper over Apply that discards metadata and
// returns only the transformed payload; used by call sites that do not need
// the applied/confidence bookkeeping.
func (c Chain) ApplyString(payload string) string {
	return c.Apply(payload, Context{}).Payload
}

// registry maps tamper names to their constructors.
var registry = map[string]func() Tamper{
	"space2comment": func() Tamper { return &space2commentTamper{} },
	"uppercase":     func() Tamper { return &uppercaseTamper{} },
	"randomcase":    func() Tamper { return &randomCaseTamper{} },
	"charencode":    func() Tamper { return &charEncodeTamper{} },
	"between":       func() Tamper { return &betweenTamper{} },
}

// Lookup returns the Tamper for the given name, or nil if not found.
func Lookup(name string) Tamper {
	fn, ok := registry[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return nil
	}
	return fn()
}

// Available returns all registered tamper names in alphabetical order.
func Available() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// allTampers instantiates one of every registered tamper, sorted by
// priority (ties broken by name for determinism).
func allTampers() []Tamper {
	all := make([]Tamper, 0, len(registry))
	for _, fn := range registry {
		all = append(all, fn())
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].Priority() != all[j].Priority() {
			return all[i].Priority() < all[j].Priority()
		}
		return all[i].Name() < all[j].Name()
	})
	return all
}

// BuildChain constructs a Chain for the given stage and technique.
//
// When names is non-empty, only the named tampers are used, in declared
// order (the literal name "all" expands to every tamper registered for
// stage, still sorted by priority); stage filtering still applies. When
// names is empty, the chain is auto-selected: every registered tamper
// whose Stage matches and whose AppliesTo includes technique (or is
// unrestricted), sorted by priority.
func BuildChain(stage Stage, technique string, names []string) Chain {
	if len(names) > 0 {
		var chain Chain
		for _, name := range names {
			if strings.EqualFold(name, "all") {
				for _, t := range allTampers() {
					if t.Stage() == stage {
						chain = append(chain, t)
					}
				}
				break
			}
			t := Lookup(name)
			if t != nil && t.Stage() == stage {
				chain = append(chain, t)
			}
		}
		return chain
	}

	var chain Chain
	for _, t := range allTampers() {
		if t.Stage() != stage {
			continue
		}
		if !appliesTo(t, technique) {
			continue
		}
		chain = append(chain, t)
	}
	return chain
}

// --------------------------------------------------------------------------
// Transport client wrapper
// --------------------------------------------------------------------------

// tamperedClient wraps a transport.Client and applies the chain to all
// query parameter values and URL-encoded body values before sending.
type tamperedClient struct {
	inner transport.Client
	chain Chain
}

// WrapClient returns a transport.Client that applies chain to every outgoing
// request's query-parameter values and form-body values.
// If chain is empty, the original client is returned unchanged.
func WrapClient(client transport.Client, chain Chain) transport.Client {
	if len(chain) == 0 {
		return client
	}
	return &tamperedClient{inner: client, chain: chain}
}

func (c *tamperedClient) Do(ctx context.Context, req *transport.Request) (*transport.Response, error) {
	return c.inner.Do(ctx, applyTamperToRequest(req, c.chain))
}

func (c *tamperedClient) SetProxy(proxyURL string) error   { return c.inner.SetProxy(proxyURL) }
func (c *tamperedClient) SetRateLimit(rps float64)         { c.inner.SetRateLimit(rps) }
func (c *tamperedClient) Stats() *transport.TransportStats { return c.inner.Stats() }

// applyTamperToRequest applies the chain to query-parameter values and
// URL-encoded body values in the request, returning a modified copy.
func applyTamperToRequest(req *transport.Request, chain Chain) *transport.Request {
	out := *req // shallow copy

	if req.URL != "" {
		out.URL = tamperURLParams(req.URL, chain)
	}

	if req.Body != "" && isFormEncoded(req.ContentType) {
		out.Body = tamperBodyParams(req.Body, chain)
	}

	return &out
}

// tamperURLParams applies the chain to each query parameter value in rawURL.
func tamperURLParams(rawURL string, chain Chain) string {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	q := parsed.Query()
	for key, values := range q {
		for i, v := range values {
			values[i] = chain.ApplyString(v)
		}
		q[key] = values
	}
	parsed.RawQuery = q.Encode()
	return parsed.String()
}

// tamperBodyParams applies the chain to each value in a URL-encoded body.
func tamperBodyParams(body string, chain Chain) string {
	values, err := url.ParseQuery(body)
	if err != nil {
		return body
	}
	for key, vals := range values {
		for i, v := range vals {
			vals[i] = chain.ApplyString(v)
		}
		values[key] = vals
	}
	return values.Encode()
}

// isFormEncoded returns true for application/x-www-form-urlencoded content.
func isFormEncoded(ct string) bool {
	return strings.Contains(strings.ToLower(ct), "application/x-www-form-urlencoded")
}

// Compile-time check that tamperedClient implements transport.Client.
var _ transport.Client = (*tamperedClient)(nil)
