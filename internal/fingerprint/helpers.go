package fingerprint

import (
	"context"

	"github.com/0x6d61/sqleech/internal/detector"
	"github.com/0x6d61/sqleech/internal/engine"
	"github.com/0x6d61/sqleech/internal/transport"
)

// sendProbe sends a request with a modified parameter value and returns the response.
func sendProbe(ctx context.Context, client transport.Client, target *engine.ScanTarget, param *engine.Parameter, payload string) (*transport.Response, error) {
	req := buildRequest(target, param, payload)
	return client.Do(ctx, req)
}

// buildRequest creates a transport.Request from a ScanTarget with a modified
// parameter, via engine.BuildProbeRequest.
func buildRequest(target *engine.ScanTarget, param *engine.Parameter, payload string) *transport.Request {
	p := engine.BuildProbeRequest(target, param, payload)
	return &transport.Request{
		Method:      p.Method,
		URL:         p.URL,
		Body:        p.Body,
		ContentType: p.ContentType,
		Headers:     p.Headers,
		Cookies:     p.Cookies,
	}
}

// responseSimilar returns true when both responses are present and the probe
// response has a 2xx status code; the baseline's status and body length are
// not compared. This is used as a lightweight acceptance check for
// behavioural probes.
func responseSimilar(baseline, probe *transport.Response) bool {
	if baseline == nil || probe == nil {
		return false
	}
	// A probe is "accepted" if the server responds with a 2xx status.
	return probe.StatusCode >= 200 && probe.StatusCode < 300
}

// probeCheck is one weighted behavioural test in a dialect's fingerprint:
// append suffix to the parameter's baseline value, send it, and award weight
// if match reports a hit.
type probeCheck struct {
	suffix string
	weight float64
	match  func(baseline, resp *transport.Response) bool
}

// errorSignature builds a probeCheck match function that looks for a
// specific DBMS's known error patterns in the probe response, rather than
// comparing against the baseline response.
func errorSignature(dbms string) func(_, resp *transport.Response) bool {
	return func(_, resp *transport.Response) bool {
		matches, ok := detector.FindSQLErrors(resp.Body)[dbms]
		return ok && len(matches) > 0
	}
}

// runProbeChecks sends every check's probe in turn and sums the weights of
// the checks whose match function fires, capping the total at 1.0. Each
// per-dialect Fingerprint implementation reduces to assembling its list of
// checks and handing it to this shared runner.
func runProbeChecks(ctx context.Context, client transport.Client, target *engine.ScanTarget, param *engine.Parameter, baseline *transport.Response, checks []probeCheck) (float64, error) {
	var confidence float64
	for _, c := range checks {
		resp, err := sendProbe(ctx, client, target, param, param.Value+c.suffix)
		if err != nil {
			return 0, err
		}
		if c.match(baseline, resp) {
			confidence += c.weight
		}
	}
	if confidence > 1.0 {
		confidence = 1.0
	}
	return confidence, nil
}
