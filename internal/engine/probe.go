package engine

import (
	"encoding/json"
	"net/url"
	"strconv"
	"strings"
)

// BuildProbeRequest clones target's method, headers, cookies and body, then
// substitutes param's value with payload at the parameter's location
// (query string or form body). Every technique package and the fingerprint
// package build probe requests this same way; this is the one place that
// logic lives. Payloads are percent-encoded as usual; use
// BuildProbeRequestRaw to bypass encoding (--skip-urlencoding).
func BuildProbeRequest(target *ScanTarget, param *Parameter, payload string) *ProbeRequest {
	return buildProbeRequest(target, param, payload, false)
}

// BuildProbeRequestRaw behaves like BuildProbeRequest but appends payload to
// the query string or body verbatim, without percent-encoding. Some WAF
// bypasses and tamper scripts depend on characters (spaces, parens) reaching
// the server unescaped.
func BuildProbeRequestRaw(target *ScanTarget, param *Parameter, payload string) *ProbeRequest {
	return buildProbeRequest(target, param, payload, true)
}

func buildProbeRequest(target *ScanTarget, param *Parameter, payload string, raw bool) *ProbeRequest {
	req := &ProbeRequest{
		Method:      target.Method,
		URL:         target.URL,
		Body:        target.Body,
		ContentType: target.ContentType,
	}

	if target.Headers != nil {
		req.Headers = make(map[string]string, len(target.Headers))
		for k, v := range target.Headers {
			req.Headers[k] = v
		}
	}

	if target.Cookies != nil {
		req.Cookies = make(map[string]string, len(target.Cookies))
		for k, v := range target.Cookies {
			req.Cookies[k] = v
		}
	}

	switch param.Location {
	case LocationQuery:
		if raw {
			req.URL = modifyQueryParamRaw(target.URL, param.Name, payload)
		} else {
			req.URL = ModifyQueryParam(target.URL, param.Name, payload)
		}
	case LocationBody:
		if raw {
			req.Body = modifyBodyParamRaw(target.Body, param.Name, payload)
		} else {
			req.Body = ModifyBodyParam(target.Body, param.Name, payload)
		}
	case LocationJSON:
		req.Body = ModifyJSONParam(target.Body, param.Name, payload)
	}

	return req
}

// ModifyJSONParam replaces the scalar leaf at the dot/bracket path built by
// ParseJSONParameters (e.g. "user.address.city", "tags[0]") with newValue,
// re-marshaling the rest of the document unchanged. If body does not parse
// as JSON, or path does not resolve to an existing leaf, body is returned
// unmodified — the caller's probe then carries the unmutated parameter
// rather than aborting the scan.
func ModifyJSONParam(body, path, newValue string) string {
	var doc interface{}
	if err := json.Unmarshal([]byte(body), &doc); err != nil {
		return body
	}

	if !setJSONPath(doc, splitJSONPath(path), newValue) {
		return body
	}

	out, err := json.Marshal(doc)
	if err != nil {
		return body
	}
	return string(out)
}

// splitJSONPath breaks a flattened JSON path ("user.tags[0].name") into its
// ordered segments ("user", "tags", "0", "name"); numeric segments address
// array indices.
func splitJSONPath(path string) []string {
	path = strings.ReplaceAll(path, "[", ".")
	path = strings.ReplaceAll(path, "]", "")
	var segments []string
	for _, s := range strings.Split(path, ".") {
		if s != "" {
			segments = append(segments, s)
		}
	}
	return segments
}

// setJSONPath walks doc (a map[string]interface{}/[]interface{} tree
// produced by encoding/json) following segments and overwrites the final
// leaf with newValue. Returns false if the path does not resolve.
func setJSONPath(doc interface{}, segments []string, newValue string) bool {
	if len(segments) == 0 {
		return false
	}
	for i, seg := range segments {
		last := i == len(segments)-1
		switch node := doc.(type) {
		case map[string]interface{}:
			child, ok := node[seg]
			if !ok {
				return false
			}
			if last {
				node[seg] = newValue
				return true
			}
			doc = child
		case []interface{}:
			idx, err := strconv.Atoi(seg)
			if err != nil || idx < 0 || idx >= len(node) {
				return false
			}
			if last {
				node[idx] = newValue
				return true
			}
			doc = node[idx]
		default:
			return false
		}
	}
	return false
}

// modifyQueryParamRaw replaces paramName's value in rawURL's query string
// without percent-encoding newValue, preserving every other query parameter
// as url.Parse found it.
func modifyQueryParamRaw(rawURL, paramName, newValue string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}

	var pairs []string
	replaced := false
	for _, pair := range strings.Split(parsed.RawQuery, "&") {
		if pair == "" {
			continue
		}
		kv := strings.SplitN(pair, "=", 2)
		key, decodeErr := url.QueryUnescape(kv[0])
		if decodeErr != nil {
			key = kv[0]
		}
		if key == paramName {
			pairs = append(pairs, paramName+"="+newValue)
			replaced = true
			continue
		}
		pairs = append(pairs, pair)
	}
	if !replaced {
		pairs = append(pairs, paramName+"="+newValue)
	}

	parsed.RawQuery = ""
	result := parsed.String()
	if len(pairs) > 0 {
		result += "?" + strings.Join(pairs, "&")
	}
	return result
}

// modifyBodyParamRaw replaces paramName's value in an
// application/x-www-form-urlencoded body without percent-encoding newValue.
func modifyBodyParamRaw(body, paramName, newValue string) string {
	var pairs []string
	replaced := false
	if body != "" {
		for _, pair := range strings.Split(body, "&") {
			if pair == "" {
				continue
			}
			kv := strings.SplitN(pair, "=", 2)
			key, decodeErr := url.QueryUnescape(kv[0])
			if decodeErr != nil {
				key = kv[0]
			}
			if key == paramName {
				pairs = append(pairs, paramName+"="+newValue)
				replaced = true
				continue
			}
			pairs = append(pairs, pair)
		}
	}
	if !replaced {
		pairs = append(pairs, paramName+"="+newValue)
	}
	return strings.Join(pairs, "&")
}

// ProbeRequest is the subset of transport.Request fields BuildProbeRequest
// can populate without importing the transport package (which already
// imports engine, so the dependency can't run the other way). Callers copy
// these fields onto their own *transport.Request.
type ProbeRequest struct {
	Method      string
	URL         string
	Body        string
	ContentType string
	Headers     map[string]string
	Cookies     map[string]string
}

// ModifyQueryParam replaces the value of a named query parameter in a URL.
func ModifyQueryParam(rawURL, paramName, newValue string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}

	q := parsed.Query()
	q.Set(paramName, newValue)
	parsed.RawQuery = q.Encode()

	return parsed.String()
}

// ModifyBodyParam replaces the value of a named parameter in an
// application/x-www-form-urlencoded body.
func ModifyBodyParam(body, paramName, newValue string) string {
	values, err := url.ParseQuery(body)
	if err != nil {
		return body
	}

	values.Set(paramName, newValue)
	return values.Encode()
}
