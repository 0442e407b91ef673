// Package detector provides parameter extraction and SQL injection detection.
package detector

import (
	"encoding/json"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/0x6d61/sqleech/internal/engine"
)

// integerPattern matches an optional minus sign followed by one or more digits.
var integerPattern = regexp.MustCompile(`^-?[0-9]+$`)

// floatPattern matches an optional minus sign, one or more digits, a dot, then one or more digits.
var floatPattern = regexp.MustCompile(`^-?[0-9]+\.[0-9]+$`)

// ParseParameters extracts all parameters from a URL and body.
// url: the full URL (e.g., "http://example.com/page?id=1&name=test")
// body: the POST body (e.g., "user=admin&pass=123")
// contentType: the Content-Type header value
// Returns: slice of engine.Parameter
func ParseParameters(rawURL, body, contentType string) []engine.Parameter {
	var params []engine.Parameter
	params = append(params, ParseURLParameters(rawURL)...)
	params = append(params, ParseBodyParameters(body, contentType)...)
	return params
}

// ParseURLParameters extracts parameters from URL query string only.
func ParseURLParameters(rawURL string) []engine.Parameter {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil
	}

	return parseFormValues(parsed.Query(), engine.LocationQuery)
}

// ParseBodyParameters extracts parameters from a request body. Supports
// application/x-www-form-urlencoded and application/json; any other
// content type (including multipart, which sqleech does not parse directly)
// yields no body parameters.
func ParseBodyParameters(body, contentType string) []engine.Parameter {
	if body == "" {
		return nil
	}

	if isJSONContentType(contentType) {
		return ParseJSONParameters(body)
	}

	if !isFormURLEncoded(contentType) {
		return nil
	}

	values, err := url.ParseQuery(body)
	if err != nil {
		return nil
	}

	return parseFormValues(values, engine.LocationBody)
}

// ParseJSONParameters flattens a JSON object body into injectable
// parameters located at LocationJSON. Nested objects use dot-joined key
// paths ("user.address.city"); array elements use a bracketed index
// ("tags[0]"). Non-scalar leaves (null) are skipped since they carry no
// injectable value.
func ParseJSONParameters(body string) []engine.Parameter {
	var doc interface{}
	if err := json.Unmarshal([]byte(body), &doc); err != nil {
		return nil
	}

	var params []engine.Parameter
	flattenJSON("", doc, &params)
	return params
}

// flattenJSON walks a decoded JSON value, appending one engine.Parameter
// per scalar leaf it encounters.
func flattenJSON(path string, v interface{}, out *[]engine.Parameter) {
	switch val := v.(type) {
	case map[string]interface{}:
		for key, child := range val {
			childPath := key
			if path != "" {
				childPath = path + "." + key
			}
			flattenJSON(childPath, child, out)
		}
	case []interface{}:
		for i, child := range val {
			flattenJSON(fmt.Sprintf("%s[%d]", path, i), child, out)
		}
	case string:
		*out = append(*out, engine.Parameter{
			Name: path, Value: val, Location: engine.LocationJSON, Type: engine.TypeString,
		})
	case float64:
		*out = append(*out, engine.Parameter{
			Name: path, Value: formatJSONNumber(val), Location: engine.LocationJSON, Type: jsonNumberType(val),
		})
	case bool:
		*out = append(*out, engine.Parameter{
			Name: path, Value: strconv.FormatBool(val), Location: engine.LocationJSON, Type: engine.TypeString,
		})
	}
}

// jsonNumberType reports whether a decoded JSON number round-trips as an
// integer or needs float formatting.
func jsonNumberType(n float64) engine.ParameterType {
	if n == float64(int64(n)) {
		return engine.TypeInteger
	}
	return engine.TypeFloat
}

// formatJSONNumber renders a decoded JSON number the way it would appear
// when substituted back into the request body.
func formatJSONNumber(n float64) string {
	if jsonNumberType(n) == engine.TypeInteger {
		return strconv.FormatInt(int64(n), 10)
	}
	return strconv.FormatFloat(n, 'f', -1, 64)
}

// isJSONContentType reports whether contentType indicates a JSON body.
func isJSONContentType(contentType string) bool {
	mediaType := strings.TrimSpace(strings.SplitN(contentType, ";", 2)[0])
	return strings.EqualFold(mediaType, "application/json")
}

// InferType guesses the parameter type from its value.
// - Integers: "123", "-45", "0"
// - Floats: "1.5", "-3.14", "0.0"
// - Strings: everything else
func InferType(value string) engine.ParameterType {
	if integerPattern.MatchString(value) {
		return engine.TypeInteger
	}
	if floatPattern.MatchString(value) {
		return engine.TypeFloat
	}
	return engine.TypeString
}

// parseFormValues converts url.Values into a slice of engine.Parameter with the
// given location. It preserves multiple values for the same key.
func parseFormValues(values url.Values, location engine.ParameterLocation) []engine.Parameter {
	var params []engine.Parameter
	for name, vals := range values {
		for _, v := range vals {
			params = append(params, engine.Parameter{
				Name:     name,
				Value:    v,
				Location: location,
				Type:     InferType(v),
			})
		}
	}
	return params
}

// isFormURLEncoded checks whether the content type indicates
// application/x-www-form-urlencoded. An empty content type is treated as
// form-urlencoded for convenience (common in simple POST requests).
func isFormURLEncoded(contentType string) bool {
	if contentType == "" {
		return true
	}
	// Strip parameters like "; charset=utf-8"
	mediaType := strings.TrimSpace(strings.SplitN(contentType, ";", 2)[0])
	return strings.EqualFold(mediaType, "application/x-www-form-urlencoded")
}
