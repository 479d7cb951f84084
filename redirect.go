package oauth

import (
	"fmt"
	"net/url"
	"strings"
)

// QueryParam is a named query parameter for ConstructRedirectURI.
// A nil Value marks the parameter as absent; it is skipped entirely.
// An empty non-nil Value is a present, empty parameter.
type QueryParam struct {
	Name  string
	Value *string
}

// Param returns a present query parameter
func Param(name, value string) QueryParam {
	return QueryParam{Name: name, Value: &value}
}

// AbsentParam returns an absent query parameter, skipped by
// ConstructRedirectURI
func AbsentParam(name string) QueryParam {
	return QueryParam{Name: name}
}

// ConstructRedirectURI builds the final browser redirect for an
// authorization response. The result equals baseURI with its existing
// query parameters preserved in their original order, followed by the
// supplied parameters in call order. Parameters with a nil value are
// skipped.
func ConstructRedirectURI(baseURI string, params ...QueryParam) (string, error) {
	parsed, err := url.Parse(baseURI)
	if err != nil {
		return "", fmt.Errorf("invalid redirect URI base: %w", err)
	}

	pairs, err := parseQueryOrdered(parsed.RawQuery)
	if err != nil {
		return "", fmt.Errorf("invalid query in redirect URI base: %w", err)
	}

	for _, p := range params {
		if p.Value == nil {
			continue
		}
		pairs = append(pairs, [2]string{p.Name, *p.Value})
	}

	parsed.RawQuery = encodeQueryOrdered(pairs)
	return parsed.String(), nil
}

// parseQueryOrdered decodes a raw query string into key/value pairs,
// preserving their order of appearance. url.Values cannot be used here
// because it is a map and loses ordering.
func parseQueryOrdered(rawQuery string) ([][2]string, error) {
	if rawQuery == "" {
		return nil, nil
	}

	var pairs [][2]string
	for _, field := range strings.Split(rawQuery, "&") {
		if field == "" {
			continue
		}
		key, value, _ := strings.Cut(field, "=")
		decodedKey, err := url.QueryUnescape(key)
		if err != nil {
			return nil, err
		}
		decodedValue, err := url.QueryUnescape(value)
		if err != nil {
			return nil, err
		}
		pairs = append(pairs, [2]string{decodedKey, decodedValue})
	}
	return pairs, nil
}

// encodeQueryOrdered encodes key/value pairs in the given order
func encodeQueryOrdered(pairs [][2]string) string {
	var b strings.Builder
	for i, pair := range pairs {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(url.QueryEscape(pair[0]))
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(pair[1]))
	}
	return b.String()
}
