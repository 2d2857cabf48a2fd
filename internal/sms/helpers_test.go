package sms

import (
	"net/url"
	"strconv"
	"strings"
	"testing"
)

// splitHostPort pulls the host and integer port out of an
// httptest.Server's URL for use as a SendConfig.
func splitHostPort(serverURL string) (string, int, error) {
	u, err := url.Parse(serverURL)
	if err != nil {
		return "", 0, err
	}
	parts := strings.Split(u.Host, ":")
	port, err := strconv.Atoi(parts[1])
	if err != nil {
		return "", 0, err
	}
	return parts[0], port, nil
}

func mustParseQuery(t *testing.T, raw string) url.Values {
	t.Helper()
	q, err := url.ParseQuery(raw)
	if err != nil {
		t.Fatalf("ParseQuery(%q): %v", raw, err)
	}
	return q
}
