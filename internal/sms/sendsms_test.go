package sms

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestSendBuildsExpectedRequest(t *testing.T) {
	var gotPath, gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.RawQuery
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	host, port, err := splitHostPort(srv.URL)
	if err != nil {
		t.Fatalf("splitHostPort: %v", err)
	}

	c := NewClient(SendConfig{Host: host, Port: port, Username: "u", Password: "p", From: "MobilIVR"})
	if err := c.Send(context.Background(), "hello", "+27123"); err != nil {
		t.Fatalf("Send: %v", err)
	}

	if gotPath != "/cgi-bin/sendsms" {
		t.Errorf("path = %q, want /cgi-bin/sendsms", gotPath)
	}
	q := mustParseQuery(t, gotQuery)
	if q.Get("username") != "u" || q.Get("password") != "p" || q.Get("from") != "MobilIVR" || q.Get("to") != "+27123" || q.Get("text") != "hello" {
		t.Errorf("query = %q", gotQuery)
	}
}

func TestSendNon2xxIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	host, port, err := splitHostPort(srv.URL)
	if err != nil {
		t.Fatalf("splitHostPort: %v", err)
	}
	c := NewClient(SendConfig{Host: host, Port: port})
	if err := c.Send(context.Background(), "hello", "+27123"); err == nil {
		t.Error("expected error on 500 response")
	}
}
