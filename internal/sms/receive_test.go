package sms

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/mobilivr/fabric/internal/federation"
)

type fakeNotifier struct {
	lastEvent federation.Event
	called    bool
	err       error
}

func (f *fakeNotifier) NotifyEvent(ctx context.Context, event federation.Event) (federation.RouteResult, error) {
	f.called = true
	f.lastEvent = event
	return federation.RouteResult{}, f.err
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestHandleReceiveSuccess(t *testing.T) {
	notifier := &fakeNotifier{}
	s := NewServer(notifier, testLogger())

	req := httptest.NewRequest(http.MethodGet, "/?callerid=%2B27123&message=hello", nil)
	w := httptest.NewRecorder()
	s.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if w.Body.String() != "Message received OK" {
		t.Errorf("body = %q", w.Body.String())
	}
	if !notifier.called {
		t.Fatal("expected NotifyEvent to be called")
	}
	if notifier.lastEvent.Type != federation.EventTypeSMS || notifier.lastEvent.CallerID != "+27123" {
		t.Errorf("event = %+v", notifier.lastEvent)
	}
	if notifier.lastEvent.Extra["message"] != "hello" {
		t.Errorf("event.Extra = %+v", notifier.lastEvent.Extra)
	}
}

func TestHandleReceiveMissingParams(t *testing.T) {
	notifier := &fakeNotifier{}
	s := NewServer(notifier, testLogger())

	req := httptest.NewRequest(http.MethodGet, "/?callerid=%2B27123", nil)
	w := httptest.NewRecorder()
	s.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
	if notifier.called {
		t.Error("expected NotifyEvent not to be called on bad request")
	}
}
