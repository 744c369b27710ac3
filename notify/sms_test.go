package notify_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/xraph/settle/id"
	"github.com/xraph/settle/notify"
)

func TestSMSNotify(t *testing.T) {
	var (
		got       map[string]any
		requestID string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method: got %s, want POST", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("Content-Type: got %q", ct)
		}
		requestID = r.Header.Get("X-Request-ID")
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode body: %v", err)
		}
		_, _ = w.Write([]byte(`{"success":true,"message":"queued"}`))
	}))
	defer srv.Close()

	msgID := id.NewNotificationID()
	s := notify.NewSMS(srv.URL, notify.WithHTTPClient(srv.Client()))
	err := s.Notify(context.Background(), notify.Message{
		ID:            msgID,
		VoucherID:     11,
		TransactionID: 3,
		CustomerPhone: "256700000002",
		ReferenceID:   "REF1",
	})
	if err != nil {
		t.Fatalf("Notify: %v", err)
	}

	want := map[string]any{
		"voucher_id":     float64(11),
		"transaction_id": float64(3),
		"customer_phone": "256700000002",
	}
	if len(got) != len(want) {
		t.Errorf("body: got %v, want %v", got, want)
	}
	for k, v := range want {
		if got[k] != v {
			t.Errorf("body[%s]: got %v, want %v", k, got[k], v)
		}
	}
	if requestID != msgID.String() {
		t.Errorf("X-Request-ID: got %q, want %q", requestID, msgID.String())
	}
}

func TestSMSNotifyFailures(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantMsg string
	}{
		{"rejected", http.StatusOK, `{"success":false,"message":"invalid phone"}`, "invalid phone"},
		{"server error json", http.StatusInternalServerError, `{"success":false,"message":"db down"}`, "db down"},
		{"server error text", http.StatusBadGateway, "bad gateway", "bad gateway"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			err := notify.NewSMS(srv.URL, notify.WithHTTPClient(srv.Client())).
				Notify(context.Background(), notify.Message{VoucherID: 1, TransactionID: 2})

			var se *notify.SMSError
			if !errors.As(err, &se) {
				t.Fatalf("Notify: got %v, want *SMSError", err)
			}
			if se.StatusCode != tt.status || se.Message != tt.wantMsg {
				t.Errorf("SMSError: got %+v", se)
			}
		})
	}
}

func TestSMSNotifyMalformedResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("<html>ok</html>"))
	}))
	defer srv.Close()

	err := notify.NewSMS(srv.URL, notify.WithHTTPClient(srv.Client())).
		Notify(context.Background(), notify.Message{VoucherID: 1})
	if err == nil {
		t.Fatal("expected decode error")
	}
}

func TestFuncAndDiscard(t *testing.T) {
	called := false
	var n notify.Notifier = notify.Func(func(context.Context, notify.Message) error {
		called = true
		return nil
	})
	if err := n.Notify(context.Background(), notify.Message{}); err != nil || !called {
		t.Errorf("Func adapter: called=%v err=%v", called, err)
	}
	if err := notify.Discard.Notify(context.Background(), notify.Message{}); err != nil {
		t.Errorf("Discard: %v", err)
	}
}
