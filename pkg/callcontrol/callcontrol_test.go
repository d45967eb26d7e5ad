package callcontrol

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestHTTPCallControlTransfer(t *testing.T) {
	var gotPath string
	var gotBody map[string]string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		if r.Header.Get("Authorization") != "Bearer test-key" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		json.NewDecoder(r.Body).Decode(&gotBody)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	cc := NewHTTPCallControl(server.URL, "test-key")
	if err := cc.Transfer(context.Background(), "chan-1", "+15550001234"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotPath != "/channels/chan-1/transfer" {
		t.Errorf("unexpected path: %s", gotPath)
	}
	if gotBody["destination"] != "+15550001234" {
		t.Errorf("unexpected body: %v", gotBody)
	}
}

func TestHTTPCallControlHangupErrorsOnNon2xx(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	cc := NewHTTPCallControl(server.URL, "")
	if err := cc.Hangup(context.Background(), "chan-1"); err == nil {
		t.Fatal("expected an error on a 500 response")
	}
}
