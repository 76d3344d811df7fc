package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestHTTPGatewaySend(t *testing.T) {
	var gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/messages" || r.Method != http.MethodPost {
			t.Fatalf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		gotAuth = r.Header.Get("Authorization")
		var payload struct {
			To      string `json:"to"`
			Message string `json:"message"`
		}
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if payload.To != "+27820000001" {
			t.Fatalf("unexpected recipient %s", payload.To)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"accepted": true, "message_id": "msg-1"})
	}))
	defer server.Close()

	gateway, err := NewHTTPGateway(server.URL, "secret-token")
	if err != nil {
		t.Fatalf("new gateway: %v", err)
	}
	receipt, err := gateway.Send(context.Background(), "+27820000001", "hello")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if !receipt.Accepted || receipt.ProviderMessageID != "msg-1" {
		t.Fatalf("unexpected receipt %+v", receipt)
	}
	if gotAuth != "Bearer secret-token" {
		t.Fatalf("unexpected auth header %q", gotAuth)
	}
}

func TestHTTPGatewayServerErrorIsRetryable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	gateway, err := NewHTTPGateway(server.URL, "")
	if err != nil {
		t.Fatalf("new gateway: %v", err)
	}
	if _, err := gateway.Send(context.Background(), "+27820000001", "hello"); err == nil {
		t.Fatal("5xx must surface as an error so the notifier retries")
	}
}

func TestHTTPGatewayRejection(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"accepted": false, "error": "invalid destination"})
	}))
	defer server.Close()

	gateway, err := NewHTTPGateway(server.URL, "")
	if err != nil {
		t.Fatalf("new gateway: %v", err)
	}
	receipt, err := gateway.Send(context.Background(), "+27820000001", "hello")
	if err != nil {
		t.Fatalf("rejection is not a transport error: %v", err)
	}
	if receipt.Accepted || receipt.Error != "invalid destination" {
		t.Fatalf("unexpected receipt %+v", receipt)
	}
}
