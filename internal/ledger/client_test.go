package ledger

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/updownlabs/updown/internal/crypto"
)

func TestCreditSignsAndPosts(t *testing.T) {
	auth := &crypto.HMACAuth{Key: "engine-1", Secret: "topsecret"}

	var got struct {
		path    string
		body    []byte
		headers http.Header
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got.path = r.URL.Path
		got.body, _ = io.ReadAll(r.Body)
		got.headers = r.Header.Clone()
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, auth)
	err := c.Credit(context.Background(), "alice", decimal.RequireFromString("190"), "USDT", "settlement:bet-1")
	if err != nil {
		t.Fatalf("Credit: %v", err)
	}

	if got.path != "/credits" {
		t.Errorf("path = %q, want /credits", got.path)
	}
	var req map[string]string
	if err := json.Unmarshal(got.body, &req); err != nil {
		t.Fatalf("unmarshal body: %v", err)
	}
	if req["user_id"] != "alice" || req["amount"] != "190" || req["ref"] != "settlement:bet-1" {
		t.Errorf("body = %v", req)
	}

	ts := got.headers.Get("X-Ledger-Timestamp")
	sig := got.headers.Get("X-Ledger-Signature")
	if got.headers.Get("X-Ledger-Key") != "engine-1" || ts == "" || sig == "" {
		t.Fatalf("missing auth headers: %v", got.headers)
	}
	if !auth.Verify(http.MethodPost, "/credits", string(got.body), ts, sig) {
		t.Error("signature does not verify against the sent body")
	}
}

func TestCreditTreatsConflictAsApplied(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, &crypto.HMACAuth{Key: "k", Secret: "s"})
	if err := c.Credit(context.Background(), "alice", decimal.NewFromInt(10), "USDT", "ref-1"); err != nil {
		t.Fatalf("duplicate ref should succeed, got %v", err)
	}
}

func TestDebitSurfacesServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "insufficient funds", http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, &crypto.HMACAuth{Key: "k", Secret: "s"})
	err := c.Debit(context.Background(), "alice", decimal.NewFromInt(10), "USDT", "ref-2")
	if err == nil {
		t.Fatal("expected error for 422 response")
	}
}
