package crypto

import (
	"strings"
	"testing"
)

func TestHeadersAtDeterministic(t *testing.T) {
	auth := &HMACAuth{Key: "engine-1", Secret: "topsecret"}

	a := auth.HeadersAt("POST", "/v1/credit", `{"amount":"190"}`, 1700000000)
	b := auth.HeadersAt("POST", "/v1/credit", `{"amount":"190"}`, 1700000000)

	if a["X-Ledger-Signature"] != b["X-Ledger-Signature"] {
		t.Error("same inputs produced different signatures")
	}
	if a["X-Ledger-Key"] != "engine-1" {
		t.Errorf("key header = %q", a["X-Ledger-Key"])
	}
	if a["X-Ledger-Timestamp"] != "1700000000" {
		t.Errorf("timestamp header = %q", a["X-Ledger-Timestamp"])
	}
}

func TestHeadersChangeWithInputs(t *testing.T) {
	auth := &HMACAuth{Key: "engine-1", Secret: "topsecret"}
	base := auth.HeadersAt("POST", "/v1/credit", "body", 1700000000)

	variants := []map[string]string{
		auth.HeadersAt("GET", "/v1/credit", "body", 1700000000),
		auth.HeadersAt("POST", "/v1/debit", "body", 1700000000),
		auth.HeadersAt("POST", "/v1/credit", "other", 1700000000),
		auth.HeadersAt("POST", "/v1/credit", "body", 1700000001),
	}
	for i, v := range variants {
		if v["X-Ledger-Signature"] == base["X-Ledger-Signature"] {
			t.Errorf("variant %d did not change the signature", i)
		}
	}
}

func TestVerify(t *testing.T) {
	auth := &HMACAuth{Key: "engine-1", Secret: "topsecret"}
	h := auth.HeadersAt("POST", "/v1/credit", "body", 1700000000)

	if !auth.Verify("POST", "/v1/credit", "body", h["X-Ledger-Timestamp"], h["X-Ledger-Signature"]) {
		t.Error("valid signature rejected")
	}
	if auth.Verify("POST", "/v1/credit", "tampered", h["X-Ledger-Timestamp"], h["X-Ledger-Signature"]) {
		t.Error("tampered body accepted")
	}
	other := &HMACAuth{Key: "engine-1", Secret: "wrong"}
	if other.Verify("POST", "/v1/credit", "body", h["X-Ledger-Timestamp"], h["X-Ledger-Signature"]) {
		t.Error("wrong secret accepted")
	}
}

func TestStringRedacts(t *testing.T) {
	auth := &HMACAuth{Key: "engine-1", Secret: "topsecret"}
	s := auth.String()
	if strings.Contains(s, "topsecret") {
		t.Errorf("String leaked the secret: %s", s)
	}
}

func TestSecretRoundTrip(t *testing.T) {
	blob, err := EncryptSecret("ledger-signing-secret", "hunter2")
	if err != nil {
		t.Fatalf("EncryptSecret: %v", err)
	}

	got, err := DecryptSecret(blob, "hunter2")
	if err != nil {
		t.Fatalf("DecryptSecret: %v", err)
	}
	if got != "ledger-signing-secret" {
		t.Errorf("round trip = %q", got)
	}

	if _, err := DecryptSecret(blob, "wrong"); err == nil {
		t.Error("wrong password accepted")
	}
}

func TestEncryptSecretValidation(t *testing.T) {
	if _, err := EncryptSecret("", "pw"); err == nil {
		t.Error("empty secret accepted")
	}
	if _, err := EncryptSecret("secret", ""); err == nil {
		t.Error("empty password accepted")
	}
}
