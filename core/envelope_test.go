package core

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"encoding/json"
	"testing"
)

func TestEd25519EnvelopeSignVerifyRoundTrip(t *testing.T) {
	id := newTestIdentity(t)
	env, err := id.Sign([]byte("payload"))
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	raw, err := env.MarshalCBOR()
	if err != nil {
		t.Fatalf("MarshalCBOR: %v", err)
	}
	decoded, err := DecodeEnvelope(raw)
	if err != nil {
		t.Fatalf("DecodeEnvelope: %v", err)
	}
	addr, err := Ed25519Verifier{}.Verify(decoded)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if addr != id.Address() {
		t.Fatalf("expected address %s, got %s", id.Address(), addr)
	}
}

func TestWebAuthnEnvelopeSignVerifyRoundTrip(t *testing.T) {
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	clientData := func(challenge []byte) []byte {
		doc := map[string]any{
			"type":      "webauthn.get",
			"challenge": challenge,
			"origin":    "https://example.test",
		}
		b, _ := json.Marshal(doc)
		return b
	}
	id := NewWebAuthnIdentity(priv, []byte("authenticator-data"), clientData)

	env, err := id.Sign([]byte("payload"))
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	raw, err := env.MarshalCBOR()
	if err != nil {
		t.Fatalf("MarshalCBOR: %v", err)
	}
	decoded, err := DecodeEnvelope(raw)
	if err != nil {
		t.Fatalf("DecodeEnvelope: %v", err)
	}

	verifier := WebAuthnVerifier{AllowedOrigins: []string{"https://example.test"}}
	addr, err := verifier.Verify(decoded)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if addr != id.Address() {
		t.Fatalf("expected address %s, got %s", id.Address(), addr)
	}
}

func TestWebAuthnEnvelopeRejectsDisallowedOrigin(t *testing.T) {
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	clientData := func(challenge []byte) []byte {
		doc := map[string]any{"type": "webauthn.get", "challenge": challenge, "origin": "https://evil.test"}
		b, _ := json.Marshal(doc)
		return b
	}
	id := NewWebAuthnIdentity(priv, []byte("authenticator-data"), clientData)
	env, err := id.Sign([]byte("payload"))
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	raw, err := env.MarshalCBOR()
	if err != nil {
		t.Fatalf("MarshalCBOR: %v", err)
	}
	decoded, err := DecodeEnvelope(raw)
	if err != nil {
		t.Fatalf("DecodeEnvelope: %v", err)
	}

	verifier := WebAuthnVerifier{AllowedOrigins: []string{"https://example.test"}}
	if _, err := verifier.Verify(decoded); err == nil {
		t.Fatalf("expected disallowed origin to be rejected")
	}
}

func TestRegistryFallsThroughToMatchingBackend(t *testing.T) {
	id := newTestIdentity(t)
	env, err := id.Sign([]byte("payload"))
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	raw, err := env.MarshalCBOR()
	if err != nil {
		t.Fatalf("MarshalCBOR: %v", err)
	}
	decoded, err := DecodeEnvelope(raw)
	if err != nil {
		t.Fatalf("DecodeEnvelope: %v", err)
	}

	registry := NewRegistry(AnonymousVerifier{}, WebAuthnVerifier{}, Ed25519Verifier{})
	addr, err := registry.Verify(decoded)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if addr != id.Address() {
		t.Fatalf("expected address %s, got %s", id.Address(), addr)
	}
}
