package core

// Envelope (C2) implements the COSE-Sign1-equivalent signed container spec
// §4.1 describes: sign, verify, keyset carriage, and a WebAuthn variant.
// Grounded on the COSE/CBOR signer pattern in
// other_examples/…massifs-rootsigner.go (fxamacker/cbor + veraison/go-cose),
// generalised from a single-issuer root-signing scheme to a pluggable,
// multi-backend verifier the way the teacher's AccessController composes
// small concrete backends behind one entry point (core/access_control.go).

import (
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha512"
	"fmt"
	"math/big"

	"github.com/fxamacker/cbor/v2"
	"github.com/veraison/go-cose"
)

// protected header labels, private-use range (>= -65536 per COSE registry).
const (
	labelKeyset   = int64(-70001)
	labelWebAuthn = int64(-70002)
)

// PublicKeyEntry is one signer's material as carried in the protected
// header's keyset.
type PublicKeyEntry struct {
	Address   Address `cbor:"0,keyasint"`
	PublicKey []byte  `cbor:"1,keyasint"`
}

// Envelope is the signed-object container transported over the wire.
type Envelope struct {
	msg *cose.Sign1Message

	// Decoded/cached protected-header fields, populated by Verify/Decode.
	Algorithm cose.Algorithm
	KeyID     []byte
	Keyset    []PublicKeyEntry
	WebAuthn  bool

	// Unprotected WebAuthn fields (spec §4.1).
	AuthData    []byte
	ClientData  []byte
	AuthnSig    []byte

	Payload []byte
}

var cborEnc, _ = cbor.CanonicalEncOptions().EncMode()

// Identity is anything that can produce a signed envelope for a payload.
type Identity interface {
	Address() Address
	Sign(payload []byte) (*Envelope, error)
}

// Ed25519Identity signs with an Ed25519 keypair (the teacher's wallet.go
// backend).
type Ed25519Identity struct {
	addr Address
	priv ed25519.PrivateKey
	pub  ed25519.PublicKey
}

func NewEd25519Identity(priv ed25519.PrivateKey) *Ed25519Identity {
	pub := priv.Public().(ed25519.PublicKey)
	return &Ed25519Identity{addr: NewPublicKeyAddress(pub), priv: priv, pub: pub}
}

func (id *Ed25519Identity) Address() Address { return id.addr }

func (id *Ed25519Identity) Sign(payload []byte) (*Envelope, error) {
	signer, err := cose.NewSigner(cose.AlgorithmEdDSA, id.priv)
	if err != nil {
		return nil, fmt.Errorf("envelope: ed25519 signer: %w", err)
	}
	msg := cose.NewSign1Message()
	msg.Headers.Protected.SetAlgorithm(cose.AlgorithmEdDSA)
	msg.Headers.Protected[cose.HeaderLabelKeyID] = id.addr.Bytes()
	msg.Headers.Protected[labelKeyset] = []PublicKeyEntry{{Address: id.addr, PublicKey: id.pub}}
	msg.Payload = payload
	if err := msg.Sign(rand.Reader, nil, signer); err != nil {
		return nil, fmt.Errorf("envelope: sign: %w", err)
	}
	return &Envelope{
		msg:       msg,
		Algorithm: cose.AlgorithmEdDSA,
		KeyID:     id.addr.Bytes(),
		Keyset:    []PublicKeyEntry{{Address: id.addr, PublicKey: id.pub}},
		Payload:   payload,
	}, nil
}

// AnonymousIdentity produces unsigned envelopes for the anonymous sender.
type AnonymousIdentity struct{}

func (AnonymousIdentity) Address() Address { return AnonymousAddress }

func (AnonymousIdentity) Sign(payload []byte) (*Envelope, error) {
	msg := cose.NewSign1Message()
	msg.Headers.Protected[cose.HeaderLabelAlgorithm] = "none"
	msg.Payload = payload
	return &Envelope{Algorithm: 0, Payload: payload, msg: msg}, nil
}

// WebAuthnIdentity additionally attaches authData/clientData/signature as
// unprotected headers, per spec §4.1. The WebAuthn challenge is
// cbor({protected_header, sha512(payload)}).
type WebAuthnIdentity struct {
	addr       Address
	priv       *ecdsa.PrivateKey
	pub        *ecdsa.PublicKey
	authData   []byte
	clientData func(challenge []byte) []byte // builds clientDataJSON around the b64 challenge
}

func NewWebAuthnIdentity(priv *ecdsa.PrivateKey, authData []byte, clientData func([]byte) []byte) *WebAuthnIdentity {
	pub := &priv.PublicKey
	return &WebAuthnIdentity{addr: NewPublicKeyAddress(ecPointBytes(pub)), priv: priv, pub: pub, authData: authData, clientData: clientData}
}

// ecPointBytes flattens an EC public key into fixed-width X||Y, the form
// carried in a keyset entry's PublicKey field for ES256 signers. Each
// coordinate is left-padded to the curve's byte size so the split back into
// X and Y in ecdsaPublicKeyFromBytes is unambiguous.
func ecPointBytes(pub *ecdsa.PublicKey) []byte {
	size := (pub.Curve.Params().BitSize + 7) / 8
	buf := make([]byte, 2*size)
	pub.X.FillBytes(buf[:size])
	pub.Y.FillBytes(buf[size:])
	return buf
}

// ecdsaPublicKeyFromBytes reconstructs the P-256 public key ecPointBytes
// flattened into a keyset entry — go-cose's ES256 verifier requires a real
// *ecdsa.PublicKey, not the raw point encoding envelopes carry on the wire.
func ecdsaPublicKeyFromBytes(b []byte) (*ecdsa.PublicKey, error) {
	curve := elliptic.P256()
	size := (curve.Params().BitSize + 7) / 8
	if len(b) != 2*size {
		return nil, fmt.Errorf("envelope: invalid ES256 public key length %d", len(b))
	}
	x := new(big.Int).SetBytes(b[:size])
	y := new(big.Int).SetBytes(b[size:])
	if !curve.IsOnCurve(x, y) {
		return nil, fmt.Errorf("envelope: ES256 public key is not on curve")
	}
	return &ecdsa.PublicKey{Curve: curve, X: x, Y: y}, nil
}

func (id *WebAuthnIdentity) Address() Address { return id.addr }

func (id *WebAuthnIdentity) Sign(payload []byte) (*Envelope, error) {
	signer, err := cose.NewSigner(cose.AlgorithmES256, id.priv)
	if err != nil {
		return nil, fmt.Errorf("envelope: webauthn signer: %w", err)
	}
	msg := cose.NewSign1Message()
	msg.Headers.Protected.SetAlgorithm(cose.AlgorithmES256)
	msg.Headers.Protected[cose.HeaderLabelKeyID] = id.addr.Bytes()
	msg.Headers.Protected[labelKeyset] = []PublicKeyEntry{{Address: id.addr, PublicKey: ecPointBytes(id.pub)}}
	msg.Headers.Protected[labelWebAuthn] = true
	msg.Payload = payload

	protectedBytes, err := msg.Headers.MarshalProtected()
	if err != nil {
		return nil, fmt.Errorf("envelope: marshal protected: %w", err)
	}
	sum := sha512.Sum512(payload)
	challenge, err := cborEnc.Marshal([2][]byte{protectedBytes, sum[:]})
	if err != nil {
		return nil, fmt.Errorf("envelope: marshal challenge: %w", err)
	}
	clientData := id.clientData(challenge)

	toSign := append(append([]byte{}, id.authData...), sha256Sum(clientData)[:]...)
	sig, err := signer.Sign(rand.Reader, toSign)
	if err != nil {
		return nil, fmt.Errorf("envelope: webauthn sign: %w", err)
	}
	msg.Headers.Unprotected[labelWebAuthn] = struct {
		AuthData   []byte
		ClientData []byte
		Signature  []byte
	}{id.authData, clientData, sig}

	return &Envelope{
		msg:        msg,
		Algorithm:  cose.AlgorithmES256,
		KeyID:      id.addr.Bytes(),
		Keyset:     []PublicKeyEntry{{Address: id.addr, PublicKey: ecPointBytes(id.pub)}},
		WebAuthn:   true,
		AuthData:   id.authData,
		ClientData: clientData,
		AuthnSig:   sig,
		Payload:    payload,
	}, nil
}

// MarshalCBOR serializes the envelope as a COSE_Sign1 structure.
func (e *Envelope) MarshalCBOR() ([]byte, error) {
	if e.msg == nil {
		return nil, fmt.Errorf("envelope: not signed")
	}
	return e.msg.MarshalCBOR()
}

// DecodeEnvelope parses the wire bytes without verifying the signature.
func DecodeEnvelope(b []byte) (*Envelope, error) {
	msg := cose.NewSign1Message()
	if err := msg.UnmarshalCBOR(b); err != nil {
		return nil, fmt.Errorf("envelope: decode: %w", err)
	}
	e := &Envelope{msg: msg, Payload: msg.Payload}
	if alg, ok := msg.Headers.Protected[cose.HeaderLabelAlgorithm]; ok {
		switch a := alg.(type) {
		case cose.Algorithm:
			e.Algorithm = a
		case int64:
			e.Algorithm = cose.Algorithm(a)
		}
	}
	if kid, ok := msg.Headers.Protected[cose.HeaderLabelKeyID]; ok {
		if b, ok := kid.([]byte); ok {
			e.KeyID = b
		}
	}
	if ks, ok := msg.Headers.Protected[labelKeyset]; ok {
		if raw, err := cborEnc.Marshal(ks); err == nil {
			_ = cbor.Unmarshal(raw, &e.Keyset)
		}
	}
	if wa, ok := msg.Headers.Protected[labelWebAuthn]; ok {
		if b, ok := wa.(bool); ok {
			e.WebAuthn = b
		}
	}
	if wa, ok := msg.Headers.Unprotected[labelWebAuthn]; ok {
		var f struct{ AuthData, ClientData, Signature []byte }
		if raw, err := cborEnc.Marshal(wa); err == nil && cbor.Unmarshal(raw, &f) == nil {
			e.AuthData, e.ClientData, e.AuthnSig = f.AuthData, f.ClientData, f.Signature
		}
	}
	return e, nil
}

// Verifier resolves the address that produced an envelope's signature.
type Verifier interface {
	Verify(e *Envelope) (Address, error)
}

// Registry composes multiple algorithm backends and accepts the first whose
// algorithm tag matches (spec §4.1's "pluggable verifier").
type Registry struct {
	backends []Verifier
}

func NewRegistry(backends ...Verifier) *Registry { return &Registry{backends: backends} }

func (r *Registry) Verify(e *Envelope) (Address, error) {
	for _, b := range r.backends {
		addr, err := b.Verify(e)
		if err == errBackendSkip {
			continue
		}
		return addr, err
	}
	return Address{}, &Reason{Code: CodeUnknownAlgorithm, Message: "no verifier backend matched"}
}

var errBackendSkip = fmt.Errorf("envelope: backend does not handle this algorithm")

// Ed25519Verifier verifies envelopes signed by Ed25519Identity.
type Ed25519Verifier struct{}

func (Ed25519Verifier) Verify(e *Envelope) (Address, error) {
	if e.Algorithm != cose.AlgorithmEdDSA {
		return Address{}, errBackendSkip
	}
	entry, err := findKeysetEntry(e)
	if err != nil {
		return Address{}, err
	}
	verifier, err := cose.NewVerifier(cose.AlgorithmEdDSA, ed25519.PublicKey(entry.PublicKey))
	if err != nil {
		return Address{}, &Reason{Code: CodeInvalidSignature, Message: err.Error()}
	}
	if err := e.msg.Verify(nil, verifier); err != nil {
		return Address{}, &Reason{Code: CodeInvalidSignature, Message: err.Error()}
	}
	return NewPublicKeyAddress(entry.PublicKey), nil
}

// AnonymousVerifier accepts only unsigned anonymous envelopes.
type AnonymousVerifier struct{}

func (AnonymousVerifier) Verify(e *Envelope) (Address, error) {
	if e.Algorithm != 0 {
		return Address{}, errBackendSkip
	}
	return AnonymousAddress, nil
}

// WebAuthnVerifier checks the WebAuthn challenge/origin/RP constraints
// described in spec §4.1 in addition to the ES256 signature.
type WebAuthnVerifier struct {
	AllowedOrigins []string
	RelyingPartyID string
}

func (v WebAuthnVerifier) Verify(e *Envelope) (Address, error) {
	if !e.WebAuthn {
		return Address{}, errBackendSkip
	}
	entry, err := findKeysetEntry(e)
	if err != nil {
		return Address{}, err
	}
	pub, err := ecdsaPublicKeyFromBytes(entry.PublicKey)
	if err != nil {
		return Address{}, &Reason{Code: CodeInvalidSignature, Message: err.Error()}
	}
	verifier, err := cose.NewVerifier(cose.AlgorithmES256, pub)
	if err != nil {
		return Address{}, &Reason{Code: CodeInvalidSignature, Message: err.Error()}
	}
	toVerify := append(append([]byte{}, e.AuthData...), sha256Sum(e.ClientData)[:]...)
	if err := verifier.Verify(toVerify, e.AuthnSig); err != nil {
		return Address{}, &Reason{Code: CodeInvalidSignature, Message: err.Error()}
	}
	if !v.originAllowed(e.ClientData) {
		return Address{}, &Reason{Code: CodeInvalidSignature, Message: "webauthn origin not allowed"}
	}
	return NewPublicKeyAddress(entry.PublicKey), nil
}

func (v WebAuthnVerifier) originAllowed(clientDataJSON []byte) bool {
	for _, o := range v.AllowedOrigins {
		if len(o) > 0 && containsJSONValue(clientDataJSON, "origin", o) {
			return true
		}
	}
	return len(v.AllowedOrigins) == 0
}

func findKeysetEntry(e *Envelope) (PublicKeyEntry, error) {
	for _, entry := range e.Keyset {
		if string(entry.Address.Bytes()) == string(e.KeyID) {
			return entry, nil
		}
	}
	return PublicKeyEntry{}, &Reason{Code: CodeUnknownAlgorithm, Message: "key id not present in keyset"}
}
