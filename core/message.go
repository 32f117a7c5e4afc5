package core

// Message (C3) implements the request/response data model of spec §4.1/§6:
// small-integer-keyed CBOR maps tagged 10001 (request) / 10002 (response),
// with fields omitted when at their default value.

import (
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"
)

const (
	cborTagAddress  = 10000
	cborTagRequest  = 10001
	cborTagResponse = 10002
)

// Attribute is one (id, arguments…) entry in a message's attribute set.
type Attribute struct {
	ID        uint64   `cbor:"0,keyasint"`
	Arguments []string `cbor:"1,keyasint,omitempty"`
}

// Message is a signed request envelope's payload.
type Message struct {
	Version    uint8       `cbor:"0,keyasint"`
	From       Address     `cbor:"1,keyasint,omitempty"`
	To         Address     `cbor:"2,keyasint,omitempty"`
	Method     string      `cbor:"3,keyasint"`
	Data       []byte      `cbor:"4,keyasint,omitempty"`
	Timestamp  time.Time   `cbor:"5,keyasint"`
	ID         *uint64     `cbor:"6,keyasint,omitempty"`
	Nonce      []byte      `cbor:"7,keyasint,omitempty"`
	Attributes []Attribute `cbor:"8,keyasint,omitempty"`
}

// ResponseResult carries either a success payload or a Reason, never both.
type ResponseResult struct {
	Data  []byte  `cbor:"0,keyasint,omitempty"`
	Error *Reason `cbor:"1,keyasint,omitempty"`
}

func (r ResponseResult) IsError() bool { return r.Error != nil }

// Response is a signed response envelope's payload.
type Response struct {
	Version    uint8          `cbor:"0,keyasint"`
	From       Address        `cbor:"1,keyasint,omitempty"`
	To         Address        `cbor:"2,keyasint,omitempty"`
	Timestamp  time.Time      `cbor:"5,keyasint"`
	ID         *uint64        `cbor:"6,keyasint,omitempty"`
	Nonce      []byte         `cbor:"7,keyasint,omitempty"`
	Attributes []Attribute    `cbor:"8,keyasint,omitempty"`
	Result     ResponseResult `cbor:"4,keyasint"`
}

var msgCBOREnc, _ = cbor.CanonicalEncOptions().EncMode()

// EncodeRequest serializes msg (auto-filling Timestamp if zero), wraps it in
// CBOR tag 10001, and signs it with identity.
func EncodeRequest(msg Message, identity Identity) (*Envelope, error) {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}
	if msg.From == (Address{}) {
		msg.From = identity.Address()
	}
	payload, err := marshalTagged(cborTagRequest, msg)
	if err != nil {
		return nil, fmt.Errorf("message: encode request: %w", err)
	}
	return identity.Sign(payload)
}

// EncodeResponse mirrors EncodeRequest for the response side (CBOR tag
// 10002).
func EncodeResponse(resp Response, identity Identity) (*Envelope, error) {
	if resp.Timestamp.IsZero() {
		resp.Timestamp = time.Now().UTC()
	}
	if resp.From == (Address{}) {
		resp.From = identity.Address()
	}
	payload, err := marshalTagged(cborTagResponse, resp)
	if err != nil {
		return nil, fmt.Errorf("message: encode response: %w", err)
	}
	return identity.Sign(payload)
}

func marshalTagged(tag uint64, v any) ([]byte, error) {
	return msgCBOREnc.Marshal(cbor.Tag{Number: tag, Content: v})
}

// DecodeRequest verifies env against registry, decodes the tag-10001
// payload, and enforces that the verified address matches msg.From under
// the Matches relation (spec §4.1). resolver, if non-nil, is consulted to
// translate a delegation chain into an effective sender.
func DecodeRequest(env *Envelope, registry Verifier, resolver DelegationResolver) (Message, Address, error) {
	var msg Message
	addr, err := verifyAndUnmarshal(env, registry, cborTagRequest, &msg)
	if err != nil {
		return Message{}, Address{}, err
	}
	effective := addr
	if resolver != nil {
		if chain, ok := resolver.ChainFor(env); ok {
			effective, err = ResolveDelegation(chain, addr)
			if err != nil {
				return Message{}, Address{}, err
			}
		}
	}
	if !effective.Matches(msg.From) {
		return Message{}, Address{}, &Reason{Code: CodeInvalidFromIdentity,
			Message: "verified identity {verified} does not match from field {from}",
			Arguments: map[string]string{"verified": effective.String(), "from": msg.From.String()}}
	}
	return msg, effective, nil
}

// DecodeResponse mirrors DecodeRequest, enforcing the `to` field instead.
func DecodeResponse(env *Envelope, registry Verifier) (Response, Address, error) {
	var resp Response
	addr, err := verifyAndUnmarshal(env, registry, cborTagResponse, &resp)
	if err != nil {
		return Response{}, Address{}, err
	}
	if !addr.Matches(resp.To) {
		return Response{}, Address{}, &Reason{Code: CodeInvalidToIdentity,
			Message: "verified identity {verified} does not match to field {to}",
			Arguments: map[string]string{"verified": addr.String(), "to": resp.To.String()}}
	}
	return resp, addr, nil
}

func verifyAndUnmarshal(env *Envelope, registry Verifier, wantTag uint64, out any) (Address, error) {
	if env == nil || len(env.Payload) == 0 {
		return Address{}, &Reason{Code: CodeEmptyEnvelope, Message: "empty envelope"}
	}
	addr, err := registry.Verify(env)
	if err != nil {
		return Address{}, err
	}
	var tag cbor.Tag
	if err := cbor.Unmarshal(env.Payload, &tag); err != nil {
		return Address{}, &Reason{Code: CodeDeserialize, Message: err.Error()}
	}
	if tag.Number != wantTag {
		return Address{}, &Reason{Code: CodeDeserialize,
			Message: "unexpected cbor tag {tag}", Arguments: map[string]string{"tag": fmt.Sprint(tag.Number)}}
	}
	content, err := msgCBOREnc.Marshal(tag.Content)
	if err != nil {
		return Address{}, &Reason{Code: CodeDeserialize, Message: err.Error()}
	}
	if err := cbor.Unmarshal(content, out); err != nil {
		return Address{}, &Reason{Code: CodeDeserialize, Message: err.Error()}
	}
	return addr, nil
}
