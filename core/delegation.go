package core

// Delegation certificates let one identity act on behalf of another for a
// bounded time window (spec §4.1). A chain is walked from the envelope's
// signer outward: each certificate must name the current address as its
// delegate and hands the walk on to its delegator, the last certificate must
// carry `final=true`, and none may be expired at verification time.

import (
	"time"
)

// DelegationCert is one link in a delegation chain.
type DelegationCert struct {
	Delegator Address   `cbor:"0,keyasint"`
	Delegate  Address   `cbor:"1,keyasint"`
	ExpiresAt time.Time `cbor:"2,keyasint"`
	Final     bool      `cbor:"3,keyasint"`
}

// DelegationResolver extracts a request's delegation chain, if it carries
// one, keyed off the envelope that produced it.
type DelegationResolver interface {
	ChainFor(env *Envelope) ([]DelegationCert, bool)
}

// ResolveDelegation walks certs starting from signer (the address that
// actually produced the envelope's signature) and returns the effective
// principal the request should be attributed to.
//
// certs[0].Delegate must match signer, each later certificate's Delegate
// must match the previous certificate's Delegator, and the result is the
// last certificate's Delegator; that last certificate must be Final, and no
// certificate may be expired.
func ResolveDelegation(certs []DelegationCert, signer Address) (Address, error) {
	if len(certs) == 0 {
		return signer, nil
	}
	now := time.Now().UTC()
	cur := signer
	for i, c := range certs {
		if !c.Delegate.Matches(cur) {
			return Address{}, NewReason(CodeInvalidFromIdentity,
				"delegation chain broken at index {index}", map[string]string{"index": itoa(i)})
		}
		if now.After(c.ExpiresAt) {
			return Address{}, NewReason(CodeInvalidFromIdentity,
				"delegation certificate at index {index} expired", map[string]string{"index": itoa(i)})
		}
		cur = c.Delegator
		if i == len(certs)-1 && !c.Final {
			return Address{}, NewReason(CodeInvalidFromIdentity,
				"delegation chain missing final certificate", nil)
		}
	}
	return cur, nil
}

func itoa(i int) string {
	if i == 0 {
		return "0"
	}
	neg := i < 0
	if neg {
		i = -i
	}
	var buf [20]byte
	pos := len(buf)
	for i > 0 {
		pos--
		buf[pos] = byte('0' + i%10)
		i /= 10
	}
	if neg {
		pos--
		buf[pos] = '-'
	}
	return string(buf[pos:])
}
