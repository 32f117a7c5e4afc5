package core

// Address identifiers (C1). Grounded on the teacher's fixed-width Address
// array idiom (previously core/common_structs.go's Address [20]byte) and
// generalised to the tagged kind+hash+subresource layout this domain needs.

import (
	"encoding/base32"
	"encoding/binary"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/sha3"
)

// Kind discriminates the four address variants.
type Kind byte

const (
	KindAnonymous   Kind = 0x00
	KindPublicKey   Kind = 0x01
	KindSubresource Kind = 0x02
	KindIllegal     Kind = 0xff
)

func (k Kind) String() string {
	switch k {
	case KindAnonymous:
		return "anonymous"
	case KindPublicKey:
		return "public-key"
	case KindSubresource:
		return "subresource"
	case KindIllegal:
		return "illegal"
	default:
		return fmt.Sprintf("kind(%#x)", byte(k))
	}
}

// Address is the 33-byte tagged principal identifier: 1 kind byte, 28 bytes
// of public-key hash (zero for anonymous/illegal), and a 4-byte big-endian
// subresource index (only meaningful for KindSubresource, top bit always 0
// since the index is 31 bits wide).
type Address [33]byte

// AnonymousAddress is the single all-zero anonymous identity.
var AnonymousAddress = Address{}

// IllegalAddress is the sentinel used to block an operation outright.
var IllegalAddress = func() Address {
	var a Address
	a[0] = byte(KindIllegal)
	return a
}()

// NewPublicKeyAddress hashes a canonical public-key encoding with SHA3-224
// and returns the resulting public-key address.
func NewPublicKeyAddress(pubKeyDER []byte) Address {
	var a Address
	a[0] = byte(KindPublicKey)
	h := sha3.Sum224(pubKeyDER)
	copy(a[1:29], h[:])
	return a
}

// WithSubresource derives a subresource address from a public-key address.
// It returns an error if called on anything other than a public-key address,
// or if index does not fit in 31 bits.
func (a Address) WithSubresource(index uint32) (Address, error) {
	if a.Kind() != KindPublicKey {
		return Address{}, fmt.Errorf("subresource: parent must be a public-key address, got %s", a.Kind())
	}
	if index&0x80000000 != 0 {
		return Address{}, errors.New("subresource: index must fit in 31 bits")
	}
	out := a
	out[0] = byte(KindSubresource)
	binary.BigEndian.PutUint32(out[29:33], index)
	return out, nil
}

// Kind returns the address's discriminator byte.
func (a Address) Kind() Kind { return Kind(a[0]) }

// IsAnonymous reports whether a is the anonymous identity.
func (a Address) IsAnonymous() bool { return a.Kind() == KindAnonymous }

// SubresourceIndex returns the subresource index and true iff a is a
// subresource address.
func (a Address) SubresourceIndex() (uint32, bool) {
	if a.Kind() != KindSubresource {
		return 0, false
	}
	return binary.BigEndian.Uint32(a[29:33]), true
}

// PublicKeyHash returns the 28-byte SHA3-224 hash carried by public-key and
// subresource addresses.
func (a Address) PublicKeyHash() ([28]byte, bool) {
	var h [28]byte
	switch a.Kind() {
	case KindPublicKey, KindSubresource:
		copy(h[:], a[1:29])
		return h, true
	default:
		return h, false
	}
}

// Matches implements the invariant-1 matching relation (spec §8): a
// public-key address matches any of its own subresource addresses and vice
// versa; anonymous only matches anonymous; illegal only matches illegal.
func (a Address) Matches(b Address) bool {
	if a == b {
		return true
	}
	ak, bk := a.Kind(), b.Kind()
	if ak == KindAnonymous || bk == KindAnonymous || ak == KindIllegal || bk == KindIllegal {
		return false
	}
	ah, aok := a.PublicKeyHash()
	bh, bok := b.PublicKeyHash()
	return aok && bok && ah == bh
}

// Bytes returns a copy of the raw 33-byte encoding.
func (a Address) Bytes() []byte {
	out := make([]byte, 33)
	copy(out, a[:])
	return out
}

// AddressFromBytes parses the raw 33-byte encoding.
func AddressFromBytes(b []byte) (Address, error) {
	var a Address
	if len(b) != 33 {
		return a, fmt.Errorf("address: want 33 bytes, got %d", len(b))
	}
	copy(a[:], b)
	return a, nil
}

var addrEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// crc16XModem computes the CRC-16/XMODEM checksum used by the textual form.
func crc16XModem(data []byte) uint16 {
	var crc uint16
	for _, b := range data {
		crc ^= uint16(b) << 8
		for i := 0; i < 8; i++ {
			if crc&0x8000 != 0 {
				crc = (crc << 1) ^ 0x1021
			} else {
				crc <<= 1
			}
		}
	}
	return crc
}

// String renders the `m`-prefixed Base32 textual form with an appended
// CRC-16/XMODEM checksum (spec §6).
func (a Address) String() string {
	if a.IsAnonymous() {
		return "maa"
	}
	payload := a.Bytes()
	var crc [2]byte
	binary.BigEndian.PutUint16(crc[:], crc16XModem(payload))
	full := append(payload, crc[:]...)
	return "m" + strings.ToLower(addrEncoding.EncodeToString(full))
}

// ParseAddress parses the textual form produced by String, verifying the
// checksum.
func ParseAddress(s string) (Address, error) {
	if s == "maa" {
		return AnonymousAddress, nil
	}
	if len(s) == 0 || s[0] != 'm' {
		return Address{}, errors.New("address: missing 'm' prefix")
	}
	raw, err := addrEncoding.DecodeString(strings.ToUpper(s[1:]))
	if err != nil {
		return Address{}, fmt.Errorf("address: base32 decode: %w", err)
	}
	if len(raw) != 35 {
		return Address{}, fmt.Errorf("address: want 35 decoded bytes, got %d", len(raw))
	}
	payload, crc := raw[:33], raw[33:35]
	if binary.BigEndian.Uint16(crc) != crc16XModem(payload) {
		return Address{}, errors.New("address: checksum mismatch")
	}
	return AddressFromBytes(payload)
}
