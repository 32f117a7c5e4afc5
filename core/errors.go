package core

// Reason is the wire-level error record (spec §6/§7): a code, an optional
// message template with `{field}` placeholders, and the named arguments used
// to resolve them at display time. Negative codes are transport errors,
// 0-999 are application errors, and >=1000 are extension errors.
import (
	"fmt"
	"strings"
)

type Code int64

const (
	// Transport (<0).
	CodeEmptyEnvelope       Code = -1
	CodeDeserialize         Code = -2
	CodeInvalidSignature    Code = -3
	CodeUnknownAlgorithm    Code = -4
	CodeInvalidFromIdentity Code = -5
	CodeInvalidToIdentity   Code = -6
	CodeDuplicatedMessage   Code = -7

	// Authorization.
	CodeRoleMissing        Code = 10
	CodeFeatureMissing     Code = 11
	CodeAnonymousDenied    Code = 12
	CodeSubresourceDenied  Code = 13
	CodeOwnerOnly          Code = 14
	CodeAnonAltDenied      Code = 15
	CodeSubresAltUnsupport Code = 16

	// Ledger domain.
	CodeUnknownSymbol        Code = 100
	CodeInsufficientFunds    Code = 101
	CodeDestinationIsSource  Code = 102
	CodeAmountZero           Code = 103
	CodeOverMaximumSupply    Code = 104
	CodeDistributeZero       Code = 105
	CodeMissingFunds         Code = 106
	CodePartialBurnDisabled  Code = 107
	CodeTokenInfoNotFound    Code = 108
	CodeExtInfoNotFound      Code = 109
	CodeInvalidSender        Code = 110

	// KV-store domain.
	CodeKVPermissionDenied Code = 200
	CodeKeyDisabled        Code = 201
	CodeKeyNotFound        Code = 202
	CodeCannotDisableEmpty Code = 203
	CodeInvalidInitialHash Code = 204
	CodeKeyTooLarge        Code = 205
	CodeValueTooLarge      Code = 206

	// Multisig domain.
	CodeThresholdNotMet  Code = 300
	CodeMultisigTimedOut Code = 301
	CodeAlreadyExecuted  Code = 302
	CodeAlreadyWithdrawn Code = 303
	CodeTokenNotFound    Code = 304

	// Storage.
	CodeApplyFailed  Code = 400
	CodeGetFailed    Code = 401
	CodeCommitFailed Code = 402
	CodeOpenFailed   Code = 403

	// Migration.
	CodeUnableToLoadMigrations Code = 500
	CodeUnknownMigration       Code = 501
	CodeConflictingActivation  Code = 502
	CodeInvalidMethodName      Code = 503
)

// Reason is a typed, template-able error carried in response envelopes.
type Reason struct {
	Code      Code              `cbor:"0,keyasint"`
	Message   string            `cbor:"1,keyasint,omitempty"`
	Arguments map[string]string `cbor:"2,keyasint,omitempty"`
}

func (r *Reason) Error() string {
	if r.Message == "" {
		return fmt.Sprintf("error %d", r.Code)
	}
	msg := r.Message
	for k, v := range r.Arguments {
		msg = strings.ReplaceAll(msg, "{"+k+"}", v)
	}
	return msg
}

// NewReason builds a Reason, formatting msg with `{field}` placeholders
// resolved from args.
func NewReason(code Code, msg string, args map[string]string) *Reason {
	return &Reason{Code: code, Message: msg, Arguments: args}
}

func ErrInsufficientFunds(addr Address, symbol Address) *Reason {
	return NewReason(CodeInsufficientFunds, "account {account} does not have enough funds of {symbol}",
		map[string]string{"account": addr.String(), "symbol": symbol.String()})
}

func ErrUnknownSymbol(symbol Address) *Reason {
	return NewReason(CodeUnknownSymbol, "symbol {symbol} not found",
		map[string]string{"symbol": symbol.String()})
}

func ErrRoleMissing(addr Address, role string) *Reason {
	return NewReason(CodeRoleMissing, "identity {id} is missing role {role}",
		map[string]string{"id": addr.String(), "role": role})
}

func ErrFeatureMissing(addr Address, feature string) *Reason {
	return NewReason(CodeFeatureMissing, "account {account} does not have feature {feature}",
		map[string]string{"account": addr.String(), "feature": feature})
}

func ErrKeyNotFound(key []byte) *Reason {
	return NewReason(CodeKeyNotFound, "key {key} not found", map[string]string{"key": string(key)})
}

func ErrKeyDisabled(key []byte) *Reason {
	return NewReason(CodeKeyDisabled, "key {key} is disabled", map[string]string{"key": string(key)})
}
