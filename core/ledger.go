package core

// Ledger (C6) is the token ledger: per-symbol balances, supply tracking and
// account-count bookkeeping, and the mint/burn/send/create/update
// operations of spec §4.4. Grounded on the teacher's account_and_balance_
// operations.go (mutex-guarded balance map keyed by address string) and
// storage.go's authenticated KV layer, replacing the WAL/UTXO block ledger
// this file used to hold with the spec's symbol-table semantics.

import (
	"sync"

	"github.com/fxamacker/cbor/v2"
)

var ledgerCBOR, _ = cbor.CanonicalEncOptions().EncMode()

// TokenInfo is the durable record for one token symbol. It tracks two
// distinct account counters (spec §4.4.1): AccountTotalCount is the
// lifetime number of distinct addresses that have ever held a positive
// balance, and never decreases; NonZeroAccountTotalCount is the number of
// addresses currently holding a positive balance, incremented on a 0 ->
// positive transition and decremented on positive -> 0.
type TokenInfo struct {
	Symbol                   Address `cbor:"0,keyasint"`
	Name                     string  `cbor:"1,keyasint"`
	Ticker                   string  `cbor:"2,keyasint"`
	Decimals                 uint8   `cbor:"3,keyasint"`
	Owner                    Address `cbor:"4,keyasint"`
	CirculatingSupply        uint64  `cbor:"5,keyasint"`
	TotalSupply              uint64  `cbor:"6,keyasint"`
	MaximumSupply            uint64  `cbor:"7,keyasint"` // 0 means unbounded
	AccountTotalCount        uint64  `cbor:"8,keyasint"`
	NonZeroAccountTotalCount uint64  `cbor:"9,keyasint"`
}

// TokenExtendedInfo carries optional memo/visual-logo metadata (spec §4.4).
type TokenExtendedInfo struct {
	Memo       string `cbor:"0,keyasint,omitempty"`
	VisualLogo []byte `cbor:"1,keyasint,omitempty"`
}

// Ledger wraps a Storage with the token-ledger schema. It embeds Storage so
// callers that only need raw KV access (AccessController, EventManager) can
// keep using it directly.
type Ledger struct {
	*Storage
	mu sync.Mutex
}

func NewLedger(s *Storage) *Ledger { return &Ledger{Storage: s} }

func balanceKey(addr, symbol Address) []byte {
	return []byte("/balances/" + addr.String() + "/" + symbol.String())
}

func tokenInfoKey(symbol Address) []byte { return []byte("/token/info/" + symbol.String()) }
func tokenExtKey(symbol Address) []byte  { return []byte("/token/info/" + symbol.String() + "/ext") }
func symbolsKey() []byte                 { return []byte("/symbols") }

func holderKey(addr, symbol Address) []byte {
	return []byte("/holders/" + symbol.String() + "/" + addr.String())
}

// markHolder records addr as a distinct lifetime holder of symbol, once,
// forever; the marker is never removed even if the balance later drains to
// zero, so AccountTotalCount only ever counts each address once.
func (l *Ledger) markHolder(addr, symbol Address) (alreadyMarked bool, err error) {
	if _, err := l.GetState(holderKey(addr, symbol)); err == nil {
		return true, nil
	}
	return false, l.SetState(holderKey(addr, symbol), []byte{1})
}

// creditHolder applies the two-counter bookkeeping of TokenInfo when addr's
// balance of symbol transitions from zero to positive.
func (l *Ledger) creditHolder(info *TokenInfo, addr, symbol Address) error {
	info.NonZeroAccountTotalCount++
	seen, err := l.markHolder(addr, symbol)
	if err != nil {
		return err
	}
	if !seen {
		info.AccountTotalCount++
	}
	return nil
}

// Balance returns addr's balance of symbol, 0 if never credited.
func (l *Ledger) Balance(addr, symbol Address) (uint64, error) {
	v, err := l.GetState(balanceKey(addr, symbol))
	if err != nil {
		return 0, nil
	}
	return beUint64(v), nil
}

func (l *Ledger) setBalance(addr, symbol Address, amount uint64) error {
	var buf [8]byte
	putBeUint64(buf[:], amount)
	return l.SetState(balanceKey(addr, symbol), buf[:])
}

// TokenInfoOf loads the durable record for symbol.
func (l *Ledger) TokenInfoOf(symbol Address) (TokenInfo, error) {
	v, err := l.GetState(tokenInfoKey(symbol))
	if err != nil {
		return TokenInfo{}, ErrUnknownSymbol(symbol)
	}
	var info TokenInfo
	if err := cbor.Unmarshal(v, &info); err != nil {
		return TokenInfo{}, &Reason{Code: CodeTokenInfoNotFound, Message: err.Error()}
	}
	return info, nil
}

func (l *Ledger) putTokenInfo(info TokenInfo) error {
	b, err := ledgerCBOR.Marshal(info)
	if err != nil {
		return err
	}
	return l.SetState(tokenInfoKey(info.Symbol), b)
}

// Symbols lists every registered token symbol.
func (l *Ledger) Symbols() ([]Address, error) {
	v, err := l.GetState(symbolsKey())
	if err != nil {
		return nil, nil
	}
	var syms []Address
	if err := cbor.Unmarshal(v, &syms); err != nil {
		return nil, &Reason{Code: CodeTokenInfoNotFound, Message: err.Error()}
	}
	return syms, nil
}

func (l *Ledger) addSymbol(sym Address) error {
	syms, err := l.Symbols()
	if err != nil {
		return err
	}
	for _, s := range syms {
		if s == sym {
			return nil
		}
	}
	syms = append(syms, sym)
	b, err := ledgerCBOR.Marshal(syms)
	if err != nil {
		return err
	}
	return l.SetState(symbolsKey(), b)
}

// CreateToken registers a new symbol owned by owner. maximumSupply of 0
// means unbounded.
func (l *Ledger) CreateToken(symbol Address, name, ticker string, decimals uint8, owner Address, maximumSupply uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, err := l.GetState(tokenInfoKey(symbol)); err == nil {
		return NewReason(CodeTokenInfoNotFound, "symbol {symbol} already exists",
			map[string]string{"symbol": symbol.String()})
	}
	info := TokenInfo{Symbol: symbol, Name: name, Ticker: ticker, Decimals: decimals, Owner: owner, MaximumSupply: maximumSupply}
	if err := l.putTokenInfo(info); err != nil {
		return err
	}
	return l.addSymbol(symbol)
}

// Mint credits amount of symbol to to, respecting the maximum supply.
func (l *Ledger) Mint(symbol, to Address, amount uint64) error {
	if amount == 0 {
		return NewReason(CodeAmountZero, "mint amount must be non-zero", nil)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	info, err := l.TokenInfoOf(symbol)
	if err != nil {
		return err
	}
	if info.MaximumSupply != 0 && info.TotalSupply+amount > info.MaximumSupply {
		return NewReason(CodeOverMaximumSupply, "mint would exceed maximum supply of {symbol}",
			map[string]string{"symbol": symbol.String()})
	}
	bal, err := l.Balance(to, symbol)
	if err != nil {
		return err
	}
	if bal == 0 {
		if err := l.creditHolder(&info, to, symbol); err != nil {
			return err
		}
	}
	if err := l.setBalance(to, symbol, bal+amount); err != nil {
		return err
	}
	info.TotalSupply += amount
	info.CirculatingSupply += amount
	return l.putTokenInfo(info)
}

// Burn debits amount of symbol from from.
func (l *Ledger) Burn(symbol, from Address, amount uint64) error {
	if amount == 0 {
		return NewReason(CodeAmountZero, "burn amount must be non-zero", nil)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	info, err := l.TokenInfoOf(symbol)
	if err != nil {
		return err
	}
	bal, err := l.Balance(from, symbol)
	if err != nil {
		return err
	}
	if bal < amount {
		return ErrInsufficientFunds(from, symbol)
	}
	newBal := bal - amount
	if err := l.setBalance(from, symbol, newBal); err != nil {
		return err
	}
	if newBal == 0 && info.NonZeroAccountTotalCount > 0 {
		info.NonZeroAccountTotalCount--
	}
	info.CirculatingSupply -= amount
	return l.putTokenInfo(info)
}

// Send transfers amount of symbol from src to dst.
func (l *Ledger) Send(src, dst, symbol Address, amount uint64) error {
	if src.Matches(dst) {
		return NewReason(CodeDestinationIsSource, "destination {dst} matches source", map[string]string{"dst": dst.String()})
	}
	if amount == 0 {
		return NewReason(CodeAmountZero, "send amount must be non-zero", nil)
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	info, err := l.TokenInfoOf(symbol)
	if err != nil {
		return err
	}
	srcBal, err := l.Balance(src, symbol)
	if err != nil {
		return err
	}
	if srcBal < amount {
		return ErrInsufficientFunds(src, symbol)
	}
	dstBal, err := l.Balance(dst, symbol)
	if err != nil {
		return err
	}

	newSrcBal := srcBal - amount
	if err := l.setBalance(src, symbol, newSrcBal); err != nil {
		return err
	}
	if err := l.setBalance(dst, symbol, dstBal+amount); err != nil {
		return err
	}

	changed := false
	if newSrcBal == 0 && info.NonZeroAccountTotalCount > 0 {
		info.NonZeroAccountTotalCount--
		changed = true
	}
	if dstBal == 0 {
		if err := l.creditHolder(&info, dst, symbol); err != nil {
			return err
		}
		changed = true
	}
	if changed {
		return l.putTokenInfo(info)
	}
	return nil
}

// UpdateTokenInfo lets symbol's owner change its mutable metadata fields.
func (l *Ledger) UpdateTokenInfo(symbol Address, name, ticker *string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	info, err := l.TokenInfoOf(symbol)
	if err != nil {
		return err
	}
	if name != nil {
		info.Name = *name
	}
	if ticker != nil {
		info.Ticker = *ticker
	}
	return l.putTokenInfo(info)
}

// SetExtendedInfo attaches/overwrites memo and visual-logo metadata.
func (l *Ledger) SetExtendedInfo(symbol Address, ext TokenExtendedInfo) error {
	b, err := ledgerCBOR.Marshal(ext)
	if err != nil {
		return err
	}
	return l.SetState(tokenExtKey(symbol), b)
}

// ExtendedInfo reads back a symbol's memo/visual-logo metadata.
func (l *Ledger) ExtendedInfo(symbol Address) (TokenExtendedInfo, error) {
	v, err := l.GetState(tokenExtKey(symbol))
	if err != nil {
		return TokenExtendedInfo{}, NewReason(CodeExtInfoNotFound, "no extended info for {symbol}",
			map[string]string{"symbol": symbol.String()})
	}
	var ext TokenExtendedInfo
	if err := cbor.Unmarshal(v, &ext); err != nil {
		return TokenExtendedInfo{}, &Reason{Code: CodeExtInfoNotFound, Message: err.Error()}
	}
	return ext, nil
}

// RemoveExtendedInfo drops a symbol's memo/visual-logo metadata.
func (l *Ledger) RemoveExtendedInfo(symbol Address) error {
	return l.DeleteState(tokenExtKey(symbol))
}
