package methods

import (
	"context"
	"testing"

	"github.com/fxamacker/cbor/v2"

	"github.com/synnergychain/ledgercore/abci"
	"github.com/synnergychain/ledgercore/core"
)

func testEnv(t *testing.T) *abci.AppEnv {
	t.Helper()
	storage, err := core.OpenMemory(core.ModeStandalone)
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	t.Cleanup(func() { _ = storage.Close() })
	ledger := core.NewLedger(storage)
	return &abci.AppEnv{
		Ledger:     ledger,
		Accounts:   core.NewAccountManager(ledger),
		Events:     core.NewEventManager(ledger),
		Migrations: core.NewMigrationRegistry(),
	}
}

func TestLedgerCreateTokenGatedByMigration(t *testing.T) {
	env := testEnv(t)
	env.Migrations.Register(core.Migration{
		Name:          migrationTokensCreate,
		Strategy:      core.StrategyTrigger,
		ActivateBlock: 10,
		Apply:         func(l *core.Ledger, height uint64) error { return nil },
	})

	sym := core.NewPublicKeyAddress([]byte("symbol"))
	owner := core.NewPublicKeyAddress([]byte("owner"))
	args, err := argCBOR.Marshal(createTokenArgs{Symbol: sym, Name: "Token", Ticker: "TKN"})
	if err != nil {
		t.Fatalf("marshal args: %v", err)
	}

	env.Height = 5
	if _, err := ledgerCreateToken(context.Background(), env, owner, args); err == nil {
		t.Fatalf("expected ledger.create_token to be rejected before the migration's activation height")
	}

	env.Height = 11
	if _, err := ledgerCreateToken(context.Background(), env, owner, args); err != nil {
		t.Fatalf("expected ledger.create_token to succeed once active: %v", err)
	}
	if _, err := env.Ledger.TokenInfoOf(sym); err != nil {
		t.Fatalf("expected token to exist after creation: %v", err)
	}
}

func TestKVStorePutRejectsAnonymousAlternativeOwner(t *testing.T) {
	env := testEnv(t)
	sender := core.NewPublicKeyAddress([]byte("sender"))
	anon := core.AnonymousAddress
	args, err := argCBOR.Marshal(kvPutArgs{Key: []byte("k"), Value: []byte("v"), AlternativeOwner: &anon})
	if err != nil {
		t.Fatalf("marshal args: %v", err)
	}
	if _, err := kvstorePut(context.Background(), env, sender, args); err == nil {
		t.Fatalf("expected anonymous alternative_owner to be rejected")
	}
}

func TestKVStorePutRejectsSubresourceAlternativeOwner(t *testing.T) {
	env := testEnv(t)
	sender := core.NewPublicKeyAddress([]byte("sender"))
	parent := core.NewPublicKeyAddress([]byte("parent"))
	sub, err := parent.WithSubresource(1)
	if err != nil {
		t.Fatalf("WithSubresource: %v", err)
	}
	args, err := argCBOR.Marshal(kvPutArgs{Key: []byte("k"), Value: []byte("v"), AlternativeOwner: &sub})
	if err != nil {
		t.Fatalf("marshal args: %v", err)
	}
	if _, err := kvstorePut(context.Background(), env, sender, args); err == nil {
		t.Fatalf("expected subresource alternative_owner to be rejected")
	}
}

func TestKVStorePutAlternativeOwnerRequiresACL(t *testing.T) {
	env := testEnv(t)
	sender := core.NewPublicKeyAddress([]byte("sender"))
	altOwner := core.NewPublicKeyAddress([]byte("alt-owner"))

	args, err := argCBOR.Marshal(kvPutArgs{Key: []byte("k"), Value: []byte("v"), AlternativeOwner: &altOwner})
	if err != nil {
		t.Fatalf("marshal args: %v", err)
	}
	if _, err := kvstorePut(context.Background(), env, sender, args); err == nil {
		t.Fatalf("expected put to fail without an alt-owner account granting the role")
	}

	if err := env.Accounts.CreateAccount(altOwner, altOwner, "", core.FeatureAccountKvStore); err != nil {
		t.Fatalf("CreateAccount: %v", err)
	}
	if err := env.Accounts.AddRoles(altOwner, sender, core.RoleCanKvStorePut); err != nil {
		t.Fatalf("AddRoles: %v", err)
	}
	if _, err := kvstorePut(context.Background(), env, sender, args); err != nil {
		t.Fatalf("expected put to succeed once delegated: %v", err)
	}

	entry, err := core.NewKVStore(env.Ledger).Query([]byte("k"))
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if entry.Owner != altOwner {
		t.Fatalf("expected key owner to be alt-owner, got %s", entry.Owner)
	}
}

func TestMultisigWithdrawReachableFromCatalogue(t *testing.T) {
	if _, ok := catalogue["multisig.withdraw"]; !ok {
		t.Fatalf("expected multisig.withdraw in the method catalogue")
	}
	if !commands["multisig.withdraw"] {
		t.Fatalf("expected multisig.withdraw to be registered as a command")
	}
}

func TestEventsListAndInfo(t *testing.T) {
	env := testEnv(t)
	env.Events.Emit("test.kind", core.AnonymousAddress, nil, nil)

	listArgs, err := argCBOR.Marshal(eventsListArgs{})
	if err != nil {
		t.Fatalf("marshal args: %v", err)
	}
	out, err := eventsList(context.Background(), env, core.AnonymousAddress, listArgs)
	if err != nil {
		t.Fatalf("eventsList: %v", err)
	}
	var events []core.Event
	if err := cbor.Unmarshal(out, &events); err != nil {
		t.Fatalf("unmarshal events: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}

	infoArgs, err := argCBOR.Marshal(eventsInfoArgs{ID: events[0].ID})
	if err != nil {
		t.Fatalf("marshal args: %v", err)
	}
	if _, err := eventsInfo(context.Background(), env, core.AnonymousAddress, infoArgs); err != nil {
		t.Fatalf("eventsInfo: %v", err)
	}
}

func TestDataInfoReportsBothCounters(t *testing.T) {
	env := testEnv(t)
	sym := core.NewPublicKeyAddress([]byte("symbol"))
	owner := core.NewPublicKeyAddress([]byte("owner"))
	holder := core.NewPublicKeyAddress([]byte("holder"))
	if err := env.Ledger.CreateToken(sym, "Token", "TKN", 0, owner, 0); err != nil {
		t.Fatalf("CreateToken: %v", err)
	}
	if err := env.Ledger.Mint(sym, holder, 10); err != nil {
		t.Fatalf("Mint: %v", err)
	}

	args, err := argCBOR.Marshal(dataInfoArgs{Symbol: sym})
	if err != nil {
		t.Fatalf("marshal args: %v", err)
	}
	out, err := dataInfo(context.Background(), env, owner, args)
	if err != nil {
		t.Fatalf("dataInfo: %v", err)
	}
	var res dataInfoResult
	if err := cbor.Unmarshal(out, &res); err != nil {
		t.Fatalf("unmarshal result: %v", err)
	}
	if res.AccountTotalCount != 1 || res.NonZeroAccountTotalCount != 1 {
		t.Fatalf("unexpected counters: %+v", res)
	}
}
