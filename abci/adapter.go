// Package abci binds the ledger core to CometBFT's ABCI 2.0 application
// interface (spec §5): Info seeds the replay height, FinalizeBlock applies
// every transaction in the proposed block (the begin_block/deliver_tx/
// end_block sequence collapsed into one call by ABCI++), Commit flushes the
// authenticated KV store, and the snapshot RPCs list no snapshots and reject
// every offered snapshot or chunk. Grounded on the cometbft/abci/types wiring in
// other_examples/…chaincert-cert-blockchain__app-app.go and …sultan-cosmos-
// real-app-app.go, adapted from a cosmos-sdk BaseApp (which implements this
// interface for you) down to a direct, single-writer implementation the way
// spec §5 describes.
package abci

import (
	"context"
	"fmt"

	abcitypes "github.com/cometbft/cometbft/abci/types"
	"github.com/sirupsen/logrus"

	"github.com/synnergychain/ledgercore/core"
)

// MethodHandler executes one deliver_tx method against the ledger, given
// the verified sender and decoded request data, returning the response
// payload or a *core.Reason on failure.
type MethodHandler func(ctx context.Context, env *AppEnv, sender core.Address, data []byte) ([]byte, error)

// AppEnv is the per-transaction execution context handed to every method
// handler: the ledger, account/event/migration managers, and the block
// height currently being finalized.
type AppEnv struct {
	Ledger     *core.Ledger
	Accounts   *core.AccountManager
	Events     *core.EventManager
	Migrations *core.MigrationRegistry
	Height     uint64
}

// App adapts the ledger core to abcitypes.Application. Only one FinalizeBlock
// may be in flight at a time (single-writer discipline, spec §5); the
// caller (CometBFT) already serializes these calls per-consensus-round, so
// no additional locking is done here beyond what Storage itself provides.
type App struct {
	storage  *core.Storage
	ledger   *core.Ledger
	accounts *core.AccountManager
	events   *core.EventManager
	migs     *core.MigrationRegistry
	multisig *core.MultisigManager
	logger   *logrus.Logger

	registry   *core.Registry
	methods    map[string]MethodHandler
	isCommand  map[string]bool // true if the method mutates state (vs read-only query)
}

// New builds an App over storage, wiring the ledger and its satellite
// managers. verifier resolves envelope signatures to addresses; methods is
// the full method catalogue (name -> handler, plus whether it's a
// mutating "command" as opposed to a read-only query, spec §5).
func New(storage *core.Storage, verifier *core.Registry, methods map[string]MethodHandler, isCommand map[string]bool, logger *logrus.Logger) *App {
	ledger := core.NewLedger(storage)
	accounts := core.NewAccountManager(ledger)
	return &App{
		storage:   storage,
		ledger:    ledger,
		accounts:  accounts,
		events:    core.NewEventManager(ledger),
		migs:      core.NewMigrationRegistry(),
		multisig:  core.NewMultisigManager(ledger, accounts),
		logger:    logger,
		registry:  verifier,
		methods:   methods,
		isCommand: isCommand,
	}
}

// Migrations exposes the registry so main() can Register() migrations
// before the node starts serving.
func (a *App) Migrations() *core.MigrationRegistry { return a.migs }

func (a *App) Info(ctx context.Context, req *abcitypes.RequestInfo) (*abcitypes.ResponseInfo, error) {
	return &abcitypes.ResponseInfo{
		Data:             "ledgercore",
		Version:          req.Version,
		AppVersion:       1,
		LastBlockHeight:  int64(a.storage.Height()),
		LastBlockAppHash: a.storage.RootHash().Bytes(),
	}, nil
}

func (a *App) InitChain(ctx context.Context, req *abcitypes.RequestInitChain) (*abcitypes.ResponseInitChain, error) {
	return &abcitypes.ResponseInitChain{AppHash: a.storage.RootHash().Bytes()}, nil
}

func (a *App) CheckTx(ctx context.Context, req *abcitypes.RequestCheckTx) (*abcitypes.ResponseCheckTx, error) {
	env, err := core.DecodeEnvelope(req.Tx)
	if err != nil {
		return &abcitypes.ResponseCheckTx{Code: 1, Log: err.Error()}, nil
	}
	if _, err := a.registry.Verify(env); err != nil {
		return &abcitypes.ResponseCheckTx{Code: 1, Log: err.Error()}, nil
	}
	return &abcitypes.ResponseCheckTx{Code: 0}, nil
}

func (a *App) PrepareProposal(ctx context.Context, req *abcitypes.RequestPrepareProposal) (*abcitypes.ResponsePrepareProposal, error) {
	return &abcitypes.ResponsePrepareProposal{Txs: req.Txs}, nil
}

func (a *App) ProcessProposal(ctx context.Context, req *abcitypes.RequestProcessProposal) (*abcitypes.ResponseProcessProposal, error) {
	return &abcitypes.ResponseProcessProposal{Status: abcitypes.ResponseProcessProposal_ACCEPT}, nil
}

// FinalizeBlock is the begin_block/deliver_tx*/end_block sequence of spec
// §5, collapsed into a single ABCI++ call: it resets the event sequence for
// the new height, applies every tx's request message against its handler,
// expires stale multisig transactions, and runs any migration whose
// activation height has been reached.
func (a *App) FinalizeBlock(ctx context.Context, req *abcitypes.RequestFinalizeBlock) (*abcitypes.ResponseFinalizeBlock, error) {
	height := uint64(req.Height)
	a.events.ResetHeight(height)

	results := make([]*abcitypes.ExecTxResult, 0, len(req.Txs))
	for _, raw := range req.Txs {
		results = append(results, a.deliverTx(ctx, height, raw))
	}

	if err := a.multisig.ExpireStale(req.Time); err != nil {
		a.logger.WithError(err).Error("abci: multisig expiry scan failed")
	}

	if err := a.migs.ApplyAt(a.ledger, height); err != nil {
		a.logger.WithError(err).Error("abci: migration apply failed")
	}

	return &abcitypes.ResponseFinalizeBlock{
		TxResults: results,
		AppHash:   a.storage.RootHash().Bytes(),
	}, nil
}

func (a *App) deliverTx(ctx context.Context, height uint64, raw []byte) *abcitypes.ExecTxResult {
	env, err := core.DecodeEnvelope(raw)
	if err != nil {
		return &abcitypes.ExecTxResult{Code: 1, Log: err.Error()}
	}
	msg, sender, err := core.DecodeRequest(env, a.registry, nil)
	if err != nil {
		return &abcitypes.ExecTxResult{Code: 1, Log: err.Error()}
	}
	handler, ok := a.methods[msg.Method]
	if !ok {
		return &abcitypes.ExecTxResult{Code: 1, Log: fmt.Sprintf("unknown method %q", msg.Method)}
	}
	if !a.isCommand[msg.Method] {
		return &abcitypes.ExecTxResult{Code: 1, Log: fmt.Sprintf("method %q is read-only and cannot be delivered as a transaction", msg.Method)}
	}
	out, err := handler(ctx, &AppEnv{Ledger: a.ledger, Accounts: a.accounts, Events: a.events, Migrations: a.migs, Height: height}, sender, msg.Data)
	if err != nil {
		return &abcitypes.ExecTxResult{Code: 1, Log: err.Error()}
	}
	return &abcitypes.ExecTxResult{Code: 0, Data: out}
}

// Commit flushes the pending batch built up over FinalizeBlock to storage
// and advances the height counter (spec §4.2's blockchain commit mode).
func (a *App) Commit(ctx context.Context, req *abcitypes.RequestCommit) (*abcitypes.ResponseCommit, error) {
	info, err := a.storage.Commit()
	if err != nil {
		return nil, err
	}
	return &abcitypes.ResponseCommit{RetainHeight: int64(info.RetainHeight)}, nil
}

// Query dispatches a read-only method (spec §5's "is_command == false"
// path) without going through consensus.
func (a *App) Query(ctx context.Context, req *abcitypes.RequestQuery) (*abcitypes.ResponseQuery, error) {
	env, err := core.DecodeEnvelope(req.Data)
	if err != nil {
		return &abcitypes.ResponseQuery{Code: 1, Log: err.Error()}, nil
	}
	msg, sender, err := core.DecodeRequest(env, a.registry, nil)
	if err != nil {
		return &abcitypes.ResponseQuery{Code: 1, Log: err.Error()}, nil
	}
	handler, ok := a.methods[msg.Method]
	if !ok {
		return &abcitypes.ResponseQuery{Code: 1, Log: fmt.Sprintf("unknown method %q", msg.Method)}, nil
	}
	out, err := handler(ctx, &AppEnv{Ledger: a.ledger, Accounts: a.accounts, Events: a.events, Migrations: a.migs, Height: a.storage.Height()}, sender, msg.Data)
	if err != nil {
		return &abcitypes.ResponseQuery{Code: 1, Log: err.Error()}, nil
	}
	return &abcitypes.ResponseQuery{Code: 0, Value: out, Height: int64(a.storage.Height())}, nil
}

func (a *App) ListSnapshots(ctx context.Context, req *abcitypes.RequestListSnapshots) (*abcitypes.ResponseListSnapshots, error) {
	return &abcitypes.ResponseListSnapshots{}, nil
}

func (a *App) OfferSnapshot(ctx context.Context, req *abcitypes.RequestOfferSnapshot) (*abcitypes.ResponseOfferSnapshot, error) {
	return &abcitypes.ResponseOfferSnapshot{Result: abcitypes.ResponseOfferSnapshot_REJECT}, nil
}

func (a *App) LoadSnapshotChunk(ctx context.Context, req *abcitypes.RequestLoadSnapshotChunk) (*abcitypes.ResponseLoadSnapshotChunk, error) {
	return &abcitypes.ResponseLoadSnapshotChunk{}, nil
}

func (a *App) ApplySnapshotChunk(ctx context.Context, req *abcitypes.RequestApplySnapshotChunk) (*abcitypes.ResponseApplySnapshotChunk, error) {
	return &abcitypes.ResponseApplySnapshotChunk{Result: abcitypes.ResponseApplySnapshotChunk_REJECT}, nil
}

func (a *App) ExtendVote(ctx context.Context, req *abcitypes.RequestExtendVote) (*abcitypes.ResponseExtendVote, error) {
	return &abcitypes.ResponseExtendVote{}, nil
}

func (a *App) VerifyVoteExtension(ctx context.Context, req *abcitypes.RequestVerifyVoteExtension) (*abcitypes.ResponseVerifyVoteExtension, error) {
	return &abcitypes.ResponseVerifyVoteExtension{Status: abcitypes.ResponseVerifyVoteExtension_ACCEPT}, nil
}

var _ abcitypes.Application = (*App)(nil)
