package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	abciserver "github.com/cometbft/cometbft/abci/server"
	cmtlog "github.com/cometbft/cometbft/libs/log"
	logrus "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/synnergychain/ledgercore/abci"
	cmdconfig "github.com/synnergychain/ledgercore/cmd/config"
	"github.com/synnergychain/ledgercore/core"
	"github.com/synnergychain/ledgercore/methods"
)

var logger = logrus.New()

func main() {
	root := &cobra.Command{Use: "ledgercored"}
	root.PersistentFlags().String("env", "", "named config overlay to merge over default.yaml")

	root.AddCommand(startCmd())
	root.AddCommand(initCmd())
	root.AddCommand(migrateCmd())
	root.AddCommand(keysCmd())
	root.AddCommand(idstoreCmd())
	root.AddCommand(accessCmd())

	if err := root.Execute(); err != nil {
		logger.WithError(err).Error("ledgercored: fatal")
		os.Exit(1)
	}
}

func loadConfig(cmd *cobra.Command) cmdconfig.Config {
	env, _ := cmd.Flags().GetString("env")
	cmdconfig.LoadConfig(env)
	if lvl, err := logrus.ParseLevel(cmdconfig.AppConfig.Logging.Level); err == nil {
		logger.SetLevel(lvl)
	}
	return cmdconfig.AppConfig
}

func openNodeStorage(cfg cmdconfig.Config) (*core.Storage, error) {
	mode := core.ModeBlockchain
	if cfg.Storage.Standalone {
		mode = core.ModeStandalone
	}
	return core.OpenDisk("ledgercore", cfg.Storage.DBPath, mode)
}

// startCmd runs the ABCI socket server CometBFT dials into, serving the
// full ledger-core method catalogue over both deliver_tx and query paths
// (spec §5).
func startCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "start",
		Short: "run the ledgercore ABCI application",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := loadConfig(cmd)
			storage, err := openNodeStorage(cfg)
			if err != nil {
				return err
			}
			defer storage.Close()

			registry := core.NewRegistry(core.Ed25519Verifier{}, core.AnonymousVerifier{})
			app := abci.New(storage, registry, methods.Catalogue(), methods.Commands(), logger)
			registerMigrations(app.Migrations())
			if err := reconcileMigrations(cfg, app.Migrations()); err != nil {
				return err
			}

			srv, err := abciserver.NewServer(addr, "socket", app)
			if err != nil {
				return err
			}
			srv.SetLogger(cometLogger{logger})
			if err := srv.Start(); err != nil {
				return err
			}
			defer srv.Stop()

			logger.WithField("addr", addr).Info("ledgercored: abci server listening")
			waitForSignal()
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "tcp://127.0.0.1:26658", "ABCI server listen address")
	return cmd
}

// initCmd bootstraps a fresh node: a random genesis identity and server
// seed file, plus an empty on-disk store at the configured path.
func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "initialise node storage and a genesis signing identity",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := loadConfig(cmd)
			storage, err := openNodeStorage(cfg)
			if err != nil {
				return err
			}
			defer storage.Close()

			_, mnemonic, err := core.NewRandomWallet(256)
			if err != nil {
				return err
			}
			if cfg.Chain.ServerSeedFile != "" {
				if err := os.WriteFile(cfg.Chain.ServerSeedFile, []byte(mnemonic+"\n"), 0o600); err != nil {
					return fmt.Errorf("write server seed: %w", err)
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "genesis recall phrase (store this securely):\n%s\n", mnemonic)
			return nil
		},
	}
}

// migrateCmd inspects the compiled migration registry, the way an operator
// checks what a new binary would apply before pointing it at production
// state.
func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "migrate"}
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "list the migrations compiled into this binary, as the configured node would run them",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := loadConfig(cmd)
			reg := core.NewMigrationRegistry()
			registerMigrations(reg)
			if err := reconcileMigrations(cfg, reg); err != nil {
				return err
			}
			for _, name := range []string{"idstore-counter-bootstrap", "tokens-create-enable"} {
				m, ok := reg.ByName(name)
				if !ok {
					fmt.Fprintf(cmd.OutOrStdout(), "%-32s disabled by migrations config\n", name)
					continue
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%-32s activates at height %d\n", m.Name, m.ActivateBlock)
			}
			return nil
		},
	})
	return cmd
}

// migrationsDocument is the YAML shape of a node's migrations config file
// (spec §4.7), overlaying activation heights and disabling entries by name
// without requiring a new binary.
type migrationsDocument struct {
	Migrations []core.MigrationConfigEntry `yaml:"migrations"`
}

// reconcileMigrations loads cfg.Migrations.ConfigFile, if present, and
// applies it to reg. A missing file is not an error: a node with no
// overlay just runs the compiled-in activation heights.
func reconcileMigrations(cfg cmdconfig.Config, reg *core.MigrationRegistry) error {
	path := cfg.Migrations.ConfigFile
	if path == "" {
		return nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read migrations config: %w", err)
	}
	var doc migrationsDocument
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("parse migrations config: %w", err)
	}
	return reg.Reconcile(doc.Migrations)
}

// keysCmd manages HD-wallet identities independent of any running node.
func keysCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "keys"}
	var entropyBits int
	newKey := &cobra.Command{
		Use:   "new",
		Short: "generate a fresh recall phrase and its account-0/index-0 address",
		RunE: func(cmd *cobra.Command, args []string) error {
			w, mnemonic, err := core.NewRandomWallet(entropyBits)
			if err != nil {
				return err
			}
			addr, err := w.Address(0, 0)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "recall phrase: %s\naddress:       %s\n", mnemonic, addr)
			return nil
		},
	}
	newKey.Flags().IntVar(&entropyBits, "entropy", 256, "mnemonic entropy in bits (128 or 256)")
	cmd.AddCommand(newKey)
	return cmd
}

// idstoreCmd resolves recall phrases against the on-disk directory without
// needing a running ABCI server.
func idstoreCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "idstore"}
	cmd.AddCommand(&cobra.Command{
		Use:   "recall [phrase]",
		Short: "resolve a recall phrase to its registered identity",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := loadConfig(cmd)
			storage, err := openNodeStorage(cfg)
			if err != nil {
				return err
			}
			defer storage.Close()

			ledger := core.NewLedger(storage)
			seed := uint64(0)
			core.InitIDStore(logger, ledger, seed)

			rec, err := core.IDStoreInstance().Recall(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "address:       %s\ncredential-id: %x\n", rec.Address, rec.CredentialID)
			return nil
		},
	})
	return cmd
}

// accessCmd manages node-operator permissions (as opposed to the per-token
// account roles in core.AccountManager), recorded in this node's storage.
// No command in this binary checks these roles.
func accessCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "access"}

	withController := func(cmd *cobra.Command, fn func(ac *core.AccessController) error) error {
		cfg := loadConfig(cmd)
		storage, err := openNodeStorage(cfg)
		if err != nil {
			return err
		}
		defer storage.Close()
		return fn(core.NewAccessController(core.NewLedger(storage)))
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "grant [address] [role]",
		Short: "grant an operator role to an address",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			addr, err := core.ParseAddress(args[0])
			if err != nil {
				return err
			}
			return withController(cmd, func(ac *core.AccessController) error {
				return ac.GrantRole(addr, args[1])
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "revoke [address] [role]",
		Short: "revoke an operator role from an address",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			addr, err := core.ParseAddress(args[0])
			if err != nil {
				return err
			}
			return withController(cmd, func(ac *core.AccessController) error {
				return ac.RevokeRole(addr, args[1])
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "list [address]",
		Short: "list operator roles granted to an address",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			addr, err := core.ParseAddress(args[0])
			if err != nil {
				return err
			}
			return withController(cmd, func(ac *core.AccessController) error {
				roles, err := ac.ListRoles(addr)
				if err != nil {
					return err
				}
				for _, r := range roles {
					fmt.Fprintln(cmd.OutOrStdout(), r)
				}
				return nil
			})
		},
	})
	return cmd
}

// registerMigrations registers every compiled migration in deployment
// order. New migrations are appended here, never inserted earlier in the
// slice, so replaying nodes apply them in the same order they always have.
func registerMigrations(reg *core.MigrationRegistry) {
	reg.Register(core.Migration{
		Name:          "idstore-counter-bootstrap",
		Strategy:      core.StrategyInitialize,
		ActivateBlock: 1,
		Apply: func(l *core.Ledger, height uint64) error {
			return nil
		},
	})
	reg.Register(core.Migration{
		Name:          "tokens-create-enable",
		Strategy:      core.StrategyTrigger,
		ActivateBlock: 10,
		Apply: func(l *core.Ledger, height uint64) error {
			return nil
		},
	})
}

func waitForSignal() {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	<-ch
}

// cometLogger adapts *logrus.Logger to cometbft's libs/log.Logger interface
// so the ABCI server's own diagnostics flow through the same structured
// logger as the rest of the node.
type cometLogger struct{ *logrus.Logger }

func (l cometLogger) Debug(msg string, kv ...interface{}) { l.WithFields(kvFields(kv)).Debug(msg) }
func (l cometLogger) Info(msg string, kv ...interface{})  { l.WithFields(kvFields(kv)).Info(msg) }
func (l cometLogger) Error(msg string, kv ...interface{}) { l.WithFields(kvFields(kv)).Error(msg) }
func (l cometLogger) With(kv ...interface{}) cmtlog.Logger {
	return cometEntryLogger{l.Logger.WithFields(kvFields(kv))}
}

type cometEntryLogger struct{ *logrus.Entry }

func (l cometEntryLogger) Debug(msg string, kv ...interface{}) { l.WithFields(kvFields(kv)).Debug(msg) }
func (l cometEntryLogger) Info(msg string, kv ...interface{})  { l.WithFields(kvFields(kv)).Info(msg) }
func (l cometEntryLogger) Error(msg string, kv ...interface{}) { l.WithFields(kvFields(kv)).Error(msg) }
func (l cometEntryLogger) With(kv ...interface{}) cmtlog.Logger {
	return cometEntryLogger{l.Entry.WithFields(kvFields(kv))}
}

func kvFields(kv []interface{}) logrus.Fields {
	f := make(logrus.Fields, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		if k, ok := kv[i].(string); ok {
			f[k] = kv[i+1]
		}
	}
	return f
}

var _ cmtlog.Logger = cometLogger{}
var _ cmtlog.Logger = cometEntryLogger{}
