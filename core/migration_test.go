package core

import "testing"

func TestMigrationApplyAtRunsOnceAtActivationHeight(t *testing.T) {
	led := testLedger(t)
	reg := NewMigrationRegistry()
	runs := 0
	reg.Register(Migration{
		Name:          "seed-genesis-accounts",
		Strategy:      StrategyInitialize,
		ActivateBlock: 5,
		Apply: func(l *Ledger, height uint64) error {
			runs++
			return nil
		},
	})

	if err := reg.ApplyAt(led, 4); err != nil {
		t.Fatalf("ApplyAt(4): %v", err)
	}
	if runs != 0 {
		t.Fatalf("expected no run before activation height, got %d", runs)
	}
	if err := reg.ApplyAt(led, 5); err != nil {
		t.Fatalf("ApplyAt(5): %v", err)
	}
	if runs != 1 {
		t.Fatalf("expected exactly one run at activation height, got %d", runs)
	}
	if !reg.Applied(led, "seed-genesis-accounts") {
		t.Fatalf("expected migration marked applied")
	}

	// Replaying the same height (as a restarted validator would) must not
	// re-run the migration.
	if err := reg.ApplyAt(led, 5); err != nil {
		t.Fatalf("ApplyAt(5) replay: %v", err)
	}
	if runs != 1 {
		t.Fatalf("expected migration to stay idempotent across replay, got %d runs", runs)
	}
}

func TestMigrationApplyAtPropagatesFailure(t *testing.T) {
	led := testLedger(t)
	reg := NewMigrationRegistry()
	reg.Register(Migration{
		Name:          "broken-hotfix",
		Strategy:      StrategyHotfix,
		ActivateBlock: 1,
		Apply: func(l *Ledger, height uint64) error {
			return NewReason(CodeUnableToLoadMigrations, "boom", nil)
		},
	})
	if err := reg.ApplyAt(led, 1); err == nil {
		t.Fatalf("expected ApplyAt to surface the migration's error")
	}
	if reg.Applied(led, "broken-hotfix") {
		t.Fatalf("failed migration must not be marked applied")
	}
}

func TestMigrationReconcile(t *testing.T) {
	reg := NewMigrationRegistry()
	reg.Register(Migration{Name: "a", ActivateBlock: 10})
	reg.Register(Migration{Name: "b", ActivateBlock: 20})

	err := reg.Reconcile([]MigrationConfigEntry{
		{Name: "a", ActivateBlock: 50},
		{Name: "b", Disabled: true},
	})
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	a, ok := reg.ByName("a")
	if !ok {
		t.Fatalf("expected migration a to remain registered")
	}
	if a.ActivateBlock != 50 {
		t.Fatalf("expected reconciled activation height 50, got %d", a.ActivateBlock)
	}
	if _, ok := reg.ByName("b"); ok {
		t.Fatalf("expected disabled migration b to be dropped")
	}
}

func TestMigrationReconcileRejectsUnknownName(t *testing.T) {
	reg := NewMigrationRegistry()
	reg.Register(Migration{Name: "a", ActivateBlock: 1})
	err := reg.Reconcile([]MigrationConfigEntry{{Name: "nonexistent", ActivateBlock: 1}})
	if err == nil {
		t.Fatalf("expected error reconciling an unknown migration name")
	}
}
