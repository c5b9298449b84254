package migrate_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/angelmondragon/vcledger/pkg/migrate"
)

func readMigration(t *testing.T, pattern string) string {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join("migrations", pattern))
	if err != nil {
		t.Fatalf("glob migrations: %v", err)
	}
	if len(matches) == 0 {
		t.Fatalf("no migration file matching %s", pattern)
	}
	data, err := os.ReadFile(matches[0])
	if err != nil {
		t.Fatalf("read migration file: %v", err)
	}
	return string(data)
}

func TestInventoryEventsMigrationContainsChainConstraints(t *testing.T) {
	content := readMigration(t, "*_create_inventory_events.sql")

	checks := []string{
		"CREATE TABLE IF NOT EXISTS inventory_events",
		"ON inventory_events (tenant_id, sequence)",
		"ON inventory_events (tenant_id, prev_hash)",
		"CHECK (type = 'adjustment' OR quantity > 0)",
		"CREATE TABLE IF NOT EXISTS inventory_chain_heads",
		"DROP TABLE IF EXISTS inventory_events",
	}
	for _, sub := range checks {
		if !strings.Contains(content, sub) {
			t.Errorf("missing expected statement %q", sub)
		}
	}
}

func TestSettlementMigrationEnforcesOneRecordPerInvoice(t *testing.T) {
	content := readMigration(t, "*_create_settlement_tables.sql")

	checks := []string{
		"ux_invoices_cart ON invoices (cart_id)",
		"ux_payments_invoice ON payments (invoice_id)",
		"ux_receipts_invoice ON receipts (invoice_id)",
		"CHECK (previous_record_hash = invoice_hash)",
		"status IN ('pending', 'quoted', 'invoiced', 'paid', 'cancelled')",
	}
	for _, sub := range checks {
		if !strings.Contains(content, sub) {
			t.Errorf("missing expected statement %q", sub)
		}
	}
}

func TestValidateDirAcceptsShippedMigrations(t *testing.T) {
	if err := migrate.ValidateDir("migrations"); err != nil {
		t.Fatalf("ValidateDir: %v", err)
	}
}

func TestValidateDirRejectsBadNames(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "create_things.sql"), []byte("-- +goose Up\n-- +goose Down\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := migrate.ValidateDir(dir); err == nil {
		t.Fatal("expected invalid filename to be rejected")
	}
}

func TestCreateSQLMigrationWritesGooseTemplate(t *testing.T) {
	dir := t.TempDir()
	path, err := migrate.CreateSQLMigration(dir, "Add Receipt Index")
	if err != nil {
		t.Fatalf("CreateSQLMigration: %v", err)
	}
	if !strings.HasSuffix(path, "_add_receipt_index.sql") {
		t.Fatalf("unexpected filename %s", path)
	}
	if err := migrate.ValidateDir(dir); err != nil {
		t.Fatalf("generated migration should validate: %v", err)
	}
}

func TestValidateDirRejectsLedgerRewrites(t *testing.T) {
	dir := t.TempDir()
	body := "-- +goose Up\nUPDATE inventory_events SET quantity = 0;\n-- +goose Down\n"
	if err := os.WriteFile(filepath.Join(dir, "20260401000000_fix_events.sql"), []byte(body), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	err := migrate.ValidateDir(dir)
	if err == nil || !strings.Contains(err.Error(), "inventory_events") {
		t.Fatalf("expected ledger rewrite to be rejected, got %v", err)
	}
}

func TestValidateDirRejectsDuplicateVersions(t *testing.T) {
	dir := t.TempDir()
	body := []byte("-- +goose Up\n-- +goose Down\n")
	for _, name := range []string{"20260401000000_a.sql", "20260401000000_b.sql"} {
		if err := os.WriteFile(filepath.Join(dir, name), body, 0o644); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	if err := migrate.ValidateDir(dir); err == nil {
		t.Fatal("expected duplicate version error")
	}
}
