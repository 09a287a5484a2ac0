package migrate

import (
	"strings"
	"testing"
)

func TestVersions_SortedAndEmbedded(t *testing.T) {
	t.Parallel()

	versions, err := Versions()
	if err != nil {
		t.Fatalf("Versions: %v", err)
	}
	if len(versions) == 0 || versions[0] != "001_init.sql" {
		t.Fatalf("unexpected versions: %v", versions)
	}
	for i := 1; i < len(versions); i++ {
		if versions[i-1] >= versions[i] {
			t.Fatalf("versions not sorted: %v", versions)
		}
	}
}

func TestInitMigration_StoresOnlyTokenHashes(t *testing.T) {
	t.Parallel()

	raw, err := migrationFiles.ReadFile("migrations/001_init.sql")
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	sql := string(raw)

	for _, want := range []string{"token_hash CHAR(64)", "uq_users_email UNIQUE (email)", "token_version INTEGER NOT NULL DEFAULT 0"} {
		if !strings.Contains(sql, want) {
			t.Fatalf("migration missing %q", want)
		}
	}
	if strings.Contains(sql, "refresh_token TEXT") {
		t.Fatalf("raw refresh token column must not exist")
	}
}
