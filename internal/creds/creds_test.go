package creds

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/batalabs/knowd/internal/domain"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return NewStore(filepath.Join(t.TempDir(), "credentials.json"), "test-passphrase")
}

func TestSetGetDelete(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.Set(ctx, 42, "github_token", "ghp_secret123"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	got, err := s.Get(42, "github_token")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got != "ghp_secret123" {
		t.Errorf("Get = %q", got)
	}

	if err := s.Delete(ctx, 42, "github_token"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := s.Get(42, "github_token"); domain.KindOf(err) != domain.KindInputRejected {
		t.Errorf("Get after delete kind = %v, want InputRejected", domain.KindOf(err))
	}
	// Deleting again is a no-op.
	if err := s.Delete(ctx, 42, "github_token"); err != nil {
		t.Errorf("second Delete: %v", err)
	}
}

func TestCiphertextOnDisk(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "credentials.json")
	s := NewStore(path, "pw")

	secret := "super-secret-value-zq9"
	if err := s.Set(context.Background(), 1, "token", secret); err != nil {
		t.Fatal(err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(raw), secret) {
		t.Fatal("plaintext secret found on disk")
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Errorf("credentials file mode = %o, want 600", info.Mode().Perm())
	}
}

func TestWrongPassphraseFailsClosed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credentials.json")
	if err := NewStore(path, "right").Set(context.Background(), 1, "token", "value"); err != nil {
		t.Fatal(err)
	}

	_, err := NewStore(path, "wrong").Get(1, "token")
	if err == nil {
		t.Fatal("expected decrypt failure")
	}
	if strings.Contains(err.Error(), "value") {
		t.Error("error leaks plaintext")
	}
}

func TestLockedStore(t *testing.T) {
	s := NewStore(filepath.Join(t.TempDir(), "credentials.json"), "")
	if s.Unlocked() {
		t.Fatal("store with no passphrase should be locked")
	}
	if err := s.Set(context.Background(), 1, "token", "v"); err == nil {
		t.Fatal("Set on locked store should fail")
	}
	if _, err := s.List(1); err == nil {
		t.Fatal("List on locked store should fail")
	}
}

func TestListPerUser(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	for _, name := range []string{"kb_remote", "github_token"} {
		if err := s.Set(ctx, 7, name, "v-"+name); err != nil {
			t.Fatal(err)
		}
	}
	if err := s.Set(ctx, 8, "other", "v"); err != nil {
		t.Fatal(err)
	}

	names, err := s.List(7)
	if err != nil {
		t.Fatal(err)
	}
	if len(names) != 2 || names[0] != "github_token" || names[1] != "kb_remote" {
		t.Errorf("List = %v", names)
	}
}
