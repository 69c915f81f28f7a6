package cli

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"peerdrop/ticket"
	"peerdrop/transfer"
)

func runCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Setenv("PEERDROP_MDNS", "false")

	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(append(args, "--env-file", filepath.Join(t.TempDir(), "missing.env")))
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestIDIsStable(t *testing.T) {
	dataDir := t.TempDir()

	first, err := runCommand(t, "id", "--data-dir", dataDir)
	if err != nil {
		t.Fatalf("id failed: %v", err)
	}
	if !strings.Contains(first, "Node ID:") || !strings.Contains(first, "Fingerprint:") {
		t.Fatalf("unexpected output %q", first)
	}

	second, err := runCommand(t, "id", "--data-dir", dataDir)
	if err != nil {
		t.Fatalf("second id failed: %v", err)
	}
	if first != second {
		t.Fatalf("expected identity to persist:\n%s\n%s", first, second)
	}
}

func TestAddrPrintsTicket(t *testing.T) {
	out, err := runCommand(t, "addr", "--data-dir", t.TempDir())
	if err != nil {
		t.Fatalf("addr failed: %v", err)
	}
	tk, err := ticket.Decode(strings.TrimSpace(out))
	if err != nil {
		t.Fatalf("addr output is not a ticket: %v", err)
	}
	if !tk.Hash.IsZero() {
		t.Fatalf("expected address-only ticket")
	}
}

func TestSendMissingFile(t *testing.T) {
	_, err := runCommand(t, "send", filepath.Join(t.TempDir(), "absent.bin"), "--data-dir", t.TempDir())
	if !errors.Is(err, transfer.ErrFileNotFound) {
		t.Fatalf("expected ErrFileNotFound, got %v", err)
	}
}

func TestChatSendRejectsBadTicket(t *testing.T) {
	_, err := runCommand(t, "chat", "send", "bogus", "hello", "--data-dir", t.TempDir())
	if !errors.Is(err, ticket.ErrInvalidTicket) {
		t.Fatalf("expected ErrInvalidTicket, got %v", err)
	}
}

func TestInvalidLogLevel(t *testing.T) {
	if _, err := runCommand(t, "id", "--data-dir", t.TempDir(), "--log-level", "loud"); err == nil {
		t.Fatalf("expected invalid log level to fail")
	}
}
