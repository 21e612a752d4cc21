package domain

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestKindOf(t *testing.T) {
	err := E(KindKBBusy, "lock timeout", nil)
	if KindOf(err) != KindKBBusy {
		t.Errorf("KindOf = %q, want %q", KindOf(err), KindKBBusy)
	}
	wrapped := fmt.Errorf("outer: %w", err)
	if KindOf(wrapped) != KindKBBusy {
		t.Errorf("KindOf through wrap = %q", KindOf(wrapped))
	}
	if KindOf(errors.New("plain")) != KindInternal {
		t.Error("plain errors should map to internal")
	}
}

func TestUserMessage_NeverLeaksCause(t *testing.T) {
	secret := "https://token-abc123@github.com/u/kb.git"
	for _, k := range []Kind{
		KindGitAuthFailed, KindGitNetwork, KindGitConflict, KindKBBusy,
		KindAgentTimeout, KindAgentBudgetExceeded, KindInternal,
	} {
		msg := UserMessage(E(k, "op failed", errors.New(secret)))
		if strings.Contains(msg, "token-abc123") {
			t.Errorf("kind %s leaked cause into user message: %q", k, msg)
		}
	}
}

func TestUserMessage_PlainError(t *testing.T) {
	msg := UserMessage(errors.New("boom"))
	if strings.Contains(msg, "boom") {
		t.Errorf("plain error text leaked: %q", msg)
	}
}
