package chat

import (
	"context"
	"errors"
	"testing"

	"github.com/batalabs/knowd/internal/domain"
)

type stubPort struct {
	sendErr error
	sent    []string
	edits   []string
}

func (s *stubPort) SendText(_ context.Context, _ int64, text string) (int, error) {
	if s.sendErr != nil {
		return 0, s.sendErr
	}
	s.sent = append(s.sent, text)
	return 7, nil
}

func (s *stubPort) EditText(_ context.Context, _ int64, _ int, text string) error {
	s.edits = append(s.edits, text)
	return nil
}

func (s *stubPort) SendDocument(context.Context, int64, string, []byte, string) error { return nil }
func (s *stubPort) Delete(context.Context, int64, int) error                          { return nil }
func (s *stubPort) Events() <-chan domain.IncomingEvent                               { return nil }

func TestStatusMessage_editsAfterBegin(t *testing.T) {
	p := &stubPort{}
	st := Begin(context.Background(), p, 42, "queued")
	if st.MessageID != 7 {
		t.Fatalf("MessageID = %d, want 7", st.MessageID)
	}
	st.Set(context.Background(), "working")
	if len(p.edits) != 1 || p.edits[0] != "working" {
		t.Errorf("edits = %v, want one edit", p.edits)
	}
}

func TestStatusMessage_sendFailureDisablesEdits(t *testing.T) {
	p := &stubPort{sendErr: errors.New("flood wait")}
	st := Begin(context.Background(), p, 42, "queued")
	if st.MessageID != 0 {
		t.Fatalf("MessageID = %d, want 0 after send failure", st.MessageID)
	}
	st.Set(context.Background(), "working")
	if len(p.edits) != 0 {
		t.Errorf("expected no edits when the initial send failed, got %v", p.edits)
	}
}

func TestStatusMessage_zeroValueIsSafe(t *testing.T) {
	var st StatusMessage
	st.Set(context.Background(), "working") // must not panic
}
