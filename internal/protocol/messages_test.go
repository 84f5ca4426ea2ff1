package protocol

import (
	"errors"
	"testing"
)

func TestParseClientMessageUserText(t *testing.T) {
	raw := []byte(`{"type":"user_text","text":"I think sleep matters more than caffeine","ts_ms":123}`)
	msg, err := ParseClientMessage(raw)
	if err != nil {
		t.Fatalf("ParseClientMessage() error = %v", err)
	}

	text, ok := msg.(UserText)
	if !ok {
		t.Fatalf("message type = %T, want UserText", msg)
	}
	if text.Text != "I think sleep matters more than caffeine" || text.TSMs != 123 {
		t.Fatalf("unexpected user text: %+v", text)
	}
}

func TestParseClientMessageRejectsBlankText(t *testing.T) {
	if _, err := ParseClientMessage([]byte(`{"type":"user_text","text":"   "}`)); err == nil {
		t.Fatalf("expected error for blank text")
	}
}

func TestParseClientMessageRejectsUnknownType(t *testing.T) {
	_, err := ParseClientMessage([]byte(`{"type":"wat"}`))
	if !errors.Is(err, ErrUnsupportedType) {
		t.Fatalf("error = %v, want ErrUnsupportedType", err)
	}
}

func TestParseClientMessageCommand(t *testing.T) {
	for _, action := range []string{ActionExtract, ActionClear, ActionStatus} {
		msg, err := ParseClientMessage([]byte(`{"type":"command","action":"` + action + `"}`))
		if err != nil {
			t.Fatalf("ParseClientMessage(%s) error = %v", action, err)
		}
		cmd, ok := msg.(Command)
		if !ok || cmd.Action != action {
			t.Fatalf("unexpected command: %#v", msg)
		}
	}

	if _, err := ParseClientMessage([]byte(`{"type":"command","action":"reboot"}`)); err == nil {
		t.Fatalf("expected error for unknown action")
	}
}

func TestParseClientMessageInvalidJSON(t *testing.T) {
	if _, err := ParseClientMessage([]byte(`{`)); err == nil {
		t.Fatalf("expected envelope error")
	}
}
