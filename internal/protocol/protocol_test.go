package protocol

import (
	"encoding/json"
	"testing"
)

func TestConnectRequestRoundTrip(t *testing.T) {
	msg := NewConnect(ConnectRequest{
		Cols: 120,
		Rows: 40,
		HostDescriptor: HostDescriptor{
			Address:  "10.0.0.5",
			Port:     22,
			Username: "deploy",
			AuthMode: AuthPassword,
			Password: "hunter2",
		},
		InitialPath: "/var/www",
	})
	if msg.Type != TypeConnectToHost {
		t.Fatalf("type = %q, want %q", msg.Type, TypeConnectToHost)
	}

	raw, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded Message
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	req, err := decoded.ConnectRequest()
	if err != nil {
		t.Fatalf("ConnectRequest: %v", err)
	}
	if req.Cols != 120 || req.Rows != 40 {
		t.Errorf("geometry = %dx%d, want 120x40", req.Cols, req.Rows)
	}
	if req.HostDescriptor.Address != "10.0.0.5" {
		t.Errorf("address = %q", req.HostDescriptor.Address)
	}
	if req.InitialPath != "/var/www" {
		t.Errorf("initialPath = %q", req.InitialPath)
	}
}

func TestInputCarriesRawBytes(t *testing.T) {
	msg := NewInput("ls -la\r")
	text, err := msg.Text()
	if err != nil {
		t.Fatalf("Text: %v", err)
	}
	if text != "ls -la\r" {
		t.Errorf("text = %q", text)
	}
}

func TestPingHasNoPayload(t *testing.T) {
	raw, err := json.Marshal(NewPing())
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(raw) != `{"type":"ping"}` {
		t.Errorf("ping frame = %s", raw)
	}
}

func TestGeometryRejectsNonPositive(t *testing.T) {
	msg := NewResize(Geometry{Cols: 0, Rows: 24})
	if _, err := msg.Geometry(); err == nil {
		t.Fatal("expected error for zero cols")
	}
}

func TestErrorPayload(t *testing.T) {
	msg := NewError("connection reset by peer")
	got, err := msg.ErrorMessage()
	if err != nil {
		t.Fatalf("ErrorMessage: %v", err)
	}
	if got != "connection reset by peer" {
		t.Errorf("message = %q", got)
	}
}

func TestTOTPRoundTrip(t *testing.T) {
	prompt, err := NewTOTPRequired("Verification code:").TOTPPrompt()
	if err != nil {
		t.Fatalf("TOTPPrompt: %v", err)
	}
	if prompt != "Verification code:" {
		t.Errorf("prompt = %q", prompt)
	}
	code, err := NewTOTPResponse("123456").TOTPCode()
	if err != nil {
		t.Fatalf("TOTPCode: %v", err)
	}
	if code != "123456" {
		t.Errorf("code = %q", code)
	}
}

func TestMalformedPayloadReturnsError(t *testing.T) {
	msg := Message{Type: TypeData, Data: json.RawMessage(`{not json`)}
	if _, err := msg.Text(); err == nil {
		t.Fatal("expected decode error")
	}
}

func TestHostDescriptorValidate(t *testing.T) {
	valid := HostDescriptor{Address: "h", Username: "u", AuthMode: AuthKey}
	if err := valid.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := (HostDescriptor{Username: "u", AuthMode: AuthKey}).Validate(); err == nil {
		t.Error("expected error for missing address")
	}
	if err := (HostDescriptor{Address: "h", AuthMode: AuthKey}).Validate(); err == nil {
		t.Error("expected error for missing username")
	}
	if err := (HostDescriptor{Address: "h", Username: "u", AuthMode: "agent"}).Validate(); err == nil {
		t.Error("expected error for unknown auth mode")
	}
}
