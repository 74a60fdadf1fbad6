package mailer

import (
	"context"
	"net/smtp"
	"strings"
	"testing"
)

func TestSend_UsesRelayAndEncodesMessage(t *testing.T) {
	var gotAddr, gotFrom string
	var gotTo []string
	var gotMsg []byte

	c := NewClient("smtp.example.com", 587, "host@example.com", "", "")
	c.send = func(addr string, _ smtp.Auth, from string, to []string, msg []byte) error {
		gotAddr, gotFrom, gotTo, gotMsg = addr, from, to, msg
		return nil
	}

	err := c.Send(context.Background(), Message{
		To:      []string{"user@example.com"},
		Subject: "Welcome",
		Body:    "hello",
	})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}

	if gotAddr != "smtp.example.com:587" {
		t.Errorf("unexpected addr %q", gotAddr)
	}
	if gotFrom != "host@example.com" || len(gotTo) != 1 {
		t.Errorf("unexpected envelope: from=%q to=%v", gotFrom, gotTo)
	}
	body := string(gotMsg)
	if !strings.Contains(body, "Subject: Welcome\r\n") || !strings.Contains(body, "\r\nhello") {
		t.Errorf("unexpected message encoding:\n%s", body)
	}
}

func TestSend_HeaderInjectionStripped(t *testing.T) {
	var gotMsg []byte
	c := NewClient("smtp.example.com", 25, "host@example.com", "", "")
	c.send = func(_ string, _ smtp.Auth, _ string, _ []string, msg []byte) error {
		gotMsg = msg
		return nil
	}

	err := c.Send(context.Background(), Message{
		To:      []string{"user@example.com"},
		Subject: "hi\r\nBcc: evil@example.com",
		Body:    "x",
	})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if strings.Contains(string(gotMsg), "Bcc:") {
		t.Error("expected injected header to be stripped")
	}
}

func TestSend_Validation(t *testing.T) {
	c := NewClient("", 0, "", "", "")
	if err := c.Send(context.Background(), Message{To: []string{"a@b"}}); err == nil {
		t.Error("expected error without configured relay")
	}

	c = NewClient("smtp.example.com", 25, "host@example.com", "", "")
	if err := c.Send(context.Background(), Message{}); err == nil {
		t.Error("expected error without recipients")
	}
}
