// Package mailer provides the SMTP client handed to plugins through the
// mailer capability. Resolving the capability only returns the client;
// nothing is sent until a plugin calls Send.
package mailer

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"
)

// Message is a single outbound mail.
type Message struct {
	To      []string
	Subject string
	Body    string
}

// Client sends mail through a configured SMTP relay.
type Client struct {
	host     string
	port     int
	from     string
	username string
	password string

	// send is swappable for tests; defaults to smtp.SendMail.
	send func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

// NewClient creates a mailer client. Auth is used only when username is set.
func NewClient(host string, port int, from, username, password string) *Client {
	return &Client{
		host:     host,
		port:     port,
		from:     from,
		username: username,
		password: password,
		send:     smtp.SendMail,
	}
}

// Send delivers a message through the relay.
func (c *Client) Send(ctx context.Context, msg Message) error {
	if c.host == "" {
		return fmt.Errorf("mailer: no relay configured")
	}
	if len(msg.To) == 0 {
		return fmt.Errorf("mailer: at least one recipient is required")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	var auth smtp.Auth
	if c.username != "" {
		auth = smtp.PlainAuth("", c.username, c.password, c.host)
	}

	addr := fmt.Sprintf("%s:%d", c.host, c.port)
	return c.send(addr, auth, c.from, msg.To, c.encode(msg))
}

func (c *Client) encode(msg Message) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", c.from)
	fmt.Fprintf(&b, "To: %s\r\n", strings.Join(msg.To, ", "))
	fmt.Fprintf(&b, "Subject: %s\r\n", sanitizeHeader(msg.Subject))
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=utf-8\r\n")
	b.WriteString("\r\n")
	b.WriteString(msg.Body)
	return []byte(b.String())
}

// sanitizeHeader strips CR/LF to prevent header injection from plugin input.
func sanitizeHeader(s string) string {
	s = strings.ReplaceAll(s, "\r", "")
	return strings.ReplaceAll(s, "\n", "")
}
