package notify

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/wneessen/go-mail"
)

const defaultSMTPTimeout = 10 * time.Second

type Sender interface {
	Send(ctx context.Context, to, subject, body string) error
}

// SMTPSender delivers plain text mail. Auth is used only when Username is set;
// TLS is used when the server offers STARTTLS.
type SMTPSender struct {
	Addr     string
	From     string
	Username string
	Password string
	// bounds dialing and every SMTP exchange; defaults to 10s
	Timeout time.Duration
}

func (s *SMTPSender) Send(ctx context.Context, to, subject, body string) error {
	msg, err := newMessage(s.From, to, subject, body)
	if err != nil {
		return err
	}
	c, err := s.client()
	if err != nil {
		return err
	}
	if err := c.DialAndSendWithContext(ctx, msg); err != nil {
		return fmt.Errorf("smtp send: %w", err)
	}
	return nil
}

func (s *SMTPSender) timeout() time.Duration {
	if s.Timeout > 0 {
		return s.Timeout
	}
	return defaultSMTPTimeout
}

func (s *SMTPSender) client() (*mail.Client, error) {
	host, portStr, err := net.SplitHostPort(s.Addr)
	if err != nil {
		return nil, fmt.Errorf("smtp addr: %w", err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, fmt.Errorf("smtp port: %w", err)
	}

	opts := []mail.Option{
		mail.WithTLSPolicy(mail.TLSOpportunistic),
		mail.WithPort(port),
		mail.WithTimeout(s.timeout()),
		mail.WithDialContextFunc(s.dial),
	}
	if s.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(s.Username),
			mail.WithPassword(s.Password),
		)
	}
	return mail.NewClient(host, opts...)
}

// dial puts a hard deadline on the connection so a server that accepts and
// then stays silent cannot hold the caller past the timeout or ctx deadline.
func (s *SMTPSender) dial(ctx context.Context, network, addr string) (net.Conn, error) {
	d := net.Dialer{Timeout: s.timeout()}
	conn, err := d.DialContext(ctx, network, addr)
	if err != nil {
		return nil, err
	}
	deadline := time.Now().Add(s.timeout())
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
		deadline = ctxDeadline
	}
	if err := conn.SetDeadline(deadline); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return conn, nil
}

func newMessage(from, to, subject, body string) (*mail.Msg, error) {
	m := mail.NewMsg()
	if err := m.From(from); err != nil {
		return nil, fmt.Errorf("mail from: %w", err)
	}
	if err := m.To(to); err != nil {
		return nil, fmt.Errorf("mail to: %w", err)
	}
	m.Subject(subject)
	m.SetDate()
	m.SetBodyString(mail.TypeTextPlain, body)
	return m, nil
}

func otpMail(name, code string) (subject, body string) {
	greeting := "Hello"
	if name != "" {
		greeting += " " + name
	}
	subject = "Your farmgoods verification code"
	body = fmt.Sprintf("%s,\n\nYour verification code is %s.\nIt expires in a few minutes. If you did not request it, ignore this message.\n", greeting, code)
	return subject, body
}
