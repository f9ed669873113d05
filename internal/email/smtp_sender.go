package email

import (
	"context"
	"crypto/tls"
	"fmt"
	"mime"
	"net"
	"net/smtp"
	"strings"
	"time"
)

// SMTPTransport envia correos HTML via SMTP.
type SMTPTransport struct {
	host     string
	port     int
	username string
	password string
	from     string
	fromName string
	useTLS   bool
	timeout  time.Duration
}

func NewSMTPTransport(host string, port int, username, password, from, fromName string, useTLS bool, timeout time.Duration) (*SMTPTransport, error) {
	if strings.TrimSpace(host) == "" {
		return nil, fmt.Errorf("smtp host is required")
	}
	if strings.TrimSpace(from) == "" {
		return nil, fmt.Errorf("smtp from is required")
	}
	if port == 0 {
		port = 587
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &SMTPTransport{
		host:     host,
		port:     port,
		username: username,
		password: password,
		from:     from,
		fromName: fromName,
		useTLS:   useTLS,
		timeout:  timeout,
	}, nil
}

// Send abre una conexion por mensaje. El deadline del ctx acota toda la sesion SMTP.
func (s *SMTPTransport) Send(ctx context.Context, msg Message) error {
	if strings.TrimSpace(msg.To) == "" {
		return fmt.Errorf("to email is required")
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	addr := net.JoinHostPort(s.host, fmt.Sprint(s.port))
	conn, err := s.dial(ctx, addr)
	if err != nil {
		return s.wrap(ctx, "smtp dial", err)
	}
	defer conn.Close()
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}
	stop := context.AfterFunc(ctx, func() { _ = conn.SetDeadline(time.Now()) })
	defer stop()

	client, err := smtp.NewClient(conn, s.host)
	if err != nil {
		return s.wrap(ctx, "smtp handshake", err)
	}
	defer client.Close()

	if !s.useTLS {
		if ok, _ := client.Extension("STARTTLS"); ok {
			if err := client.StartTLS(&tls.Config{ServerName: s.host}); err != nil {
				return s.wrap(ctx, "smtp starttls", err)
			}
		}
	}
	if s.username != "" {
		if err := client.Auth(smtp.PlainAuth("", s.username, s.password, s.host)); err != nil {
			return s.wrap(ctx, "smtp auth", err)
		}
	}
	if err := client.Mail(s.from); err != nil {
		return s.wrap(ctx, "smtp mail", err)
	}
	if err := client.Rcpt(msg.To); err != nil {
		return s.wrap(ctx, "smtp rcpt", err)
	}
	writer, err := client.Data()
	if err != nil {
		return s.wrap(ctx, "smtp data", err)
	}
	if _, err := writer.Write(buildMessage(s.from, s.fromName, msg, time.Now())); err != nil {
		_ = writer.Close()
		return s.wrap(ctx, "smtp write", err)
	}
	if err := writer.Close(); err != nil {
		return s.wrap(ctx, "smtp data close", err)
	}
	return client.Quit()
}

func (s *SMTPTransport) dial(ctx context.Context, addr string) (net.Conn, error) {
	dialer := &net.Dialer{}
	if s.useTLS {
		tlsDialer := &tls.Dialer{NetDialer: dialer, Config: &tls.Config{ServerName: s.host}}
		return tlsDialer.DialContext(ctx, "tcp", addr)
	}
	return dialer.DialContext(ctx, "tcp", addr)
}

// wrap prefiere el error del ctx: un deadline vencido se reporta como tal y no como error de red.
func (s *SMTPTransport) wrap(ctx context.Context, op string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("%s: %w", op, ctxErr)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func buildMessage(from, fromName string, msg Message, now time.Time) []byte {
	fromHeader := from
	if strings.TrimSpace(fromName) != "" {
		fromHeader = fmt.Sprintf("%s <%s>", mime.QEncoding.Encode("utf-8", fromName), from)
	}

	headers := []string{
		fmt.Sprintf("From: %s", fromHeader),
		fmt.Sprintf("To: %s", msg.To),
		fmt.Sprintf("Subject: %s", mime.QEncoding.Encode("utf-8", msg.Subject)),
		fmt.Sprintf("Date: %s", now.UTC().Format(time.RFC1123Z)),
		"MIME-Version: 1.0",
		"Content-Type: text/html; charset=\"UTF-8\"",
		"Content-Transfer-Encoding: 8bit",
	}

	body := strings.ReplaceAll(msg.HTML, "\r\n", "\n")
	body = strings.ReplaceAll(body, "\n", "\r\n")
	return []byte(strings.Join(headers, "\r\n") + "\r\n\r\n" + body)
}
