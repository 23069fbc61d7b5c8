package google

import (
	"context"
	"encoding/base64"
	"fmt"
	"mime"
	"net/http"
	"strings"

	"go.uber.org/zap"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"
)

// GmailSender sends mail through the Gmail API as the authorized user.
type GmailSender struct {
	svc      *gmail.Service
	from     string
	fromName string
	logger   *zap.Logger
}

func NewGmailSender(ctx context.Context, client *http.Client, from, fromName string, logger *zap.Logger, opts ...option.ClientOption) (*GmailSender, error) {
	opts = append([]option.ClientOption{option.WithHTTPClient(client)}, opts...)
	svc, err := gmail.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create gmail service: %w", err)
	}
	return &GmailSender{svc: svc, from: from, fromName: fromName, logger: logger}, nil
}

func (g *GmailSender) Send(ctx context.Context, to, subject, body string) error {
	msg := &gmail.Message{
		Raw: base64.URLEncoding.EncodeToString([]byte(buildRFC822(g.fromHeader(), to, subject, body))),
	}
	sent, err := g.svc.Users.Messages.Send("me", msg).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("failed to send gmail message: %w", err)
	}
	g.logger.Info("Email sent via Gmail", zap.String("to", to), zap.String("message_id", sent.Id))
	return nil
}

func (g *GmailSender) fromHeader() string {
	if g.from == "" {
		return ""
	}
	if g.fromName == "" {
		return g.from
	}
	return fmt.Sprintf("%s <%s>", mime.QEncoding.Encode("utf-8", g.fromName), g.from)
}

func buildRFC822(from, to, subject, body string) string {
	var b strings.Builder
	if from != "" {
		b.WriteString("From: " + from + "\r\n")
	}
	b.WriteString("To: " + to + "\r\n")
	b.WriteString("Subject: " + mime.QEncoding.Encode("utf-8", subject) + "\r\n")
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=\"UTF-8\"\r\n")
	b.WriteString("\r\n")
	b.WriteString(body)
	return b.String()
}
