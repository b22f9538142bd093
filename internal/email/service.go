// Package email sends transactional mail through SendGrid, or prints it to
// the console when no API key is configured.
package email

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"io"
	"net/http"
	"os"
	"strings"
	"sync"

	"github.com/sendgrid/sendgrid-go"
	sgmail "github.com/sendgrid/sendgrid-go/helpers/mail"

	"metalearn/api/internal/logging"
)

const (
	defaultHost = "https://api.sendgrid.com"
	endpoint    = "/v3/mail/send"
)

type Config struct {
	SendGridAPIKey string
	From           string
	FromName       string
	// Host overrides the SendGrid API host.
	Host string
	// Console receives messages when SendGrid is not configured.
	Console io.Writer
}

type Message struct {
	To      string
	ToName  string
	Subject string
	Text    string
	HTML    string
}

// Sender delivers a single message.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

type Service struct {
	config Config
	sender Sender
}

func NewService(config Config) *Service {
	s := &Service{config: config}
	if s.IsConfigured() {
		host := config.Host
		if host == "" {
			host = defaultHost
		}
		s.sender = &sendgridSender{key: config.SendGridAPIKey, host: host, from: sgmail.NewEmail(config.FromName, config.From)}
	} else {
		out := config.Console
		if out == nil {
			out = os.Stdout
		}
		s.sender = &consoleSender{out: out, from: config.From}
	}
	return s
}

// IsConfigured returns true if SendGrid delivery is configured.
func (s *Service) IsConfigured() bool {
	return s.config.SendGridAPIKey != "" && s.config.From != ""
}

func (s *Service) Send(ctx context.Context, msg Message) error {
	if strings.TrimSpace(msg.To) == "" {
		return fmt.Errorf("email has no recipient")
	}
	return s.sender.Send(ctx, msg)
}

type ApplicationData struct {
	AppName     string
	FullName    string
	CourseTitle string
	Status      string
	// TemporaryPassword is set when approval created a new account.
	TemporaryPassword string
}

// SendApplicationReceived acknowledges a tutor application.
func (s *Service) SendApplicationReceived(ctx context.Context, to, fullName, courseTitle string) error {
	data := ApplicationData{AppName: "MetaLearn", FullName: fullName, CourseTitle: courseTitle}
	html, err := renderTemplate(applicationReceivedTemplate, data)
	if err != nil {
		return fmt.Errorf("render application received template: %w", err)
	}
	return s.Send(ctx, Message{
		To:      to,
		ToName:  fullName,
		Subject: "We received your MetaLearn tutor application",
		Text:    fmt.Sprintf("Hi %s, thanks for applying to teach %q on MetaLearn. Our team will review your application and get back to you.", fullName, courseTitle),
		HTML:    html,
	})
}

// SendApplicationDecision tells an applicant whether they were approved.
func (s *Service) SendApplicationDecision(ctx context.Context, to string, data ApplicationData) error {
	data.AppName = "MetaLearn"
	html, err := renderTemplate(applicationDecisionTemplate, data)
	if err != nil {
		return fmt.Errorf("render application decision template: %w", err)
	}
	text := fmt.Sprintf("Hi %s, your application to teach %q was %s.", data.FullName, data.CourseTitle, data.Status)
	if data.TemporaryPassword != "" {
		text += " Sign in to the tutor dashboard with this email and the temporary password " + data.TemporaryPassword + "."
	}
	return s.Send(ctx, Message{
		To:      to,
		ToName:  data.FullName,
		Subject: "Your MetaLearn tutor application was " + data.Status,
		Text:    text,
		HTML:    html,
	})
}

type sendgridSender struct {
	key  string
	host string
	from *sgmail.Email
}

func (s *sendgridSender) Send(_ context.Context, msg Message) error {
	p := sgmail.NewPersonalization()
	p.Subject = msg.Subject
	p.AddTos(sgmail.NewEmail(msg.ToName, msg.To))

	m := sgmail.NewV3Mail()
	m.SetFrom(s.from)
	m.AddPersonalizations(p)
	m.AddContent(sgmail.NewContent("text/plain", msg.Text))
	if msg.HTML != "" {
		m.AddContent(sgmail.NewContent("text/html", msg.HTML))
	}

	req := sendgrid.GetRequest(s.key, endpoint, s.host)
	req.Method = http.MethodPost
	req.Body = sgmail.GetRequestBody(m)

	res, err := sendgrid.API(req)
	if err != nil {
		return fmt.Errorf("sendgrid request: %w", err)
	}
	if res.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("sendgrid returned status %d: %s", res.StatusCode, res.Body)
	}
	return nil
}

type consoleSender struct {
	mu   sync.Mutex
	out  io.Writer
	from string
}

func (c *consoleSender) Send(_ context.Context, msg Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	logging.Info().Str("to", msg.To).Str("subject", msg.Subject).Msg("email delivered to console")
	_, err := fmt.Fprintf(c.out, "From: %s\nTo: %s\nSubject: %s\n\n%s\n\n", c.from, msg.To, msg.Subject, msg.Text)
	return err
}

func renderTemplate(tmpl string, data interface{}) (string, error) {
	t, err := template.New("email").Parse(tmpl)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

const emailStyles = `
        body { font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; line-height: 1.6; color: #333; max-width: 600px; margin: 0 auto; padding: 20px; }
        .header { border-bottom: 2px solid #4f46e5; padding-bottom: 10px; margin-bottom: 20px; }
        .footer { margin-top: 30px; padding-top: 20px; border-top: 1px solid #eee; font-size: 12px; color: #666; }`

const applicationReceivedTemplate = `<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <title>{{.AppName}} tutor application</title>
    <style>` + emailStyles + `</style>
</head>
<body>
    <div class="header"><h1>{{.AppName}}</h1></div>
    <p>Hi {{.FullName}},</p>
    <p>Thanks for applying to teach <strong>{{.CourseTitle}}</strong>. Our team reviews every application and will get back to you soon.</p>
    <div class="footer"><p>You are receiving this because you applied to become a {{.AppName}} tutor.</p></div>
</body>
</html>`

const applicationDecisionTemplate = `<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <title>{{.AppName}} tutor application</title>
    <style>` + emailStyles + `</style>
</head>
<body>
    <div class="header"><h1>{{.AppName}}</h1></div>
    <p>Hi {{.FullName}},</p>
    <p>Your application to teach <strong>{{.CourseTitle}}</strong> was <strong>{{.Status}}</strong>.</p>
    {{if eq .Status "approved"}}<p>You can now sign in to the tutor dashboard with this email address.</p>{{end}}
    {{with .TemporaryPassword}}<p>Your temporary password is <code>{{.}}</code>. Please change it after your first sign-in.</p>{{end}}
    <div class="footer"><p>You are receiving this because you applied to become a {{.AppName}} tutor.</p></div>
</body>
</html>`
