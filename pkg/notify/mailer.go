// Package notify emails the task owner when a round has been deployed.
package notify

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"time"

	"github.com/mailersend/mailersend-go"
	"github.com/rs/zerolog"

	"github.com/nedaZarei/PagesDeployService/pkg/models"
)

const DefaultTimeout = 5 * time.Second

type Config struct {
	APIKey    string
	FromName  string
	FromEmail string
	Timeout   time.Duration
}

var htmlBody = template.Must(template.New("email").Parse(`<p>Round {{.Round}} of <strong>{{.Task}}</strong> is live.</p>
<ul>
<li>Repository: <a href="{{.RepoURL}}">{{.RepoURL}}</a></li>
<li>Site: <a href="{{.PagesURL}}">{{.PagesURL}}</a></li>
{{- if .CommitSHA}}
<li>Commit: {{.CommitSHA}}</li>
{{- end}}
</ul>
`))

type Mailer struct {
	ms      *mailersend.Mailersend
	from    mailersend.From
	timeout time.Duration
	log     zerolog.Logger
}

func New(cfg Config, logger zerolog.Logger) *Mailer {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	return &Mailer{
		ms:      mailersend.NewMailersend(cfg.APIKey),
		from:    mailersend.From{Name: cfg.FromName, Email: cfg.FromEmail},
		timeout: cfg.Timeout,
		log:     logger.With().Str("component", "notify").Logger(),
	}
}

// NotifyDeployed sends the deployment summary to result.Email.
func (m *Mailer) NotifyDeployed(ctx context.Context, result models.DeploymentResult) error {
	if result.Email == "" {
		m.log.Debug().Str("nonce", result.Nonce).Msg("no recipient, skipping email")
		return nil
	}

	subject, text, html, err := render(result)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	message := m.ms.Email.NewMessage()
	message.SetFrom(m.from)
	message.SetRecipients([]mailersend.Recipient{{Email: result.Email}})
	message.SetSubject(subject)
	message.SetHTML(html)
	message.SetText(text)

	if _, err := m.ms.Email.Send(ctx, message); err != nil {
		return fmt.Errorf("send deployment email to %s: %w", result.Email, err)
	}
	m.log.Info().Str("nonce", result.Nonce).Int("round", result.Round).Msg("sent deployment email")
	return nil
}

func render(result models.DeploymentResult) (subject, text, html string, err error) {
	subject = fmt.Sprintf("Round %d of %s deployed", result.Round, result.Task)

	sha := ""
	if result.CommitSHA != nil {
		sha = *result.CommitSHA
	}
	text = fmt.Sprintf("Round %d of %s is live.\nRepository: %s\nSite: %s\n", result.Round, result.Task, result.RepoURL, result.PagesURL)
	if sha != "" {
		text += "Commit: " + sha + "\n"
	}

	var buf bytes.Buffer
	err = htmlBody.Execute(&buf, struct {
		models.DeploymentResult
		CommitSHA string
	}{result, sha})
	if err != nil {
		return "", "", "", fmt.Errorf("render deployment email: %w", err)
	}
	return subject, text, buf.String(), nil
}
