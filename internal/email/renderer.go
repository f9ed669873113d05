package email

import (
	"bytes"
	"fmt"
	"html/template"
	"net/url"
	"strings"

	"taskpilot/internal/domain"
)

const (
	SubjectVerification  = "(TaskPilot) Verify Your Email"
	SubjectPasswordReset = "(TaskPilot) Reset Your Password"
)

const layout = `<html>
  <body style="font-family: Arial, sans-serif; background:#f4f4f7; padding:40px;">
    <table width="100%" style="max-width:600px;margin:auto;background:#fff;border-radius:8px;padding:40px;box-shadow:0 2px 8px rgba(0,0,0,0.1);">
      <tr>
        <td style="text-align:center;">
          <h1 style="color:#333;">{{.Title}}</h1>
          <p style="color:#555;font-size:16px;">{{.Intro}}</p>
          <a href="{{.Link}}" style="display:inline-block;margin-top:20px;padding:15px 25px;background:#007bff;color:#fff;text-decoration:none;border-radius:5px;">{{.Action}}</a>
          <p style="margin-top:30px;font-size:12px;color:#999;">{{.Footer}}</p>
        </td>
      </tr>
    </table>
  </body>
</html>
`

var mailTemplate = template.Must(template.New("mail").Parse(layout))

type templateData struct {
	Title  string
	Intro  string
	Link   string
	Action string
	Footer string
}

type mailKind struct {
	subject string
	path    string
	data    templateData
}

var kinds = map[domain.EmailJobKind]mailKind{
	domain.EmailJobVerification: {
		subject: SubjectVerification,
		path:    "/verify-email",
		data: templateData{
			Title:  "Verify Your Email",
			Intro:  "Thank you for signing up! Please click the button below to verify your email address and activate your account.",
			Action: "Verify Email",
			Footer: "If you did not sign up for this account, please ignore this email.",
		},
	},
	domain.EmailJobPasswordReset: {
		subject: SubjectPasswordReset,
		path:    "/reset-password",
		data: templateData{
			Title:  "Reset Your Password",
			Intro:  "You have requested to reset your password. Please click the button below to reset your password.",
			Action: "Reset Password",
			Footer: "If you did not request to reset your password, please ignore this email.",
		},
	},
}

// Renderer convierte un EmailJob en un Message con el enlace al frontend.
type Renderer struct {
	frontendURL string
}

func NewRenderer(frontendURL string) (*Renderer, error) {
	base := strings.TrimRight(strings.TrimSpace(frontendURL), "/")
	parsed, err := url.Parse(base)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("invalid frontend url %q", frontendURL)
	}
	return &Renderer{frontendURL: base}, nil
}

// Link arma el enlace profundo para el tipo de correo.
func (r *Renderer) Link(kind domain.EmailJobKind, token string) (string, error) {
	mk, ok := kinds[kind]
	if !ok {
		return "", fmt.Errorf("unknown email kind %q", kind)
	}
	return r.frontendURL + mk.path + "?" + url.Values{"token": {token}}.Encode(), nil
}

func (r *Renderer) Render(job domain.EmailJob) (Message, error) {
	if strings.TrimSpace(job.RecipientEmail) == "" {
		return Message{}, fmt.Errorf("recipient is required")
	}
	if strings.TrimSpace(job.TokenValue) == "" {
		return Message{}, fmt.Errorf("token is required")
	}
	mk, ok := kinds[job.Kind]
	if !ok {
		return Message{}, fmt.Errorf("unknown email kind %q", job.Kind)
	}
	link, err := r.Link(job.Kind, job.TokenValue)
	if err != nil {
		return Message{}, err
	}

	data := mk.data
	data.Link = link
	var buf bytes.Buffer
	if err := mailTemplate.Execute(&buf, data); err != nil {
		return Message{}, fmt.Errorf("render %s: %w", job.Kind, err)
	}
	return Message{
		To:      job.RecipientEmail,
		Subject: mk.subject,
		HTML:    buf.String(),
	}, nil
}
