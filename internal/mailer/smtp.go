// Package mailer sends share-notification emails. Delivery is best-effort:
// callers log failures and move on.
package mailer

import (
	"bytes"
	"context"
	"embed"
	"fmt"
	"html/template"
	"net/smtp"
	"path/filepath"
)

// Built-in copies of the templates, so a deployment without a templates
// directory still sends the HTML form.
//
//go:embed templates/*.html
var builtinTemplates embed.FS

const (
	contentTypeHTML  = "text/html; charset=UTF-8"
	contentTypePlain = "text/plain; charset=UTF-8"
)

type TemplateRender struct {
	templatesDir string
	templates    map[string]*template.Template
}

func NewTemplateRender(templatesDir string) *TemplateRender {
	return &TemplateRender{
		templatesDir: templatesDir,
		templates:    make(map[string]*template.Template),
	}
}

// LoadTemplate prefers the on-disk template, so operators can restyle mails
// without a rebuild, and falls back to the compiled-in copy.
func (r *TemplateRender) LoadTemplate(name string) (*template.Template, error) {
	if tmpl, ok := r.templates[name]; ok {
		return tmpl, nil
	}

	path := filepath.Join(r.templatesDir, name+".html")
	tmpl, err := template.ParseFiles(path)
	if err != nil {
		tmpl, err = template.ParseFS(builtinTemplates, "templates/"+name+".html")
		if err != nil {
			return nil, err
		}
	}

	r.templates[name] = tmpl
	return tmpl, nil
}

func (r *TemplateRender) Render(name string, data interface{}) (string, error) {
	tmpl, err := r.LoadTemplate(name)
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", err
	}

	return buf.String(), nil
}

type SMTPMailer struct {
	Host    string
	Port    int
	User    string
	Pass    string
	From    string
	BaseURL string
	Render  *TemplateRender
}

// NotifyShare tells someone a vault or document was shared with them. The
// HTML template is preferred; a plain-text fallback is used when no template
// can be loaded at all, and is sent as text/plain.
func (m *SMTPMailer) NotifyShare(ctx context.Context, to, sharerName, resourceName string) error {
	data := map[string]interface{}{
		"SharerName":   sharerName,
		"ResourceName": resourceName,
		"OpenURL":      m.BaseURL,
	}

	contentType := contentTypeHTML
	body, err := m.Render.Render("share_notice", data)
	if err != nil {
		contentType = contentTypePlain
		body = fmt.Sprintf(`
Hello,

%s shared "%s" with you.

Open it here:
%s

Best regards,
The Apex Team
`, sharerName, resourceName, m.BaseURL)
	}

	subject := fmt.Sprintf("%s shared %q with you", sharerName, resourceName)
	return m.sendEmail(ctx, to, subject, body, contentType)
}

func (m *SMTPMailer) sendEmail(ctx context.Context, to, subject, body, contentType string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	auth := smtp.PlainAuth("", m.User, m.Pass, m.Host)
	addr := fmt.Sprintf("%s:%d", m.Host, m.Port)
	return smtp.SendMail(addr, auth, m.From, []string{to}, m.buildMessage(to, subject, body, contentType))
}

func (m *SMTPMailer) buildMessage(to, subject, body, contentType string) []byte {
	headers := make(map[string]string)
	headers["From"] = m.From
	headers["To"] = to
	headers["Subject"] = subject
	headers["MIME-Version"] = "1.0"
	headers["Content-Type"] = contentType

	var message bytes.Buffer
	for k, v := range headers {
		message.WriteString(fmt.Sprintf("%s: %s\r\n", k, v))
	}
	message.WriteString("\r\n")
	message.WriteString(body)
	return message.Bytes()
}
