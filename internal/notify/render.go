package notify

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"text/template"
	"time"

	"github.com/t77yq/resale-alerts/internal/model"
)

const (
	// DefaultSubjectTemplate renders the notification subject
	DefaultSubjectTemplate = `[{{ .Severity | upper }}] {{ .Message }}`

	// DefaultBodyTemplate renders the notification body
	DefaultBodyTemplate = `{{ .Message }}

Type: {{ kind .Type }}
Severity: {{ .Severity }}
{{- if .ClientID }}
Client: {{ .ClientID }}
{{- end }}
{{- if .PlatformID }}
Platform: {{ .PlatformID }}
{{- end }}
{{ kind .EntityType }}: {{ .EntityID }}
Amount: {{ .Amount.StringFixed 2 }}
Raised: {{ fmtTime .CreatedAt }}
`
)

func funcMap() template.FuncMap {
	return template.FuncMap{
		"upper":   upper,
		"kind":    kind,
		"fmtTime": formatTime,
		"json":    marshalJSON,
	}
}

func upper(value any) string {
	return strings.ToUpper(fmt.Sprint(value))
}

// kind turns an enum value such as client_charge into "Client charge"
func kind(value any) string {
	s := strings.ReplaceAll(fmt.Sprint(value), "_", " ")
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

func formatTime(t time.Time) string {
	return t.UTC().Format("2006-01-02 15:04 MST")
}

func marshalJSON(value any) string {
	encoded, err := json.Marshal(value)
	if err != nil {
		return "null"
	}
	return string(encoded)
}

// Renderer turns alerts into notification subject and body text
type Renderer struct {
	subject *template.Template
	body    *template.Template
}

// NewRenderer parses the subject and body templates. Empty templates fall back to the defaults.
func NewRenderer(subject, body string) (*Renderer, error) {
	if strings.TrimSpace(subject) == "" {
		subject = DefaultSubjectTemplate
	}
	if strings.TrimSpace(body) == "" {
		body = DefaultBodyTemplate
	}

	subjectTmpl, err := parseTemplate("subject", subject)
	if err != nil {
		return nil, fmt.Errorf("invalid subject template: %w", err)
	}
	bodyTmpl, err := parseTemplate("body", body)
	if err != nil {
		return nil, fmt.Errorf("invalid body template: %w", err)
	}
	return &Renderer{subject: subjectTmpl, body: bodyTmpl}, nil
}

func parseTemplate(name, text string) (*template.Template, error) {
	return template.New(name).Funcs(funcMap()).Option("missingkey=error").Parse(text)
}

// Render executes both templates against the alert
func (r *Renderer) Render(alert *model.Alert) (Notification, error) {
	var subject, body bytes.Buffer
	if err := r.subject.Execute(&subject, alert); err != nil {
		return Notification{}, fmt.Errorf("failed to render subject: %w", err)
	}
	if err := r.body.Execute(&body, alert); err != nil {
		return Notification{}, fmt.Errorf("failed to render body: %w", err)
	}
	return Notification{
		// Header values must stay on one line.
		Subject: strings.Join(strings.Fields(subject.String()), " "),
		Body:    body.String(),
		Alert:   alert,
	}, nil
}
