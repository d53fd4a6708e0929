package notify

import (
	"bytes"
	"fmt"
	"os"
	"text/template"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/alertops-platform/caseflow/internal/model"
)

// messageTemplate is one subject/body pair, templated over templateData.
type messageTemplate struct {
	Subject string `yaml:"subject"`
	Body    string `yaml:"body"`
}

var defaultTemplates = map[model.CaseEventType]messageTemplate{
	model.EventCaseCreated: {
		Subject: "[{{.Severity}}] {{.Number}}: {{.Title}}",
		Body:    "Case {{.Number}} was created.\n\nTitle: {{.Title}}\nSeverity: {{.Severity}} (P{{.Priority}})\nSLA deadline: {{.SLADeadline}}\n",
	},
	model.EventCaseAssigned: {
		Subject: "[{{.Severity}}] {{.Number}} assigned to you",
		Body:    "Case {{.Number}} ({{.Title}}) has been assigned to you.\n\nSLA deadline: {{.SLADeadline}}\n",
	},
	model.EventCaseReopened: {
		Subject: "[{{.Severity}}] {{.Number}} reopened",
		Body:    "The alert behind case {{.Number}} ({{.Title}}) fired again and the case was reopened.\n\nAlerts so far: {{.AlertCount}}\nNew SLA deadline: {{.SLADeadline}}\n",
	},
	model.EventSLABreached: {
		Subject: "SLA BREACH: {{.Number}} ({{.Severity}})",
		Body:    "Case {{.Number}} ({{.Title}}) missed its SLA deadline of {{.SLADeadline}} and is still {{.Status}}.\n",
	},
	model.EventCaseResolved: {
		Subject: "{{.Number}} resolved",
		Body:    "Case {{.Number}} ({{.Title}}) has been resolved.\n",
	},
	model.EventCaseClosed: {
		Subject: "{{.Number}} closed",
		Body:    "Case {{.Number}} ({{.Title}}) has been closed.\n",
	},
}

type templateData struct {
	Number      string
	Title       string
	Severity    model.CaseSeverity
	Priority    int
	Status      model.CaseStatus
	SLADeadline string
	AlertCount  int
}

// TemplateSet renders notification subjects and bodies per event type.
type TemplateSet struct {
	subjects map[model.CaseEventType]*template.Template
	bodies   map[model.CaseEventType]*template.Template
}

// LoadTemplates builds the template set from the defaults, overridden per
// event type by an optional YAML file mapping event type to subject/body.
func LoadTemplates(path string) (*TemplateSet, error) {
	sources := make(map[model.CaseEventType]messageTemplate, len(defaultTemplates))
	for event, tmpl := range defaultTemplates {
		sources[event] = tmpl
	}

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read notification templates: %w", err)
		}
		var overrides map[model.CaseEventType]messageTemplate
		if err := yaml.Unmarshal(raw, &overrides); err != nil {
			return nil, fmt.Errorf("failed to parse notification templates: %w", err)
		}
		for event, tmpl := range overrides {
			base := sources[event]
			if tmpl.Subject != "" {
				base.Subject = tmpl.Subject
			}
			if tmpl.Body != "" {
				base.Body = tmpl.Body
			}
			sources[event] = base
		}
	}

	set := &TemplateSet{
		subjects: make(map[model.CaseEventType]*template.Template, len(sources)),
		bodies:   make(map[model.CaseEventType]*template.Template, len(sources)),
	}
	for event, tmpl := range sources {
		subject, err := template.New(string(event) + ".subject").Parse(tmpl.Subject)
		if err != nil {
			return nil, fmt.Errorf("invalid subject template for %s: %w", event, err)
		}
		body, err := template.New(string(event) + ".body").Parse(tmpl.Body)
		if err != nil {
			return nil, fmt.Errorf("invalid body template for %s: %w", event, err)
		}
		set.subjects[event] = subject
		set.bodies[event] = body
	}
	return set, nil
}

// Render produces the subject and body for one case event.
func (s *TemplateSet) Render(event model.CaseEventType, c *model.Case) (string, string) {
	data := templateData{
		Number:      c.Number,
		Title:       c.Title,
		Severity:    c.Severity,
		Priority:    c.Priority,
		Status:      c.Status,
		SLADeadline: c.SLADeadline.Format(time.RFC3339),
		AlertCount:  c.AlertCount,
	}

	subject := render(s.subjects[event], data, fmt.Sprintf("%s: %s", event, c.Number))
	body := render(s.bodies[event], data, fmt.Sprintf("case %s event %s", c.Number, event))
	return subject, body
}

func render(tmpl *template.Template, data templateData, fallback string) string {
	if tmpl == nil {
		return fallback
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return fallback
	}
	return buf.String()
}
