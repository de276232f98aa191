// Package notification renders the titles and bodies of staff alerts.
package notification

import (
	"fmt"
	"strings"
	"sync"
	"unicode/utf8"
)

// Template IDs match the notification type stored on each row.
const (
	TemplateUrgentTask        = "urgent_task"
	TemplateMissedAppointment = "missed_appointment"
	TemplatePatientMessage    = "patient_message"
)

type Template struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	Body  string `json:"body"`
}

// TemplateEngine holds alert templates and fills {{key}} placeholders.
type TemplateEngine struct {
	mu        sync.RWMutex
	templates map[string]*Template
}

func NewTemplateEngine() *TemplateEngine {
	e := &TemplateEngine{templates: make(map[string]*Template)}
	for _, t := range []Template{
		{
			ID:    TemplateUrgentTask,
			Title: "🚨 Urgent Task",
			Body:  "{{task_title}} for {{patient_name}}",
		},
		{
			ID:    TemplateMissedAppointment,
			Title: "⚠️ Missed Appointment",
			Body:  "{{patient_name}} missed their appointment on {{date}}",
		},
		{
			ID:    TemplatePatientMessage,
			Title: "💬 New Patient Message",
			Body:  "{{patient_name}}: {{preview}}",
		},
	} {
		e.RegisterTemplate(t)
	}
	return e
}

// RegisterTemplate adds or replaces a template.
func (e *TemplateEngine) RegisterTemplate(t Template) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.templates[t.ID] = &t
}

// Render substitutes data into the template in a single pass, so values
// that themselves contain "{{...}}" are not expanded again. Unknown
// placeholders are left as-is.
func (e *TemplateEngine) Render(templateID string, data map[string]string) (title, body string, err error) {
	e.mu.RLock()
	t, ok := e.templates[templateID]
	e.mu.RUnlock()
	if !ok {
		return "", "", fmt.Errorf("template %q not found", templateID)
	}

	pairs := make([]string, 0, len(data)*2)
	for k, v := range data {
		pairs = append(pairs, "{{"+k+"}}", v)
	}
	r := strings.NewReplacer(pairs...)
	return r.Replace(t.Title), r.Replace(t.Body), nil
}

// Truncate shortens s to max runes, appending "..." when cut.
func Truncate(s string, max int) string {
	if max <= 0 || utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	return string(runes[:max]) + "..."
}
