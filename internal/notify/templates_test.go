package notify

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alertops-platform/caseflow/internal/model"
)

func TestRenderDefaultTemplates(t *testing.T) {
	set, err := LoadTemplates("")
	require.NoError(t, err)

	c := &model.Case{
		Number:      "CASE-20260801-AB12CD",
		Title:       "Disk almost full",
		Severity:    model.SeverityCritical,
		Priority:    model.PriorityUrgent,
		Status:      model.StatusOpen,
		SLADeadline: time.Date(2026, 8, 1, 16, 0, 0, 0, time.UTC),
	}

	subject, body := set.Render(model.EventCaseCreated, c)
	assert.Equal(t, "[CRITICAL] CASE-20260801-AB12CD: Disk almost full", subject)
	assert.Contains(t, body, "Severity: CRITICAL (P1)")
	assert.Contains(t, body, "2026-08-01T16:00:00Z")

	subject, _ = set.Render(model.EventSLABreached, c)
	assert.Contains(t, subject, "SLA BREACH")
}

func TestRenderOverrideFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "templates.yaml")
	override := "case_created:\n  subject: \"NEW {{.Number}}\"\n"
	require.NoError(t, os.WriteFile(path, []byte(override), 0o644))

	set, err := LoadTemplates(path)
	require.NoError(t, err)

	c := &model.Case{Number: "CASE-1", Title: "x"}

	subject, body := set.Render(model.EventCaseCreated, c)
	assert.Equal(t, "NEW CASE-1", subject)
	assert.Contains(t, body, "was created", "body keeps the default when only the subject is overridden")

	subject, _ = set.Render(model.EventCaseClosed, c)
	assert.Equal(t, "CASE-1 closed", subject, "untouched events keep their defaults")
}

func TestLoadTemplatesBadFile(t *testing.T) {
	_, err := LoadTemplates(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("case_created:\n  subject: \"{{.Broken\"\n"), 0o644))
	_, err = LoadTemplates(path)
	assert.Error(t, err)
}
