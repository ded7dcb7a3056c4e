// Package funnels tracks named multi-step conversion funnels per session.
// Funnel instances are derived asynchronously from raw behavior events by the
// background processor; nothing in the ingestion path touches them.
package funnels

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"pulsekit/internal/behavior"
)

// StepDef describes one funnel step: an event type observed on a page whose
// path starts with PagePrefix.
type StepDef struct {
	Name       string
	Order      int
	EventType  behavior.EventType
	PagePrefix string
}

// Definition is a named funnel with its ordered steps and the conversion type
// written onto the session when the funnel completes.
type Definition struct {
	Name           string
	ConversionType string
	Steps          []StepDef
}

// Built-in funnel names.
const (
	FunnelContact        = "contact"
	FunnelProjectInquiry = "project-inquiry"
	FunnelNewsletter     = "newsletter"
)

var definitions = []Definition{
	{
		Name:           FunnelContact,
		ConversionType: "contact_form",
		Steps: []StepDef{
			{Name: "view_contact", Order: 0, EventType: behavior.EventTypePageLoad, PagePrefix: "/contact"},
			{Name: "submit_contact", Order: 1, EventType: behavior.EventTypeSubmit, PagePrefix: "/contact"},
			{Name: "confirmation", Order: 2, EventType: behavior.EventTypePageLoad, PagePrefix: "/contact/thanks"},
		},
	},
	{
		Name:           FunnelProjectInquiry,
		ConversionType: "project_inquiry",
		Steps: []StepDef{
			{Name: "view_services", Order: 0, EventType: behavior.EventTypePageLoad, PagePrefix: "/services"},
			{Name: "open_inquiry", Order: 1, EventType: behavior.EventTypePageLoad, PagePrefix: "/services/inquiry"},
			{Name: "submit_inquiry", Order: 2, EventType: behavior.EventTypeSubmit, PagePrefix: "/services/inquiry"},
		},
	},
	{
		Name:           FunnelNewsletter,
		ConversionType: "newsletter_signup",
		Steps: []StepDef{
			{Name: "focus_signup", Order: 0, EventType: behavior.EventTypeFocus, PagePrefix: "/"},
			{Name: "submit_signup", Order: 1, EventType: behavior.EventTypeSubmit, PagePrefix: "/"},
		},
	},
}

// Definitions returns the built-in funnel definitions.
func Definitions() []Definition {
	return definitions
}

// DefinitionByName looks up a built-in funnel definition.
func DefinitionByName(name string) (Definition, bool) {
	for _, def := range definitions {
		if def.Name == name {
			return def, true
		}
	}
	return Definition{}, false
}

// Matches reports whether an event satisfies this step.
func (s StepDef) Matches(event *behavior.Event) bool {
	if event.EventType != s.EventType {
		return false
	}
	return strings.HasPrefix(pagePath(event.PageURL), s.PagePrefix)
}

// pagePath extracts the path component of a page URL, tolerating bare paths.
func pagePath(raw string) string {
	if raw == "" {
		return "/"
	}
	if parsed, err := url.Parse(raw); err == nil && parsed.Path != "" {
		return parsed.Path
	}
	return raw
}

// StepProgress records the completion state of one step inside an instance.
type StepProgress struct {
	Name        string     `json:"name"`
	Order       int        `json:"order"`
	Completed   bool       `json:"completed"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
	TimeSpentMs int64      `json:"timeSpentMs"`
}

// Instance is the per-session progress through one funnel.
// CurrentStep counts completed steps and never decreases; Completed implies
// CompletedAt is set and DroppedOffAt is nil.
type Instance struct {
	ID              uint   `gorm:"primaryKey"`
	FunnelName      string `gorm:"uniqueIndex:idx_funnel_session;not null"`
	SessionID       string `gorm:"uniqueIndex:idx_funnel_session;not null"`
	Steps           string `gorm:"type:text"`
	CurrentStep     int    `gorm:"not null;default:0"`
	Completed       bool
	DroppedOffAt    *int
	DropoffReason   string
	StartedAt       time.Time
	CompletedAt     *time.Time
	TotalDurationMs int64
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// StepProgressList decodes the stored step states.
func (i *Instance) StepProgressList() ([]StepProgress, error) {
	if i.Steps == "" {
		return nil, nil
	}
	var steps []StepProgress
	if err := json.Unmarshal([]byte(i.Steps), &steps); err != nil {
		return nil, fmt.Errorf("failed to decode funnel steps: %w", err)
	}
	return steps, nil
}

func (i *Instance) setStepProgress(steps []StepProgress) error {
	data, err := json.Marshal(steps)
	if err != nil {
		return fmt.Errorf("failed to encode funnel steps: %w", err)
	}
	i.Steps = string(data)
	return nil
}

// newInstance builds a fresh instance with all steps pending.
func newInstance(def Definition, sessionID string, startedAt time.Time) (*Instance, error) {
	steps := make([]StepProgress, len(def.Steps))
	for idx, s := range def.Steps {
		steps[idx] = StepProgress{Name: s.Name, Order: s.Order}
	}

	instance := &Instance{
		FunnelName:  def.Name,
		SessionID:   sessionID,
		CurrentStep: 0,
		StartedAt:   startedAt,
		CreatedAt:   time.Now().UTC(),
	}
	if err := instance.setStepProgress(steps); err != nil {
		return nil, err
	}
	return instance, nil
}
