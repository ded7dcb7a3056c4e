// Package behavior stores raw interaction events reported by the tracker.
// Events are immutable once written; background jobs fold them into funnel
// and heatmap aggregates and flip the Processed flag.
package behavior

import "time"

// EventType classifies a single browser interaction.
type EventType string

const (
	EventTypeClick      EventType = "click"
	EventTypeHover      EventType = "hover"
	EventTypeScroll     EventType = "scroll"
	EventTypeFocus      EventType = "focus"
	EventTypeBlur       EventType = "blur"
	EventTypeSubmit     EventType = "submit"
	EventTypeNavigation EventType = "navigation"
	EventTypePageLoad   EventType = "page_load"
	EventTypePageExit   EventType = "page_exit"
	EventTypeVideoPlay  EventType = "video_play"
	EventTypeVideoPause EventType = "video_pause"
	EventTypeDownload   EventType = "download"
	EventTypeError      EventType = "error"
)

// EventCategory groups events by the kind of element they were observed on.
type EventCategory string

const (
	CategoryButton     EventCategory = "button"
	CategoryLink       EventCategory = "link"
	CategoryForm       EventCategory = "form"
	CategoryProject    EventCategory = "project"
	CategoryNavigation EventCategory = "navigation"
	CategoryMedia      EventCategory = "media"
	CategoryCTA        EventCategory = "cta"
	CategorySocial     EventCategory = "social"
	CategoryOther      EventCategory = "other"
)

var validEventTypes = map[EventType]bool{
	EventTypeClick:      true,
	EventTypeHover:      true,
	EventTypeScroll:     true,
	EventTypeFocus:      true,
	EventTypeBlur:       true,
	EventTypeSubmit:     true,
	EventTypeNavigation: true,
	EventTypePageLoad:   true,
	EventTypePageExit:   true,
	EventTypeVideoPlay:  true,
	EventTypeVideoPause: true,
	EventTypeDownload:   true,
	EventTypeError:      true,
}

var validCategories = map[EventCategory]bool{
	CategoryButton:     true,
	CategoryLink:       true,
	CategoryForm:       true,
	CategoryProject:    true,
	CategoryNavigation: true,
	CategoryMedia:      true,
	CategoryCTA:        true,
	CategorySocial:     true,
	CategoryOther:      true,
}

// Valid reports whether t is a known event type.
func (t EventType) Valid() bool {
	return validEventTypes[t]
}

// Normalize coerces unknown categories into the "other" bucket.
func (c EventCategory) Normalize() EventCategory {
	if validCategories[c] {
		return c
	}
	return CategoryOther
}

// Event is one discrete interaction persisted exactly once and never updated.
// SessionID is a free-text join against sessions.session_id; referential
// integrity is deliberately not enforced.
type Event struct {
	ID              uint      `gorm:"primaryKey"`
	SessionID       string    `gorm:"index;not null"`
	EventType       EventType `gorm:"index;not null"`
	EventCategory   EventCategory
	ElementID       string
	ElementText     string
	ElementX        int
	ElementY        int
	ElementSelector string `gorm:"index"`
	PageURL         string `gorm:"index;not null"`
	ReferrerURL     string
	Timestamp       time.Time `gorm:"index;not null"`
	DecisionTimeMs  int64
	HoverDurationMs int64
	ScrollDepth     int
	ViewportW       int
	ViewportH       int
	Metadata        string    `gorm:"type:text"`
	CreatedAt       time.Time `gorm:"index"`
	Processed       int       `gorm:"index"`
}
