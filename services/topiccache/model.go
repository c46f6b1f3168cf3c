package topiccache

import (
	"strings"
	"time"

	"gorm.io/datatypes"
)

// DefaultTTL is how long a stored summary stays servable.
const DefaultTTL = 12 * time.Hour

// DefaultLocale is assumed when a lookup or store omits the locale.
const DefaultLocale = "us"

// SourceRef points at one article that contributed to a cached summary.
type SourceRef struct {
	Title       string `json:"title"`
	URL         string `json:"url"`
	Origin      string `json:"origin,omitempty"`
	PublishedAt string `json:"published_at,omitempty"`
}

// Entry is one cached summary. Entries are append-only; a repeated store for
// the same topic writes a new row and lookups prefer the newest fresh one.
type Entry struct {
	ID          string                         `gorm:"column:id;primaryKey" json:"id"`
	Topic       string                         `gorm:"column:topic;index;not null" json:"topic"`
	Summary     string                         `gorm:"column:summary;type:text;not null" json:"summary"`
	TargetWords int                            `gorm:"column:target_words;not null" json:"target_words"`
	Locale      string                         `gorm:"column:locale;not null;default:us" json:"locale"`
	Metadata    datatypes.JSONMap              `gorm:"column:metadata" json:"metadata,omitempty"`
	SourceRefs  datatypes.JSONSlice[SourceRef] `gorm:"column:source_refs" json:"source_refs,omitempty"`
	CreatedAt   time.Time                      `gorm:"column:created_at;index" json:"created_at"`
	ExpiresAt   time.Time                      `gorm:"column:expires_at;index" json:"expires_at"`
}

func (m *Entry) TableName() string {
	return "topic_cache_entries"
}

// Fresh reports whether the entry is still servable at the given instant.
func (m *Entry) Fresh(now time.Time) bool {
	return now.Before(m.ExpiresAt)
}

// NormalizeTopic folds a topic to its canonical cache form. Lookups and
// stores both pass through here so "  Climate Tech " and "climate tech"
// land on the same rows.
func NormalizeTopic(topic string) string {
	return strings.ToLower(strings.TrimSpace(topic))
}
