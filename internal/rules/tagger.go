package rules

import "threatlens/pkg/models"

// Tagger applies declarative detection rules to events and returns the
// indicators of matched rules.
type Tagger interface {
	Apply(event *models.Event) []string
}

// NoopTagger matches nothing.
type NoopTagger struct{}

// Apply returns an empty indicator list.
func (n *NoopTagger) Apply(event *models.Event) []string {
	return nil
}
