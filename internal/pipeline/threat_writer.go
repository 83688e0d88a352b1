package pipeline

import "threatlens/pkg/models"

// ThreatWriter is the sink for flagged threats.
type ThreatWriter interface {
	WriteThreats(threats []*models.ThreatRecord) error
	Close() error
}
