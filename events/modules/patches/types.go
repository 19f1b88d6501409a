// Package patches defines the Kafka contract for enriched patch records.
package patches

import (
	"time"

	"github.com/ortelius/patchgraph/model"
)

// EventTypePatchEnriched is the event_type of PatchEnrichedEvent.
const EventTypePatchEnriched = "patch.enriched"

// PatchEnrichedEvent is published by the enrichment collaborator once a raw
// patch observation has been correlated with vulnerability data.
type PatchEnrichedEvent struct {
	EventType     string    `json:"event_type"`
	EventID       string    `json:"event_id"`
	EventTime     time.Time `json:"event_time"`
	SchemaVersion string    `json:"schema_version"`

	// Source names the registry or tracker the observation came from
	Source string `json:"source,omitempty"`

	Record model.EnrichedRecord `json:"record"`
}
