// Package patches handles Kafka event processing for enriched patch records.
package patches

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ortelius/patchgraph/model"
)

// PatchService defines the ingestion operation the handler delegates to.
type PatchService interface {
	IngestPatch(ctx context.Context, rec model.EnrichedRecord) (*model.PatchInsertResult, error)
}

// HandlePatchEnrichedWithService decodes one patch.enriched event and ingests its record.
func HandlePatchEnrichedWithService(ctx context.Context, msg []byte, service PatchService) (*model.PatchInsertResult, error) {
	var event PatchEnrichedEvent
	if err := json.Unmarshal(msg, &event); err != nil {
		return nil, fmt.Errorf("failed to unmarshal PatchEnrichedEvent: %w", err)
	}

	if event.EventType != "" && event.EventType != EventTypePatchEnriched {
		return nil, fmt.Errorf("unexpected event type %q", event.EventType)
	}

	result, err := service.IngestPatch(ctx, event.Record)
	if err != nil {
		return nil, fmt.Errorf("event %s: %w", event.EventID, err)
	}
	return result, nil
}
