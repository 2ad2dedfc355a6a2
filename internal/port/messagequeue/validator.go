package messagequeue

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Validate checks whether data is valid JSON conforming to the schema
// associated with the given subject. Unknown subjects pass validation.
func Validate(subject string, data []byte) error {
	if !json.Valid(data) {
		return fmt.Errorf("invalid JSON on subject %s", subject)
	}

	switch {
	case subject == SubjectEventIngest:
		var p EventIngestPayload
		if err := json.Unmarshal(data, &p); err != nil {
			return fmt.Errorf("schema validation failed for %s: %w", subject, err)
		}
		if p.Type == "" {
			return fmt.Errorf("schema validation failed for %s: type is required", subject)
		}
	case subject == SubjectEventOutcome:
		var p EventOutcomePayload
		if err := json.Unmarshal(data, &p); err != nil {
			return fmt.Errorf("schema validation failed for %s: %w", subject, err)
		}
	case strings.HasPrefix(subject, SubjectToolPublish+"."):
		// Capability output: any valid JSON.
		return nil
	}
	return nil
}
