package clinical

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// VitalSign is one write into the clinical vital-signs record. Value is
// string-formatted per the clinical schema; blood pressure is rendered as
// "systolic/diastolic".
type VitalSign struct {
	Type       string    `json:"measurement_type"`
	Value      string    `json:"value"`
	Unit       string    `json:"unit"`
	MeasuredAt time.Time `json:"measured_at"`
	Source     string    `json:"source"`    // provider identifier
	DeviceID   string    `json:"device_id"` // originating device, may be empty
	CreatedBy  uuid.UUID `json:"created_by"`
}

// Sink accepts vital-sign writes keyed by (source, device id, measured-at)
// with upsert semantics. It returns the clinical record's id.
type Sink interface {
	Upsert(ctx context.Context, v VitalSign) (uuid.UUID, error)
}
