package queue

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Work item types consumed by the background workers.
const (
	TypeReleaseProcess     = "release:process"
	TypeAnticipationSettle = "anticipation:settle"
)

// WorkItem is one durable unit of queued work. Items are deduplicated by id,
// so re-enqueueing the same item is harmless.
type WorkItem struct {
	ID          string
	Type        string
	Payload     json.RawMessage
	CompanyID   int64
	Description string
	CreatedAt   time.Time
}

// NewWorkItem builds a work item with a fresh unique id.
func NewWorkItem(itemType string, companyID int64, description string, payload any) (WorkItem, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return WorkItem{}, err
	}
	return WorkItem{
		ID:          uuid.NewString(),
		Type:        itemType,
		Payload:     raw,
		CompanyID:   companyID,
		Description: description,
	}, nil
}

// ReleasePayload references the schedule a release:process item settles.
type ReleasePayload struct {
	ScheduleID int64 `json:"schedule_id"`
	PaymentID  int64 `json:"payment_id"`
}

// AnticipationPayload references the anticipation a settle item advances.
type AnticipationPayload struct {
	AnticipationID int64 `json:"anticipation_id"`
}
