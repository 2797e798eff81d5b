package queue

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewWorkItemUniqueIDs(t *testing.T) {
	a, err := NewWorkItem(TypeReleaseProcess, 1, "first", ReleasePayload{ScheduleID: 1, PaymentID: 2})
	require.NoError(t, err)
	b, err := NewWorkItem(TypeReleaseProcess, 1, "second", ReleasePayload{ScheduleID: 1, PaymentID: 2})
	require.NoError(t, err)

	require.NotEmpty(t, a.ID)
	require.NotEqual(t, a.ID, b.ID)
}

func TestNewWorkItemPayloadRoundTrip(t *testing.T) {
	item, err := NewWorkItem(TypeAnticipationSettle, 4, "settle", AnticipationPayload{AnticipationID: 77})
	require.NoError(t, err)

	var payload AnticipationPayload
	require.NoError(t, json.Unmarshal(item.Payload, &payload))
	require.EqualValues(t, 77, payload.AnticipationID)
	require.EqualValues(t, 4, item.CompanyID)
	require.Equal(t, TypeAnticipationSettle, item.Type)
}
