package events

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoutingKey(t *testing.T) {
	assert.Equal(t, "booking.booking_created.t1", RoutingKey(Event{Type: BookingCreated, TenantID: "t1"}))
}

func TestRecorder(t *testing.T) {
	var r Recorder
	require.NoError(t, r.Publish(context.Background(), Event{Type: BookingCreated, TenantID: "t1"}))
	require.NoError(t, r.Publish(context.Background(), Event{Type: BookingCancelled, TenantID: "t1"}))

	assert.Len(t, r.Events(), 2)
	assert.Len(t, r.OfType(BookingCancelled), 1)
	assert.NoError(t, NewLogPublisher(nil).Publish(context.Background(), Event{Type: BookingCreated}))
}
