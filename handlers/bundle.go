package handlers

import (
	"github.com/gin-gonic/gin"
)

// HandlerBundle groups all endpoint handlers into one struct.
type HandlerBundle struct {
	// Availability endpoints
	DailyAvailabilityHandler gin.HandlerFunc
	CheckAvailabilityHandler gin.HandlerFunc

	// Booking endpoints
	CreateBookingHandler    gin.HandlerFunc
	GetBookingHandler       gin.HandlerFunc
	ModifyBookingHandler    gin.HandlerFunc
	CancelBookingHandler    gin.HandlerFunc
	ListUserBookingsHandler gin.HandlerFunc

	// Conversation endpoints
	ConversationTurnHandler gin.HandlerFunc

	HealthHandler gin.HandlerFunc
}

// NewHandlerBundle wires the handlers of every service.
func NewHandlerBundle(bookings *BookingHandler, conversation *ConversationHandler) *HandlerBundle {
	return &HandlerBundle{
		DailyAvailabilityHandler: bookings.DailyAvailabilityHandler,
		CheckAvailabilityHandler: bookings.CheckAvailabilityHandler,
		CreateBookingHandler:     bookings.CreateBookingHandler,
		GetBookingHandler:        bookings.GetBookingHandler,
		ModifyBookingHandler:     bookings.ModifyBookingHandler,
		CancelBookingHandler:     bookings.CancelBookingHandler,
		ListUserBookingsHandler:  bookings.ListUserBookingsHandler,
		ConversationTurnHandler:  conversation.TurnHandler,
		HealthHandler:            HealthHandler,
	}
}
