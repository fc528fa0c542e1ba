package handlers

import (
	"context"
	"net/http"
	"strconv"

	"tablebook/models"
	"tablebook/services/booking"
	"tablebook/utils"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// BookingService is what the booking endpoints need from the booking manager.
type BookingService interface {
	Tenant(ctx context.Context, tenantID string) (*models.Tenant, error)
	CreateBooking(ctx context.Context, dto models.CreateBookingDTO) (*models.Booking, error)
	ModifyBooking(ctx context.Context, dto models.ModifyBookingDTO) (*models.Booking, error)
	CancelBooking(ctx context.Context, tenantID, id string) (*models.Booking, error)
	GetBookingByID(ctx context.Context, tenantID, id string) (*models.Booking, error)
	GetBookingsByUser(ctx context.Context, tenantID, userPhone string) ([]models.Booking, error)
	DailyAvailability(ctx context.Context, tenantID, dateISO string) ([]models.AvailabilitySlot, error)
	CheckAvailability(ctx context.Context, in models.AvailabilityCheckInput) (models.AvailabilityCheckResult, error)
}

type BookingHandler struct {
	Service BookingService
}

func NewBookingHandler(svc BookingService) *BookingHandler {
	return &BookingHandler{Service: svc}
}

// DailyAvailabilityHandler serves the capacity grid of one date.
func (h *BookingHandler) DailyAvailabilityHandler(c *gin.Context) {
	tenantID := c.Param("tenantID")
	date := c.Query("date")
	if date == "" {
		utils.JSONError(c, http.StatusBadRequest, "Missing date", "query parameter date=YYYY-MM-DD is required")
		return
	}
	slots, err := h.Service.DailyAvailability(c.Request.Context(), tenantID, date)
	if err != nil {
		utils.RespondError(c, err)
		return
	}
	if slots == nil {
		slots = []models.AvailabilitySlot{}
	}
	c.JSON(http.StatusOK, gin.H{"date": date, "slots": slots})
}

func (h *BookingHandler) CheckAvailabilityHandler(c *gin.Context) {
	tenantID := c.Param("tenantID")
	var body struct {
		StartAt string `json:"startAt" binding:"required"`
		EndAt   string `json:"endAt" binding:"required"`
		People  int    `json:"people"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		utils.JSONError(c, http.StatusBadRequest, "Invalid request payload", err.Error())
		return
	}

	tenant, err := h.Service.Tenant(c.Request.Context(), tenantID)
	if err != nil {
		utils.RespondError(c, err)
		return
	}
	startAt, errStart := booking.ParseInstant(body.StartAt, tenant.Settings.Location)
	endAt, errEnd := booking.ParseInstant(body.EndAt, tenant.Settings.Location)
	if errStart != nil || errEnd != nil {
		utils.RespondError(c, utils.NewValidationError("startAt and endAt must be ISO-8601 timestamps", "startAt", "endAt"))
		return
	}

	res, err := h.Service.CheckAvailability(c.Request.Context(), models.AvailabilityCheckInput{
		TenantID: tenantID, StartAt: startAt, EndAt: endAt, People: body.People,
	})
	if err != nil {
		utils.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *BookingHandler) CreateBookingHandler(c *gin.Context) {
	logger := getLogger(c)

	var dto models.CreateBookingDTO
	if err := c.ShouldBindJSON(&dto); err != nil {
		logger.Warn("Invalid booking request", zap.Error(err))
		utils.JSONError(c, http.StatusBadRequest, "Invalid request payload", err.Error())
		return
	}
	dto.TenantID = c.Param("tenantID")

	b, err := h.Service.CreateBooking(c.Request.Context(), dto)
	if err != nil {
		utils.RespondError(c, err)
		return
	}
	logger.Info("Booking created", zap.String("tenantID", b.TenantID), zap.String("bookingID", b.ID))
	c.JSON(http.StatusCreated, gin.H{"booking": b})
}

func (h *BookingHandler) GetBookingHandler(c *gin.Context) {
	b, err := h.Service.GetBookingByID(c.Request.Context(), c.Param("tenantID"), c.Param("bookingID"))
	if err != nil {
		utils.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"booking": b})
}

// ModifyBookingHandler applies a patch. The expected version may come in the body or as If-Match.
func (h *BookingHandler) ModifyBookingHandler(c *gin.Context) {
	var body struct {
		models.ModifyBookingPatch
		ExpectedVersion *int `json:"expectedVersion"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		utils.JSONError(c, http.StatusBadRequest, "Invalid request payload", err.Error())
		return
	}
	expected := body.ExpectedVersion
	if ifMatch := c.GetHeader("If-Match"); ifMatch != "" && expected == nil {
		v, err := strconv.Atoi(ifMatch)
		if err != nil {
			utils.JSONError(c, http.StatusBadRequest, "Invalid If-Match header", "expected an integer version")
			return
		}
		expected = &v
	}

	b, err := h.Service.ModifyBooking(c.Request.Context(), models.ModifyBookingDTO{
		ID:              c.Param("bookingID"),
		TenantID:        c.Param("tenantID"),
		Patch:           body.ModifyBookingPatch,
		ExpectedVersion: expected,
	})
	if err != nil {
		utils.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"booking": b})
}

func (h *BookingHandler) CancelBookingHandler(c *gin.Context) {
	b, err := h.Service.CancelBooking(c.Request.Context(), c.Param("tenantID"), c.Param("bookingID"))
	if err != nil {
		utils.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"booking": b})
}

func (h *BookingHandler) ListUserBookingsHandler(c *gin.Context) {
	bookings, err := h.Service.GetBookingsByUser(c.Request.Context(), c.Param("tenantID"), c.Query("phone"))
	if err != nil {
		utils.RespondError(c, err)
		return
	}
	if bookings == nil {
		bookings = []models.Booking{}
	}
	c.JSON(http.StatusOK, gin.H{"bookings": bookings})
}
