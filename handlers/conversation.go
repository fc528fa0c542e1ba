package handlers

import (
	"context"
	"errors"
	"net/http"

	"tablebook/services/conversation"
	"tablebook/utils"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// TurnService runs one conversation turn.
type TurnService interface {
	HandleTurn(ctx context.Context, turn conversation.Turn) (*conversation.TurnResult, error)
}

type ConversationHandler struct {
	Service TurnService
}

func NewConversationHandler(svc TurnService) *ConversationHandler {
	return &ConversationHandler{Service: svc}
}

// TurnHandler accepts an inbound message together with its NLU parse.
func (h *ConversationHandler) TurnHandler(c *gin.Context) {
	logger := getLogger(c)

	var turn conversation.Turn
	if err := c.ShouldBindJSON(&turn); err != nil {
		utils.JSONError(c, http.StatusBadRequest, "Invalid request payload", err.Error())
		return
	}
	turn.TenantID = c.Param("tenantID")
	switch turn.Event {
	case "", conversation.EventConfirm, conversation.EventReject, conversation.EventReset:
	default:
		utils.JSONError(c, http.StatusBadRequest, "Unsupported event", string(turn.Event))
		return
	}

	res, err := h.Service.HandleTurn(c.Request.Context(), turn)
	if errors.Is(err, conversation.ErrStateConflict) {
		utils.JSONError(c, http.StatusConflict, "Conversation busy", err.Error())
		return
	}
	if err != nil {
		utils.RespondError(c, err)
		return
	}
	logger.Debug("Conversation turn handled",
		zap.String("tenantID", turn.TenantID), zap.String("flow", string(res.State.Flow)), zap.Int("version", res.State.Version))
	c.JSON(http.StatusOK, res)
}
