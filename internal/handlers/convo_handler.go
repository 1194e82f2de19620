package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/auriclabs/auric/internal/domains/conversation"
	"github.com/auriclabs/auric/internal/domains/user"
	"github.com/auriclabs/auric/internal/types"
	"github.com/auriclabs/auric/pkg/Logger"
)

type ConversationHandler struct {
	convoService conversation.ConversationService
	logger       *Logger.Logger
}

func NewConvoHandler(
	convoService conversation.ConversationService,
	logger *Logger.Logger,
) *ConversationHandler {
	return &ConversationHandler{
		convoService: convoService,
		logger:       logger,
	}
}

// ListConversations lists the user's conversations
// @Summary List conversations
// @Description Lists conversations for the authenticated user, newest first
// @Tags Conversation
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param limit query int false "Page size (default 50, max 200)"
// @Param offset query int false "Page offset"
// @Param include_discarded query bool false "Include discarded conversations"
// @Param status query string false "Filter by status (completed, processing, failed, discarded)"
// @Success 200 {object} ListConversationsResponse "Conversation page"
// @Failure 401 {object} ErrorResponse "User not authenticated"
// @Failure 500 {object} ErrorResponse "Internal server error"
// @Router /conversations [get]
func (h *ConversationHandler) ListConversations(c *gin.Context) {
	userInfo, ok := ExtractUserInfo(c)
	if !ok {
		return
	}

	q := conversation.ListQuery{
		Limit:            atoiDefault(c.Query("limit"), 0),
		Offset:           atoiDefault(c.Query("offset"), 0),
		IncludeDiscarded: c.Query("include_discarded") == "true",
	}
	if status := c.Query("status"); status != "" {
		q.Statuses = []types.ConversationStatus{types.ConversationStatus(status)}
	}

	conversations, err := h.convoService.List(c, userInfo.UID, q)
	if err != nil {
		h.logger.Errorf("list conversations error: %v", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Internal server error"})
		return
	}

	c.JSON(http.StatusOK, ListConversationsResponse{
		Conversations: conversations,
		Pagination: PaginationInfo{
			Offset: q.Offset,
			Limit:  q.Limit,
			Count:  len(conversations),
		},
	})
}

// GetConversation gets one conversation by id
// @Summary Get a conversation
// @Description Retrieves one conversation owned by the authenticated user
// @Tags Conversation
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Conversation ID"
// @Success 200 {object} ConversationResponse "Conversation"
// @Failure 400 {object} ErrorResponse "Invalid conversation ID"
// @Failure 401 {object} ErrorResponse "User not authenticated"
// @Failure 404 {object} ErrorResponse "Conversation not found"
// @Failure 500 {object} ErrorResponse "Internal server error"
// @Router /conversations/{id} [get]
func (h *ConversationHandler) GetConversation(c *gin.Context) {
	userInfo, ok := ExtractUserInfo(c)
	if !ok {
		return
	}

	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "Invalid conversation ID format",
			Details: err.Error(),
		})
		return
	}

	conv, err := h.convoService.Get(c, userInfo.UID, id)
	if err != nil {
		switch {
		case errors.Is(err, conversation.ErrNotFound), errors.Is(err, conversation.ErrNotOwned):
			c.JSON(http.StatusNotFound, ErrorResponse{Error: "Conversation not found"})
		default:
			h.logger.Errorf("get conversation error: %v", err)
			c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Internal server error"})
		}
		return
	}

	c.JSON(http.StatusOK, ConversationResponse{Conversation: *conv})
}

// RegisterConversationRoutes registers all conversation-related routes
func (h *ConversationHandler) RegisterConversationRoutes(r *gin.RouterGroup, userService user.UserService) {
	protected := r.Group("/conversations")
	protected.Use(AuthMiddleware(userService, h.logger))
	{
		protected.GET("", h.ListConversations)
		protected.GET("/:id", h.GetConversation)
	}
}

func atoiDefault(s string, def int) int {
	if s == "" {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return v
}
