package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/auriclabs/auric/internal/domains/user"
	userrepo "github.com/auriclabs/auric/internal/repository/user"
	"github.com/auriclabs/auric/pkg/Logger"
)

// SpeechProfileHandler manages the owner voice-print used by the
// pre-processor's is_user attribution.
type SpeechProfileHandler struct {
	profiles userrepo.SpeechProfileRepository
	logger   *Logger.Logger
}

func NewSpeechProfileHandler(profiles userrepo.SpeechProfileRepository, logger *Logger.Logger) *SpeechProfileHandler {
	return &SpeechProfileHandler{profiles: profiles, logger: logger}
}

// UpsertProfileRequest carries the enrollment embedding.
type UpsertProfileRequest struct {
	Embedding []float32 `json:"embedding" binding:"required"`
	Duration  float64   `json:"duration_seconds"`
}

// UpsertProfile stores or replaces the user's speech profile
// @Summary Upsert speech profile
// @Description Stores the enrollment embedding for the authenticated user
// @Tags SpeechProfile
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body UpsertProfileRequest true "Enrollment embedding"
// @Success 200 {object} SuccessResponse "Profile stored"
// @Failure 400 {object} ErrorResponse "Invalid request data"
// @Failure 401 {object} ErrorResponse "User not authenticated"
// @Failure 500 {object} ErrorResponse "Internal server error"
// @Router /speech-profile [put]
func (h *SpeechProfileHandler) UpsertProfile(c *gin.Context) {
	userInfo, ok := ExtractUserInfo(c)
	if !ok {
		return
	}

	var req UpsertProfileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "Invalid request data",
			Details: err.Error(),
		})
		return
	}
	if len(req.Embedding) == 0 {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Embedding must not be empty"})
		return
	}

	if err := h.profiles.Upsert(c, userInfo.UID, req.Embedding, req.Duration); err != nil {
		h.logger.Errorf("upsert speech profile error: %v", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Internal server error"})
		return
	}

	c.JSON(http.StatusOK, SuccessResponse{Message: "Speech profile stored"})
}

// GetProfile returns the user's speech profile
// @Summary Get speech profile
// @Description Returns the stored enrollment embedding for the authenticated user
// @Tags SpeechProfile
// @Produce json
// @Security BearerAuth
// @Success 200 {object} SpeechProfileResponse "Speech profile"
// @Failure 401 {object} ErrorResponse "User not authenticated"
// @Failure 404 {object} ErrorResponse "No profile enrolled"
// @Failure 500 {object} ErrorResponse "Internal server error"
// @Router /speech-profile [get]
func (h *SpeechProfileHandler) GetProfile(c *gin.Context) {
	userInfo, ok := ExtractUserInfo(c)
	if !ok {
		return
	}

	embedding, err := h.profiles.Get(c, userInfo.UID)
	if err != nil {
		if errors.Is(err, userrepo.ErrNoProfile) {
			c.JSON(http.StatusNotFound, ErrorResponse{Error: "No speech profile enrolled"})
			return
		}
		h.logger.Errorf("get speech profile error: %v", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Internal server error"})
		return
	}

	c.JSON(http.StatusOK, SpeechProfileResponse{
		Embedding: embedding,
		Dimension: len(embedding),
	})
}

// DeleteProfile removes the user's speech profile
// @Summary Delete speech profile
// @Description Removes the stored enrollment embedding for the authenticated user
// @Tags SpeechProfile
// @Security BearerAuth
// @Success 204 "No Content"
// @Failure 401 {object} ErrorResponse "User not authenticated"
// @Failure 500 {object} ErrorResponse "Internal server error"
// @Router /speech-profile [delete]
func (h *SpeechProfileHandler) DeleteProfile(c *gin.Context) {
	userInfo, ok := ExtractUserInfo(c)
	if !ok {
		return
	}

	if err := h.profiles.Delete(c, userInfo.UID); err != nil {
		h.logger.Errorf("delete speech profile error: %v", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Internal server error"})
		return
	}

	c.Status(http.StatusNoContent)
}

// RegisterSpeechProfileRoutes registers speech-profile routes
func (h *SpeechProfileHandler) RegisterSpeechProfileRoutes(r *gin.RouterGroup, userService user.UserService) {
	protected := r.Group("/speech-profile")
	protected.Use(AuthMiddleware(userService, h.logger))
	{
		protected.PUT("", h.UpsertProfile)
		protected.GET("", h.GetProfile)
		protected.DELETE("", h.DeleteProfile)
	}
}
