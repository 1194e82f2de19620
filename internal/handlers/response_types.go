package handlers

import (
	"github.com/auriclabs/auric/internal/types"
)

// Response wrapper types for Swagger documentation

// SuccessResponse represents a generic success response
type SuccessResponse struct {
	Message string `json:"message" example:"Operation completed successfully"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error" example:"Something went wrong"`
	Details string `json:"details,omitempty" example:"Validation error details"`
}

// PaginationInfo represents pagination information
type PaginationInfo struct {
	Offset int `json:"offset" example:"0"`
	Limit  int `json:"limit" example:"50"`
	Count  int `json:"count" example:"12"`
}

// ConversationResponse represents the response for getting a conversation
type ConversationResponse struct {
	Conversation types.Conversation `json:"conversation"`
}

// ListConversationsResponse represents the response for listing conversations
type ListConversationsResponse struct {
	Conversations []types.Conversation `json:"conversations"`
	Pagination    PaginationInfo       `json:"pagination"`
}

// SpeechProfileResponse represents the response for getting a speech profile
type SpeechProfileResponse struct {
	Embedding []float32 `json:"embedding"`
	Dimension int       `json:"dimension" example:"256"`
}

// TokenResponse represents the response for device token issuance
type TokenResponse struct {
	Token string `json:"token"`
}
