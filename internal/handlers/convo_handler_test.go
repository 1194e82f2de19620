package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/auriclabs/auric/internal/domains/conversation"
	"github.com/auriclabs/auric/internal/domains/user"
	"github.com/auriclabs/auric/internal/types"
	"github.com/auriclabs/auric/pkg/Logger"
)

type fakeConvService struct {
	byID map[uuid.UUID]*types.Conversation
	list []types.Conversation
}

func (f *fakeConvService) SaveInProgress(context.Context, *types.Conversation) error { return nil }
func (f *fakeConvService) Finish(context.Context, *types.Conversation) error         { return nil }

func (f *fakeConvService) Resume(context.Context, string) (*types.Conversation, float64, error) {
	return nil, 0, conversation.ErrNoResumble
}

func (f *fakeConvService) Get(_ context.Context, uid string, id uuid.UUID) (*types.Conversation, error) {
	conv, ok := f.byID[id]
	if !ok || conv.UID != uid {
		return nil, conversation.ErrNotFound
	}
	return conv, nil
}

func (f *fakeConvService) List(context.Context, string, conversation.ListQuery) ([]types.Conversation, error) {
	return f.list, nil
}

func setupRouter(t *testing.T, svc conversation.ConversationService) (*gin.Engine, string) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	logger := Logger.New(false)
	users := user.NewService("test-secret", logger)

	router := gin.New()
	api := router.Group("/v1")
	NewConvoHandler(svc, logger).RegisterConversationRoutes(api, users)

	token, err := users.IssueToken(context.Background(), "u1", "d1", time.Hour)
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}
	return router, token
}

func doRequest(router *gin.Engine, method, path, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestListConversations(t *testing.T) {
	svc := &fakeConvService{
		list: []types.Conversation{
			{ID: uuid.New(), UID: "u1", Status: types.StatusCompleted},
			{ID: uuid.New(), UID: "u1", Status: types.StatusFailed},
		},
	}
	router, token := setupRouter(t, svc)

	w := doRequest(router, http.MethodGet, "/v1/conversations?limit=10", token)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp ListConversationsResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if len(resp.Conversations) != 2 {
		t.Errorf("Expected 2 conversations, got %d", len(resp.Conversations))
	}
	if resp.Pagination.Count != 2 {
		t.Errorf("Expected pagination count 2, got %d", resp.Pagination.Count)
	}
}

func TestGetConversation(t *testing.T) {
	id := uuid.New()
	svc := &fakeConvService{
		byID: map[uuid.UUID]*types.Conversation{
			id: {ID: id, UID: "u1", Status: types.StatusCompleted},
		},
	}
	router, token := setupRouter(t, svc)

	w := doRequest(router, http.MethodGet, "/v1/conversations/"+id.String(), token)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp ConversationResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if resp.Conversation.ID != id {
		t.Errorf("Expected conversation %s, got %s", id, resp.Conversation.ID)
	}
}

func TestGetConversationNotFound(t *testing.T) {
	router, token := setupRouter(t, &fakeConvService{})
	w := doRequest(router, http.MethodGet, "/v1/conversations/"+uuid.NewString(), token)
	if w.Code != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", w.Code)
	}
}

func TestGetConversationBadID(t *testing.T) {
	router, token := setupRouter(t, &fakeConvService{})
	w := doRequest(router, http.MethodGet, "/v1/conversations/not-a-uuid", token)
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400, got %d", w.Code)
	}
}

func TestConversationsRequireAuth(t *testing.T) {
	router, _ := setupRouter(t, &fakeConvService{})

	w := doRequest(router, http.MethodGet, "/v1/conversations", "")
	if w.Code != http.StatusUnauthorized {
		t.Errorf("Expected 401 without token, got %d", w.Code)
	}

	w = doRequest(router, http.MethodGet, "/v1/conversations", "bogus-token")
	if w.Code != http.StatusUnauthorized {
		t.Errorf("Expected 401 with a bad token, got %d", w.Code)
	}
}
