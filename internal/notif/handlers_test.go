package notif

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"billingdesk/internal/common"
)

type MockNotificationService struct {
	mock.Mock
}

func (m *MockNotificationService) Ingest(ctx context.Context, c Candidate, requestedBy string) (*UpsertResult, error) {
	args := m.Called(ctx, c, requestedBy)
	res, _ := args.Get(0).(*UpsertResult)
	return res, args.Error(1)
}

func (m *MockNotificationService) ActiveFeed(ctx context.Context, filter common.ListFilter) (*Feed, error) {
	args := m.Called(ctx, filter)
	feed, _ := args.Get(0).(*Feed)
	return feed, args.Error(1)
}

func (m *MockNotificationService) ListByKind(ctx context.Context, kind common.NotificationKind, limit int64) ([]*common.Notification, error) {
	args := m.Called(ctx, kind, limit)
	list, _ := args.Get(0).([]*common.Notification)
	return list, args.Error(1)
}

func (m *MockNotificationService) UnreadCount(ctx context.Context) (int64, error) {
	args := m.Called(ctx)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockNotificationService) MarkRead(ctx context.Context, id string) (*common.Notification, error) {
	args := m.Called(ctx, id)
	n, _ := args.Get(0).(*common.Notification)
	return n, args.Error(1)
}

func (m *MockNotificationService) MarkAllRead(ctx context.Context) (int64, error) {
	args := m.Called(ctx)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockNotificationService) Resolve(ctx context.Context, id, note string) (*common.Notification, error) {
	args := m.Called(ctx, id, note)
	n, _ := args.Get(0).(*common.Notification)
	return n, args.Error(1)
}

func (m *MockNotificationService) Delete(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockNotificationService) ClearResolved(ctx context.Context) (int64, error) {
	args := m.Called(ctx)
	return args.Get(0).(int64), args.Error(1)
}

type handlerFixture struct {
	router  *mux.Router
	service *MockNotificationService
	tokens  *common.TokenManager
}

func newHandlerFixture(t *testing.T) *handlerFixture {
	t.Helper()
	cfg := testConfig()
	hash, err := common.HashPassword("secret123")
	require.NoError(t, err)
	cfg.Auth.AdminPasswordHash = hash

	svc := &MockNotificationService{}
	tokens := common.NewTokenManager(cfg.Auth.JWTSecret, time.Hour)
	h := newHandler(cfg, svc, tokens, zap.NewNop().Sugar())

	router := mux.NewRouter()
	h.RegisterRoutes(router)
	return &handlerFixture{router: router, service: svc, tokens: tokens}
}

func (f *handlerFixture) do(t *testing.T, method, path, body string, authed bool) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if authed {
		token, err := f.tokens.GenerateToken("admin", "admin")
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestHandler_Health(t *testing.T) {
	f := newHandlerFixture(t)
	rec := f.do(t, http.MethodGet, "/api/v1/health", "", false)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "healthy", decodeBody(t, rec)["status"])
}

func TestHandler_Login(t *testing.T) {
	f := newHandlerFixture(t)

	rec := f.do(t, http.MethodPost, "/api/v1/auth/login", `{"username":"admin","password":"secret123"}`, false)
	require.Equal(t, http.StatusOK, rec.Code)
	token, _ := decodeBody(t, rec)["token"].(string)
	claims, err := f.tokens.ValidToken(token)
	require.NoError(t, err)
	assert.Equal(t, "admin", claims.Username)

	rec = f.do(t, http.MethodPost, "/api/v1/auth/login", `{"username":"admin","password":"wrongpass"}`, false)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/v1/auth/login", `{"username":"a","password":"secret123"}`, false)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandler_ActiveFeed(t *testing.T) {
	f := newHandlerFixture(t)
	feed := &Feed{
		Notifications: []*common.Notification{{ID: "n1", Kind: common.KindGstAlert, Title: "GST Payment Overdue!"}},
		Warnings:      []string{"payment generator: scan: boom"},
	}
	f.service.On("ActiveFeed", mock.Anything, common.ListFilter{
		Kinds: []common.NotificationKind{common.KindGstAlert},
		Limit: 10,
	}).Return(feed, nil)

	rec := f.do(t, http.MethodGet, "/api/v1/notifications?kind=gstalert&limit=10", "", false)
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	list := body["notifications"].([]interface{})
	require.Len(t, list, 1)
	assert.Equal(t, "n1", list[0].(map[string]interface{})["id"])
	assert.Len(t, body["warnings"], 1)
	f.service.AssertExpectations(t)
}

func TestHandler_ActiveFeedBadKind(t *testing.T) {
	f := newHandlerFixture(t)
	rec := f.do(t, http.MethodGet, "/api/v1/notifications?kind=Nope", "", false)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	f.service.AssertNotCalled(t, "ActiveFeed", mock.Anything, mock.Anything)
}

func TestHandler_ListByKind(t *testing.T) {
	f := newHandlerFixture(t)
	f.service.On("ListByKind", mock.Anything, common.KindLowStock, int64(0)).
		Return([]*common.Notification{{ID: "n1", Kind: common.KindLowStock}}, nil)

	rec := f.do(t, http.MethodGet, "/api/v1/notifications/kind/LowStock", "", false)
	require.Equal(t, http.StatusOK, rec.Code)

	var list []*common.Notification
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list, 1)
	assert.Equal(t, common.KindLowStock, list[0].Kind)
}

func TestHandler_UnreadCount(t *testing.T) {
	f := newHandlerFixture(t)
	f.service.On("UnreadCount", mock.Anything).Return(int64(7), nil)

	rec := f.do(t, http.MethodGet, "/api/v1/notifications/unread-count", "", false)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(7), decodeBody(t, rec)["count"])
}

func TestHandler_IngestRequiresAuth(t *testing.T) {
	f := newHandlerFixture(t)
	rec := f.do(t, http.MethodPost, "/api/v1/notifications", `{"kind":"SystemAlert"}`, false)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	f.service.AssertNotCalled(t, "Ingest", mock.Anything, mock.Anything, mock.Anything)
}

func TestHandler_Ingest(t *testing.T) {
	f := newHandlerFixture(t)
	f.service.On("Ingest", mock.Anything, mock.MatchedBy(func(c Candidate) bool {
		return c.Kind == common.KindGstAlert &&
			c.InvoiceNumber == "INV-001" &&
			c.ID == "" &&
			c.IdentityHash == "" &&
			c.IsRead != nil && *c.IsRead
	}), "billing-job").Return(&UpsertResult{
		Action:       ActionCreated,
		Notification: &common.Notification{ID: "n1", Kind: common.KindGstAlert},
	}, nil)

	body := `{"id":"ignored","identityHash":"forged","kind":"gstalert","title":"GST Payment Pending","message":"m","invoiceNumber":"INV-001","isRead":true,"requestedBy":"billing-job"}`
	rec := f.do(t, http.MethodPost, "/api/v1/notifications", body, true)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "created", decodeBody(t, rec)["action"])
	f.service.AssertExpectations(t)
}

func TestHandler_IngestUnchangedIs200(t *testing.T) {
	f := newHandlerFixture(t)
	f.service.On("Ingest", mock.Anything, mock.Anything, "admin").Return(&UpsertResult{
		Action:       ActionUnchanged,
		Notification: &common.Notification{ID: "n1"},
	}, nil)

	rec := f.do(t, http.MethodPost, "/api/v1/notifications", `{"kind":"SystemAlert","title":"t","message":"m","customerName":"x"}`, true)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHandler_IngestErrors(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
	}{
		{"validation", common.ErrValidation, http.StatusBadRequest},
		{"store down", common.ErrStoreUnavailable, http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newHandlerFixture(t)
			f.service.On("Ingest", mock.Anything, mock.Anything, mock.Anything).Return(nil, tt.err)

			rec := f.do(t, http.MethodPost, "/api/v1/notifications", `{"kind":"LowStock","title":"t","message":"m"}`, true)
			assert.Equal(t, tt.status, rec.Code)
			assert.NotEmpty(t, decodeBody(t, rec)["error"])
		})
	}
}

func TestHandler_IngestBadJSON(t *testing.T) {
	f := newHandlerFixture(t)
	rec := f.do(t, http.MethodPost, "/api/v1/notifications", `{`, true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandler_IngestRateLimited(t *testing.T) {
	f := newHandlerFixture(t)
	cfg := testConfig()
	cfg.Notification.IngestRate = 0.001
	cfg.Notification.IngestBurst = 1
	h := newHandler(cfg, f.service, f.tokens, zap.NewNop().Sugar())
	f.router = mux.NewRouter()
	h.RegisterRoutes(f.router)

	f.service.On("Ingest", mock.Anything, mock.Anything, mock.Anything).Return(&UpsertResult{
		Action:       ActionUnchanged,
		Notification: &common.Notification{ID: "n1"},
	}, nil)

	body := `{"kind":"SystemAlert","title":"t","message":"m","customerName":"x"}`
	assert.Equal(t, http.StatusOK, f.do(t, http.MethodPost, "/api/v1/notifications", body, true).Code)
	assert.Equal(t, http.StatusTooManyRequests, f.do(t, http.MethodPost, "/api/v1/notifications", body, true).Code)
}

func TestHandler_MarkRead(t *testing.T) {
	f := newHandlerFixture(t)
	f.service.On("MarkRead", mock.Anything, "n1").Return(&common.Notification{ID: "n1", IsRead: true}, nil)
	f.service.On("MarkRead", mock.Anything, "missing").Return(nil, common.ErrNotFound)

	rec := f.do(t, http.MethodPut, "/api/v1/notifications/n1/read", "", true)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decodeBody(t, rec)["isRead"])

	rec = f.do(t, http.MethodPut, "/api/v1/notifications/missing/read", "", true)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandler_MarkAllRead(t *testing.T) {
	f := newHandlerFixture(t)
	f.service.On("MarkAllRead", mock.Anything).Return(int64(3), nil)

	rec := f.do(t, http.MethodPut, "/api/v1/notifications/read-all", "", true)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(3), decodeBody(t, rec)["updated"])
}

func TestHandler_Resolve(t *testing.T) {
	f := newHandlerFixture(t)
	f.service.On("Resolve", mock.Anything, "n1", "called customer").
		Return(&common.Notification{ID: "n1", IsResolved: true, ResolutionNote: "called customer"}, nil)

	rec := f.do(t, http.MethodPut, "/api/v1/notifications/n1/resolve", `{"resolutionNote":"called customer"}`, true)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "called customer", decodeBody(t, rec)["resolutionNote"])
}

func TestHandler_ResolveWithoutBody(t *testing.T) {
	f := newHandlerFixture(t)
	f.service.On("Resolve", mock.Anything, "n1", "").Return(&common.Notification{ID: "n1", IsResolved: true}, nil)

	rec := f.do(t, http.MethodPut, "/api/v1/notifications/n1/resolve", "", true)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHandler_ClearResolvedAndDelete(t *testing.T) {
	f := newHandlerFixture(t)
	f.service.On("ClearResolved", mock.Anything).Return(int64(4), nil)
	f.service.On("Delete", mock.Anything, "n1").Return(nil)

	rec := f.do(t, http.MethodDelete, "/api/v1/notifications/resolved", "", true)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(4), decodeBody(t, rec)["deleted"])

	rec = f.do(t, http.MethodDelete, "/api/v1/notifications/n1", "", true)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	f.service.AssertExpectations(t)
}
