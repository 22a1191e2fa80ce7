package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fathima-sithara/messaging-service/internal/api"
	"github.com/fathima-sithara/messaging-service/internal/auth"
	"github.com/fathima-sithara/messaging-service/internal/domain"
	"github.com/fathima-sithara/messaging-service/internal/media"
	"github.com/fathima-sithara/messaging-service/internal/middleware"
	"github.com/fathima-sithara/messaging-service/internal/policy"
	"github.com/fathima-sithara/messaging-service/internal/repository"
	"github.com/fathima-sithara/messaging-service/internal/service"
	"github.com/fathima-sithara/messaging-service/internal/ws"
)

const secret = "api-test-secret"

type fakeObjects struct{}

func (fakeObjects) Upload(context.Context, string, string, []byte) (string, error) { return "", nil }

func (fakeObjects) PresignURL(_ context.Context, key string, _ time.Duration) (string, error) {
	return "https://signed.example/" + key, nil
}

type testServer struct {
	app      *fiber.App
	store    *repository.Memory
	resolver *service.Resolver
	msgr     *service.Messenger
}

func newTestServer(t *testing.T, withMedia bool) *testServer {
	t.Helper()
	log := zap.NewNop().Sugar()
	store := repository.NewMemory()
	for _, u := range []string{"alice", "bob"} {
		require.NoError(t, store.Insert(context.Background(), &domain.User{Username: u}))
	}
	hub := ws.NewHub(log, ws.HubOptions{NodeID: "api-test"})
	t.Cleanup(hub.Shutdown)

	pol := policy.AllowAll()
	unread := service.NewUnreadNotifier(store, hub, log)
	resolver := service.NewResolver(store, store, pol, nil, log, 3)
	msgr := service.NewMessenger(store, store, pol, unread, nil, log, service.MessengerOptions{})
	v, err := auth.NewJWTValidatorHS256(secret)
	require.NoError(t, err)

	deps := api.Deps{
		Log:       log,
		Validator: v,
		Hub:       hub,
		Router:    ws.NewRouter(hub, resolver, msgr, unread, log),
		Messenger: msgr,
		Unread:    unread,
		Limiter:   middleware.NewIPRateLimiter(6000, 100, log),
	}
	if withMedia {
		deps.Media = media.NewService(fakeObjects{}, time.Minute, 1<<20, log)
	}
	return &testServer{app: api.NewServer(deps), store: store, resolver: resolver, msgr: msgr}
}

func bearer(t *testing.T, username string) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"username": username}).SignedString([]byte(secret))
	require.NoError(t, err)
	return "Bearer " + s
}

func (s *testServer) do(t *testing.T, r *http.Request) (int, map[string]interface{}) {
	t.Helper()
	resp, err := s.app.Test(r)
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var body map[string]interface{}
	if len(raw) > 0 {
		require.NoError(t, json.Unmarshal(raw, &body), string(raw))
	}
	return resp.StatusCode, body
}

func (s *testServer) get(t *testing.T, path, username string) (int, map[string]interface{}) {
	t.Helper()
	r := httptest.NewRequest(http.MethodGet, path, nil)
	if username != "" {
		r.Header.Set("Authorization", bearer(t, username))
	}
	return s.do(t, r)
}

func TestHealth(t *testing.T) {
	s := newTestServer(t, false)

	code, body := s.get(t, "/health", "")

	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "ok", body["status"])
	require.Equal(t, "api-test", body["node"])
}

func TestUnread_RequiresToken(t *testing.T) {
	s := newTestServer(t, false)

	code, body := s.get(t, "/api/messages/unread", "")

	require.Equal(t, http.StatusUnauthorized, code)
	require.Equal(t, "error", body["status"])
}

func TestUnreadAndChats(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()

	// Given alice wrote to bob
	s := newTestServer(t, false)
	id, err := s.resolver.Resolve(ctx, "alice", "bob")
	req.NoError(err)
	_, _, err = s.msgr.Send(ctx, service.SendRequest{ConversationID: id, Sender: "alice", Body: "still selling the bike?"})
	req.NoError(err)

	// When
	code, body := s.get(t, "/api/messages/unread", "bob")

	// Then
	req.Equal(http.StatusOK, code)
	data := body["data"].(map[string]interface{})
	req.Equal(float64(1), data["count"])
	req.Equal([]interface{}{id}, data["unread"])

	// When
	code, body = s.get(t, "/api/messages/chats", "bob")

	// Then
	req.Equal(http.StatusOK, code)
	chats := body["data"].([]interface{})
	req.Len(chats, 1)
	entry := chats[0].(map[string]interface{})
	req.Equal(id, entry["id"])
	req.Equal("alice", entry["with"])
	req.Equal(true, entry["unread"])
	req.Equal("still selling the bike?", entry["last_message"].(map[string]interface{})["message"])
}

func TestUnread_UnknownUser(t *testing.T) {
	s := newTestServer(t, false)

	code, _ := s.get(t, "/api/messages/unread", "mallory")

	require.Equal(t, http.StatusNotFound, code)
}

func TestWebsocketRoute_RejectsPlainHTTP(t *testing.T) {
	s := newTestServer(t, false)

	code, _ := s.get(t, "/api/messages", "alice")
	require.Equal(t, fiber.StatusUpgradeRequired, code)

	code, _ = s.get(t, "/api/messages", "")
	require.Equal(t, http.StatusUnauthorized, code)
}

func TestPresence_FallsBackToLocalHub(t *testing.T) {
	s := newTestServer(t, false)

	code, body := s.get(t, "/api/messages/presence/bob", "alice")

	require.Equal(t, http.StatusOK, code)
	data := body["data"].(map[string]interface{})
	require.Equal(t, "bob", data["username"])
	require.Equal(t, false, data["online"])
}

func TestAttachments(t *testing.T) {
	req := require.New(t)

	t.Run("disabled", func(t *testing.T) {
		s := newTestServer(t, false)
		code, _ := s.get(t, "/api/messages/attachments/url?path=attachments/a/b", "alice")
		require.Equal(t, http.StatusServiceUnavailable, code)
	})

	// Given
	s := newTestServer(t, true)
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", "syllabus.txt")
	req.NoError(err)
	_, err = fw.Write([]byte("week 1: intro"))
	req.NoError(err)
	req.NoError(mw.Close())

	r := httptest.NewRequest(http.MethodPost, "/api/messages/attachments", &buf)
	r.Header.Set("Content-Type", mw.FormDataContentType())
	r.Header.Set("Authorization", bearer(t, "alice"))

	// When
	code, body := s.do(t, r)

	// Then
	req.Equal(http.StatusCreated, code)
	data := body["data"].(map[string]interface{})
	path := data["path"].(string)
	req.Contains(path, "attachments/alice/")
	req.Contains(data["url"], path)

	// When
	code, body = s.get(t, "/api/messages/attachments/url?path="+path, "bob")

	// Then
	req.Equal(http.StatusOK, code)
	req.Equal("https://signed.example/"+path, body["data"].(map[string]interface{})["url"])

	code, _ = s.get(t, "/api/messages/attachments/url?path=../../etc/passwd", "bob")
	req.Equal(http.StatusBadRequest, code)
}

func TestCORS_Preflight(t *testing.T) {
	req := require.New(t)
	s := newTestServer(t, false)

	r := httptest.NewRequest(http.MethodOptions, "/api/messages/unread", nil)
	r.Header.Set("Origin", "https://market.example")
	r.Header.Set("Access-Control-Request-Method", http.MethodGet)
	resp, err := s.app.Test(r)
	req.NoError(err)
	defer resp.Body.Close()

	req.Equal(http.StatusNoContent, resp.StatusCode)
	req.Equal("*", resp.Header.Get("Access-Control-Allow-Origin"))
	req.Contains(resp.Header.Get("Access-Control-Allow-Headers"), "Authorization")
}

func TestRequestID_EchoedInHeaderAndErrorBody(t *testing.T) {
	req := require.New(t)
	s := newTestServer(t, false)

	// Given a caller that sends its own request id
	r := httptest.NewRequest(http.MethodGet, "/api/messages/unread", nil)
	r.Header.Set(fiber.HeaderXRequestID, "req-42")

	// When the request is rejected
	resp, err := s.app.Test(r)
	req.NoError(err)
	defer resp.Body.Close()
	var body map[string]interface{}
	req.NoError(json.NewDecoder(resp.Body).Decode(&body))

	// Then the id comes back in both places
	req.Equal(http.StatusUnauthorized, resp.StatusCode)
	req.Equal("req-42", resp.Header.Get(fiber.HeaderXRequestID))
	req.Equal("req-42", body["request_id"])
}

func TestRequestID_GeneratedWhenMissing(t *testing.T) {
	req := require.New(t)
	s := newTestServer(t, false)

	r := httptest.NewRequest(http.MethodGet, "/api/messages/unread", nil)
	r.Header.Set("Authorization", bearer(t, "alice"))
	resp, err := s.app.Test(r)
	req.NoError(err)
	defer resp.Body.Close()
	var body map[string]interface{}
	req.NoError(json.NewDecoder(resp.Body).Decode(&body))

	req.Equal(http.StatusOK, resp.StatusCode)
	id := resp.Header.Get(fiber.HeaderXRequestID)
	req.NotEmpty(id)
	req.Equal(id, body["request_id"])
}
