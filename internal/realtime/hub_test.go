package realtime

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	id "myapi/pkg/domain"
	dErrors "myapi/pkg/domain-errors"
	"myapi/pkg/platform/httputil"
	authmw "myapi/pkg/platform/middleware/auth"
)

type stubValidator struct{}

func (stubValidator) ValidateAccessToken(_ context.Context, token string) (*authmw.JWTClaims, error) {
	if token != "good-token" {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "invalid token")
	}
	return &authmw.JWTClaims{UserID: id.NewUserID(), Roles: []string{"user"}, JTI: "jti"}, nil
}

type HubSuite struct {
	suite.Suite
	hub    *Hub
	server *httptest.Server
}

func TestHubSuite(t *testing.T) {
	suite.Run(t, new(HubSuite))
}

func (s *HubSuite) SetupTest() {
	s.hub = NewHub(stubValidator{}, nil,
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithKeepalive(300*time.Millisecond),
	)
	r := chi.NewRouter()
	s.hub.Register(r)
	s.server = httptest.NewServer(r)
}

func (s *HubSuite) TearDownTest() {
	s.hub.Close()
	s.server.Close()
}

func (s *HubSuite) wsURL(query string) string {
	return "ws" + strings.TrimPrefix(s.server.URL, "http") + "/v1/ws" + query
}

func (s *HubSuite) dial(query string, header http.Header) *websocket.Conn {
	conn, resp, err := websocket.DefaultDialer.Dial(s.wsURL(query), header)
	s.Require().NoError(err)
	s.Equal(http.StatusSwitchingProtocols, resp.StatusCode)
	s.Require().Eventually(func() bool { return s.hub.Subscribers() > 0 }, time.Second, 10*time.Millisecond)
	return conn
}

func (s *HubSuite) read(conn *websocket.Conn) Message {
	s.Require().NoError(conn.SetReadDeadline(time.Now().Add(2 * time.Second)))
	_, raw, err := conn.ReadMessage()
	s.Require().NoError(err)
	var msg Message
	s.Require().NoError(json.Unmarshal(raw, &msg))
	return msg
}

func (s *HubSuite) TestRejectsMissingToken() {
	_, resp, err := websocket.DefaultDialer.Dial(s.wsURL(""), nil)
	s.Require().Error(err)
	s.Require().NotNil(resp)
	s.Equal(http.StatusUnauthorized, resp.StatusCode)
	s.Equal(httputil.ProblemContentType, resp.Header.Get("Content-Type"))
	s.NotEmpty(resp.Header.Get("WWW-Authenticate"))

	var problem httputil.ErrorResponse
	s.Require().NoError(json.NewDecoder(resp.Body).Decode(&problem))
	s.Equal(string(dErrors.CodeUnauthorized), problem.Code)
}

func (s *HubSuite) TestDeliversPublishedEvents() {
	byQuery := s.dial("?access_token=good-token", nil)
	defer byQuery.Close()
	byHeader := s.dial("", http.Header{"Authorization": []string{"Bearer good-token"}})
	defer byHeader.Close()
	s.Require().Eventually(func() bool { return s.hub.Subscribers() == 2 }, time.Second, 10*time.Millisecond)

	s.hub.Publish(context.Background(), "item.created", map[string]string{"item_id": "abc"})

	for _, conn := range []*websocket.Conn{byQuery, byHeader} {
		msg := s.read(conn)
		s.Equal("item.created", msg.Type)
		s.JSONEq(`{"item_id":"abc"}`, string(msg.Data))
	}
}

func (s *HubSuite) TestKeepaliveKeepsIdleConnectionsOpen() {
	conn := s.dial("?access_token=good-token", nil)
	defer conn.Close()

	// The client answers pings only while it is reading.
	frames := make(chan []byte, 1)
	go func() {
		for {
			_, raw, err := conn.ReadMessage()
			if err != nil {
				close(frames)
				return
			}
			frames <- raw
		}
	}()

	time.Sleep(700 * time.Millisecond)
	s.Equal(1, s.hub.Subscribers())

	s.hub.Publish(context.Background(), "item.updated", map[string]int{"version": 2})
	select {
	case raw, ok := <-frames:
		s.Require().True(ok, "connection closed")
		var msg Message
		s.Require().NoError(json.Unmarshal(raw, &msg))
		s.Equal("item.updated", msg.Type)
	case <-time.After(2 * time.Second):
		s.Fail("no message received")
	}
}

func (s *HubSuite) TestCloseDisconnectsSubscribers() {
	conn := s.dial("?access_token=good-token", nil)
	defer conn.Close()

	s.hub.Close()
	s.Require().NoError(conn.SetReadDeadline(time.Now().Add(2 * time.Second)))
	_, _, err := conn.ReadMessage()
	s.True(websocket.IsCloseError(err, websocket.CloseGoingAway), "got %v", err)
	s.Equal(0, s.hub.Subscribers())
}

func TestSlowSubscriberIsDropped(t *testing.T) {
	hub := NewHub(stubValidator{}, nil, WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	slow := &client{userID: id.NewUserID(), send: make(chan []byte, 1)}
	fast := &client{userID: id.NewUserID(), send: make(chan []byte, 8)}
	require.True(t, hub.add(slow))
	require.True(t, hub.add(fast))

	hub.Publish(context.Background(), "item.created", 1)
	hub.Publish(context.Background(), "item.updated", 2)

	assert.Equal(t, 1, hub.Subscribers())
	assert.Len(t, fast.send, 2)

	<-slow.send
	_, open := <-slow.send
	assert.False(t, open, "slow subscriber channel is closed")
}

func TestRunClosesOnCancel(t *testing.T) {
	hub := NewHub(stubValidator{}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- hub.Run(ctx) }()

	cancel()
	require.NoError(t, <-done)
	assert.False(t, hub.add(&client{send: make(chan []byte, 1)}))
}
