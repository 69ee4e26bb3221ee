package datahub

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"supplier-core/internal/cim"
)

type fakeHub struct {
	server     *httptest.Server
	tokenCalls atomic.Int32
	sendStatus atomic.Int32
	lastAuth   atomic.Value
	expiresIn  int
	tokenDelay time.Duration
	queue      []Message
	dequeued   []string
	rawPaths   []string
	mu         sync.Mutex
}

func newFakeHub(t *testing.T) *fakeHub {
	t.Helper()
	hub := &fakeHub{expiresIn: 3600}
	hub.sendStatus.Store(http.StatusAccepted)
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		n := hub.tokenCalls.Add(1)
		if hub.tokenDelay > 0 {
			time.Sleep(hub.tokenDelay)
		}
		assert.Equal(t, "client_credentials", r.FormValue("grant_type"))
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"access_token":"token-%d","expires_in":%d}`, n, hub.expiresIn)
	})
	mux.HandleFunc("/v1.0/cim/requestchangeofsupplier", func(w http.ResponseWriter, r *http.Request) {
		hub.lastAuth.Store(r.Header.Get("Authorization"))
		w.WriteHeader(int(hub.sendStatus.Load()))
		_, _ = w.Write([]byte("status body"))
	})
	mux.HandleFunc("/v1.0/cim/peek", func(w http.ResponseWriter, r *http.Request) {
		hub.mu.Lock()
		defer hub.mu.Unlock()
		if len(hub.queue) == 0 {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		w.Header().Set("MessageId", hub.queue[0].ID)
		_, _ = w.Write(hub.queue[0].Payload)
	})
	mux.HandleFunc("/v1.0/cim/dequeue/", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		hub.mu.Lock()
		defer hub.mu.Unlock()
		id := r.URL.Path[len("/v1.0/cim/dequeue/"):]
		hub.dequeued = append(hub.dequeued, id)
		hub.rawPaths = append(hub.rawPaths, r.URL.EscapedPath())
		if len(hub.queue) > 0 && hub.queue[0].ID == id {
			hub.queue = hub.queue[1:]
		}
	})
	hub.server = httptest.NewServer(mux)
	t.Cleanup(hub.server.Close)
	return hub
}

func (h *fakeHub) config() EndpointConfig {
	return EndpointConfig{
		BaseURL:  h.server.URL,
		TokenURL: h.server.URL + "/token",
		ClientID: "client",
		Timeout:  2 * time.Second,
	}
}

func TestTwoTokenRequestsWithinValidityFetchOnce(t *testing.T) {
	hub := newFakeHub(t)
	tokens := NewTokenSource(hub.config(), nil)

	first, err := tokens.Token(context.Background())
	require.NoError(t, err)
	second, err := tokens.Token(context.Background())
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, int32(1), hub.tokenCalls.Load())
}

func TestConcurrentTokenRequestsShareOneFetch(t *testing.T) {
	hub := newFakeHub(t)
	hub.tokenDelay = 50 * time.Millisecond
	tokens := NewTokenSource(hub.config(), nil)

	var wg sync.WaitGroup
	results := make([]string, 10)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			token, err := tokens.Token(context.Background())
			assert.NoError(t, err)
			results[i] = token
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), hub.tokenCalls.Load())
	for _, token := range results {
		assert.Equal(t, "token-1", token)
	}
}

func TestTokenRefreshedInsideSafetyMargin(t *testing.T) {
	hub := newFakeHub(t)
	hub.expiresIn = 600
	tokens := NewTokenSource(hub.config(), nil)
	now := time.Date(2024, 4, 1, 12, 0, 0, 0, time.UTC)
	tokens.now = func() time.Time { return now }

	_, err := tokens.Token(context.Background())
	require.NoError(t, err)

	now = now.Add(4 * time.Minute)
	_, err = tokens.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(1), hub.tokenCalls.Load())

	now = now.Add(2 * time.Minute)
	token, err := tokens.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "token-2", token)
	assert.Equal(t, int32(2), hub.tokenCalls.Load())
}

func TestExpiryFromJWTClaim(t *testing.T) {
	issued := time.Date(2024, 4, 1, 12, 0, 0, 0, time.UTC)
	exp := issued.Add(time.Hour)
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(exp),
	}).SignedString([]byte("secret"))
	require.NoError(t, err)

	assert.True(t, exp.Equal(expiryFromJWT(signed, issued)))
	assert.True(t, issued.Add(TokenSafetyMargin+time.Minute).Equal(expiryFromJWT("opaque", issued)))
}

func TestSendStatusMapping(t *testing.T) {
	cases := []struct {
		status     int
		outcome    Outcome
		invalidate bool
	}{
		{http.StatusOK, OutcomeAccepted, false},
		{http.StatusAccepted, OutcomeAccepted, false},
		{http.StatusBadRequest, OutcomeRejected, false},
		{http.StatusUnauthorized, OutcomeTransient, true},
		{http.StatusForbidden, OutcomeTransient, true},
		{http.StatusServiceUnavailable, OutcomeTransient, false},
		{http.StatusInternalServerError, OutcomeTransient, false},
		{http.StatusConflict, OutcomeTransient, false},
	}
	for _, tc := range cases {
		t.Run(fmt.Sprintf("%d", tc.status), func(t *testing.T) {
			hub := newFakeHub(t)
			hub.sendStatus.Store(int32(tc.status))
			client := NewClient(hub.config(), nil)

			result := client.Send(context.Background(), cim.DocumentRequestChangeOfSupplier, []byte(`{}`))
			assert.Equal(t, tc.outcome, result.Outcome)
			assert.Equal(t, tc.status, result.StatusCode)
			assert.Equal(t, "Bearer token-1", hub.lastAuth.Load())

			client.Send(context.Background(), cim.DocumentRequestChangeOfSupplier, []byte(`{}`))
			want := int32(1)
			if tc.invalidate {
				want = 2
			}
			assert.Equal(t, want, hub.tokenCalls.Load())
		})
	}
}

func TestSendCancelledContextIsTransient(t *testing.T) {
	hub := newFakeHub(t)
	client := NewClient(hub.config(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result := client.Send(ctx, cim.DocumentRequestChangeOfSupplier, []byte(`{}`))
	assert.Equal(t, OutcomeTransient, result.Outcome)
}

func TestSendUnknownDocumentTypeIsRejected(t *testing.T) {
	hub := newFakeHub(t)
	client := NewClient(hub.config(), nil)

	result := client.Send(context.Background(), cim.DocumentPriceList, []byte(`{}`))
	assert.Equal(t, OutcomeRejected, result.Outcome)
	assert.Equal(t, int32(0), hub.tokenCalls.Load())
}

func TestPeekAndDequeue(t *testing.T) {
	hub := newFakeHub(t)
	hub.queue = []Message{{ID: "msg-1", Payload: []byte(`{"a":1}`)}}
	client := NewClient(hub.config(), nil)
	ctx := context.Background()

	msg, err := client.Peek(ctx)
	require.NoError(t, err)
	require.NotNil(t, msg)
	assert.Equal(t, "msg-1", msg.ID)
	assert.JSONEq(t, `{"a":1}`, string(msg.Payload))

	require.NoError(t, client.Dequeue(ctx, msg.ID))
	assert.Equal(t, []string{"msg-1"}, hub.dequeued)

	msg, err = client.Peek(ctx)
	require.NoError(t, err)
	assert.Nil(t, msg)
}

func TestDequeueEscapesMessageID(t *testing.T) {
	hub := newFakeHub(t)
	client := NewClient(hub.config(), nil)

	require.NoError(t, client.Dequeue(context.Background(), "a/b c?x=1"))
	assert.Equal(t, []string{"a/b c?x=1"}, hub.dequeued)
	assert.Equal(t, []string{"/v1.0/cim/dequeue/a%2Fb%20c%3Fx=1"}, hub.rawPaths)
}

func TestSimulationMode(t *testing.T) {
	client := NewClient(EndpointConfig{}, nil)
	assert.True(t, client.Simulated())

	result := client.Send(context.Background(), cim.DocumentRequestChangeOfSupplier, []byte(`{}`))
	assert.Equal(t, OutcomeAccepted, result.Outcome)

	msg, err := client.Peek(context.Background())
	require.NoError(t, err)
	assert.Nil(t, msg)
	assert.NoError(t, client.Dequeue(context.Background(), "anything"))
}
