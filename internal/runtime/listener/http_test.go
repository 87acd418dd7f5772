package listener

import (
	"context"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drblury/txnode/internal/runtime/jsoncodec"
	"github.com/drblury/txnode/internal/runtime/jsonrpc"
)

func startHTTP(t *testing.T, opts HTTPOptions, release <-chan struct{}) (*HTTPListener, func() error) {
	t.Helper()
	l, err := ListenHTTP("127.0.0.1:0", newDispatcher(t, release), opts)
	require.NoError(t, err)
	return l, runUnit(t, l.Run)
}

func TestHTTPListenerAnswersCalls(t *testing.T) {
	l, _ := startHTTP(t, HTTPOptions{}, nil)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, body := postRPC(t, client, l.Addr().String(), `{"jsonrpc":"2.0","id":1,"method":"echo","params":{"a":1}}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	out := decodeResponse(t, body)
	require.Nil(t, out.Error)
	var echo echoResult
	require.NoError(t, jsoncodec.Unmarshal(out.Result, &echo))
	assert.JSONEq(t, `{"a":1}`, string(echo.Params))
	assert.Equal(t, TransportHTTP, echo.Transport)
	assert.NotZero(t, echo.Session)
}

func TestHTTPListenerNotificationHasNoBody(t *testing.T) {
	l, _ := startHTTP(t, HTTPOptions{}, nil)
	resp, body := postRPC(t, http.DefaultClient, l.Addr().String(), `{"jsonrpc":"2.0","method":"echo"}`)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Empty(t, body)
}

func TestHTTPListenerProtocolErrors(t *testing.T) {
	l, _ := startHTTP(t, HTTPOptions{}, nil)

	_, body := postRPC(t, http.DefaultClient, l.Addr().String(), `{not json`)
	out := decodeResponse(t, body)
	require.NotNil(t, out.Error)
	assert.Equal(t, jsonrpc.CodeParseError, out.Error.Code)

	_, body = postRPC(t, http.DefaultClient, l.Addr().String(), `{"jsonrpc":"2.0","id":7,"method":"missing"}`)
	out = decodeResponse(t, body)
	require.NotNil(t, out.Error)
	assert.Equal(t, jsonrpc.CodeMethodNotFound, out.Error.Code)
	assert.JSONEq(t, "7", string(out.ID))
}

func TestHTTPListenerSessionsFollowConnections(t *testing.T) {
	l, _ := startHTTP(t, HTTPOptions{}, nil)
	session := func(client *http.Client) uint64 {
		_, body := postRPC(t, client, l.Addr().String(), `{"jsonrpc":"2.0","id":1,"method":"echo"}`)
		var echo echoResult
		require.NoError(t, jsoncodec.Unmarshal(decodeResponse(t, body).Result, &echo))
		return echo.Session
	}

	a := &http.Client{Transport: &http.Transport{}}
	b := &http.Client{Transport: &http.Transport{}}
	first := session(a)
	assert.Equal(t, first, session(a), "keep-alive connection keeps its session")
	assert.NotEqual(t, first, session(b))
}

func TestHTTPListenerRoutes(t *testing.T) {
	l, _ := startHTTP(t, HTTPOptions{Metrics: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, "metrics")
	})}, nil)
	base := "http://" + l.Addr().String()

	resp, err := http.Get(base + "/healthz")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"status":"ok","methods":3}`, string(body))

	resp, err = http.Get(base + "/metrics")
	require.NoError(t, err)
	body, _ = io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, "metrics", string(body))

	resp, err = http.Get(base + "/")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
	assert.Equal(t, http.MethodPost, resp.Header.Get("Allow"))

	resp, err = http.Post(base+"/other", "application/json", strings.NewReader("{}"))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHTTPListenerWithoutMetricsHandler(t *testing.T) {
	l, _ := startHTTP(t, HTTPOptions{}, nil)
	resp, err := http.Get("http://" + l.Addr().String() + "/metrics")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHTTPListenerMountsExtraHandlers(t *testing.T) {
	l, _ := startHTTP(t, HTTPOptions{Handlers: map[string]http.Handler{
		"/status": http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = io.WriteString(w, "status")
		}),
	}}, nil)

	resp, err := http.Get("http://" + l.Addr().String() + "/status")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "status", string(body))
}

func TestHTTPListenerBodyLimit(t *testing.T) {
	l, _ := startHTTP(t, HTTPOptions{MaxBodyBytes: 16}, nil)
	resp, body := postRPC(t, http.DefaultClient, l.Addr().String(), `{"jsonrpc":"2.0","id":1,"method":"echo","params":[1,2,3]}`)
	assert.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)
	out := decodeResponse(t, body)
	require.NotNil(t, out.Error)
	assert.Equal(t, jsonrpc.CodeInvalidRequest, out.Error.Code)
}

func TestHTTPListenerRateLimit(t *testing.T) {
	l, _ := startHTTP(t, HTTPOptions{RateLimitRPS: 0.001, RateLimitBurst: 1}, nil)
	resp, _ := postRPC(t, http.DefaultClient, l.Addr().String(), `{"jsonrpc":"2.0","id":1,"method":"echo"}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp, _ = postRPC(t, http.DefaultClient, l.Addr().String(), `{"jsonrpc":"2.0","id":2,"method":"echo"}`)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
}

func TestHTTPListenerRecoversPanics(t *testing.T) {
	l, _ := startHTTP(t, HTTPOptions{}, nil)
	resp, body := postRPC(t, http.DefaultClient, l.Addr().String(),
		`[{"jsonrpc":"2.0","id":1,"method":"echo"},{"jsonrpc":"2.0","id":2,"method":"boom"}]`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, string(jsonrpc.InternalErrorResponse()), string(body))

	resp, _ = postRPC(t, http.DefaultClient, l.Addr().String(), `{"jsonrpc":"2.0","id":3,"method":"echo"}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode, "listener keeps serving after a panic")
}

func TestHTTPListenerDrainsInFlightOnCancel(t *testing.T) {
	release := make(chan struct{})
	l, stop := startHTTP(t, HTTPOptions{ShutdownTimeout: 5 * time.Second}, release)

	type result struct {
		status int
		body   []byte
	}
	got := make(chan result, 1)
	go func() {
		resp, err := http.Post("http://"+l.Addr().String()+"/", "application/json",
			strings.NewReader(`{"jsonrpc":"2.0","id":1,"method":"slow"}`))
		if err != nil {
			got <- result{}
			return
		}
		defer resp.Body.Close()
		body, _ := io.ReadAll(resp.Body)
		got <- result{status: resp.StatusCode, body: body}
	}()

	// wait until the request is inside the handler
	require.Eventually(t, func() bool {
		return l.sessions.Load() > 0
	}, 2*time.Second, 10*time.Millisecond)
	time.Sleep(50 * time.Millisecond)

	stopped := make(chan error, 1)
	go func() { stopped <- stop() }()
	time.Sleep(50 * time.Millisecond)
	close(release)

	r := <-got
	assert.Equal(t, http.StatusOK, r.status)
	assert.JSONEq(t, `"slow"`, string(decodeResponse(t, r.body).Result))
	assert.NoError(t, <-stopped)

	_, err := http.Post("http://"+l.Addr().String()+"/", "application/json", strings.NewReader(`{}`))
	assert.Error(t, err, "listener no longer accepts connections")
}

func TestHTTPListenerRunReturnsOnCancelledContext(t *testing.T) {
	l, err := ListenHTTP("127.0.0.1:0", newDispatcher(t, nil), HTTPOptions{})
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.NoError(t, l.Run(ctx))
}
