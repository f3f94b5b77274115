package matrix

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sessionCookie = "session"

// fakeDeviceHTTP emulates the device's /cgi-bin/instr endpoint.
type fakeDeviceHTTP struct {
	mu       sync.Mutex
	handle   func(req map[string]any) (int, string)
	requests []map[string]any
	cookies  []string
}

func (f *fakeDeviceHTTP) serveInstr(w http.ResponseWriter, r *http.Request) {
	var req map[string]any
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}

	cookie := ""
	if c, err := r.Cookie(sessionCookie); err == nil {
		cookie = c.Value
	}

	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.cookies = append(f.cookies, cookie)
	handle := f.handle
	f.mu.Unlock()

	if req["comhead"] == ComheadLogin {
		http.SetCookie(w, &http.Cookie{Name: sessionCookie, Value: "abc123", Path: "/"})
	}

	status, body := handle(req)
	// The firmware labels JSON replies as text/plain.
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
}

func (f *fakeDeviceHTTP) seen() ([]map[string]any, []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]map[string]any(nil), f.requests...), append([]string(nil), f.cookies...)
}

func startFakeHTTPDevice(t *testing.T, handle func(req map[string]any) (int, string)) (*fakeDeviceHTTP, ChannelConfig) {
	t.Helper()
	dev := &fakeDeviceHTTP{handle: handle}

	r := chi.NewRouter()
	r.Post(instrPath, dev.serveInstr)

	srv := httptest.NewTLSServer(r)
	t.Cleanup(srv.Close)

	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	host, portText, err := net.SplitHostPort(u.Host)
	require.NoError(t, err)
	port, err := strconv.Atoi(portText)
	require.NoError(t, err)

	return dev, ChannelConfig{
		Host:     host,
		Port:     port,
		Username: "admin",
		Password: "secret",
		Timeout:  2 * time.Second,
	}
}

func okDevice(req map[string]any) (int, string) {
	switch req["comhead"] {
	case ComheadLogin:
		return http.StatusOK, `{"comhead":"login","result":1}`
	case ComheadVideoStatus:
		return http.StatusOK, `{"comhead":"get video status","power":1,"allsource":[1,2,3,4,5,6,7,8]}`
	default:
		c, _ := req["comhead"].(string)
		return http.StatusOK, `{"comhead":"` + c + `","result":1}`
	}
}

func TestNewHTTPChannel_RequiresHost(t *testing.T) {
	_, err := NewHTTPChannel(ChannelConfig{})
	assert.ErrorIs(t, err, ErrInvalidValue)
}

func TestHTTPChannel_LoginAndSend(t *testing.T) {
	dev, cfg := startFakeHTTPDevice(t, okDevice)
	ch, err := NewHTTPChannel(cfg)
	require.NoError(t, err)
	defer ch.Close()

	assert.False(t, ch.IsConnected())
	require.NoError(t, ch.Login(context.Background()))
	assert.True(t, ch.IsConnected())

	resp, err := ch.Send(context.Background(), NewRequest(ComheadVideoStatus, nil))
	require.NoError(t, err)

	var vs VideoStatus
	require.NoError(t, resp.Decode(&vs))
	assert.Equal(t, 1, vs.Power)
	assert.Equal(t, 3, vs.Routing()[3])

	reqs, cookies := dev.seen()
	require.Len(t, reqs, 2)

	assert.Equal(t, map[string]any{"comhead": "login", "user": "admin", "password": "secret"}, reqs[0])
	assert.Equal(t, "get video status", reqs[1]["comhead"])
	assert.Equal(t, float64(0), reqs[1]["language"])

	assert.Empty(t, cookies[0])
	assert.Equal(t, "abc123", cookies[1], "session cookie replayed")

	stats := ch.Stats()
	assert.Equal(t, uint64(2), stats.Requests)
	assert.Zero(t, stats.Failures)
	assert.True(t, stats.Connected)
}

func TestHTTPChannel_LoginAcceptance(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr bool
	}{
		{name: "result one", body: `{"comhead":"login","result":1}`},
		{name: "echo without result", body: `{"comhead":"login"}`},
		{name: "explicit rejection", body: `{"comhead":"login","result":0}`, wantErr: true},
		{name: "wrong comhead", body: `{"comhead":"error"}`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, cfg := startFakeHTTPDevice(t, func(map[string]any) (int, string) {
				return http.StatusOK, tt.body
			})
			ch, err := NewHTTPChannel(cfg)
			require.NoError(t, err)
			defer ch.Close()

			err = ch.Login(context.Background())
			if tt.wantErr {
				require.ErrorIs(t, err, ErrAuthFailed)
				assert.False(t, ch.IsConnected())
				return
			}
			require.NoError(t, err)
			assert.True(t, ch.IsConnected())
		})
	}
}

func TestHTTPChannel_SendRejected(t *testing.T) {
	_, cfg := startFakeHTTPDevice(t, func(req map[string]any) (int, string) {
		if req["comhead"] == ComheadLogin {
			return okDevice(req)
		}
		return http.StatusOK, `{"comhead":"video switch","result":0}`
	})
	ch, err := NewHTTPChannel(cfg)
	require.NoError(t, err)
	defer ch.Close()
	require.NoError(t, ch.Login(context.Background()))

	resp, err := ch.Send(context.Background(), NewRequest(ComheadVideoSwitch, map[string]any{"source": []int{1, 2}}))
	require.ErrorIs(t, err, ErrCommandRejected)
	require.NotNil(t, resp, "rejected reply is still returned")
	require.NotNil(t, resp.Result)
	assert.Equal(t, 0, *resp.Result)
	assert.True(t, ch.IsConnected(), "a rejection does not drop the session")
}

func TestHTTPChannel_Non200MarksDisconnected(t *testing.T) {
	_, cfg := startFakeHTTPDevice(t, func(req map[string]any) (int, string) {
		if req["comhead"] == ComheadLogin {
			return okDevice(req)
		}
		return http.StatusInternalServerError, "oops"
	})
	ch, err := NewHTTPChannel(cfg)
	require.NoError(t, err)
	defer ch.Close()
	require.NoError(t, ch.Login(context.Background()))

	_, err = ch.Send(context.Background(), NewRequest(ComheadVideoStatus, nil))
	require.ErrorIs(t, err, ErrConnectionFailed)
	assert.Contains(t, err.Error(), "HTTP 500")
	assert.False(t, ch.IsConnected())
	assert.Equal(t, uint64(1), ch.Stats().Failures)
}

func TestHTTPChannel_InvalidJSON(t *testing.T) {
	_, cfg := startFakeHTTPDevice(t, func(req map[string]any) (int, string) {
		if req["comhead"] == ComheadLogin {
			return okDevice(req)
		}
		return http.StatusOK, "<html>not json</html>"
	})
	ch, err := NewHTTPChannel(cfg)
	require.NoError(t, err)
	defer ch.Close()
	require.NoError(t, ch.Login(context.Background()))

	_, err = ch.Send(context.Background(), NewRequest(ComheadVideoStatus, nil))
	require.ErrorIs(t, err, ErrInvalidResponse)
	assert.True(t, ch.IsConnected(), "a garbled reply is not a transport failure")
}

func TestHTTPChannel_Unreachable(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port //nolint:forcetypeassert // tcp listener
	ln.Close()

	ch, err := NewHTTPChannel(ChannelConfig{Host: "127.0.0.1", Port: port, Timeout: time.Second})
	require.NoError(t, err)
	defer ch.Close()

	err = ch.Login(context.Background())
	require.ErrorIs(t, err, ErrConnectionFailed)
	assert.False(t, ch.IsConnected())
}

func TestHTTPChannel_TimeoutMarksDisconnected(t *testing.T) {
	release := make(chan struct{})
	_, cfg := startFakeHTTPDevice(t, func(req map[string]any) (int, string) {
		if req["comhead"] == ComheadLogin {
			return okDevice(req)
		}
		select {
		case <-release:
		case <-time.After(5 * time.Second):
		}
		return okDevice(req)
	})
	t.Cleanup(func() { close(release) })
	cfg.Timeout = 100 * time.Millisecond

	ch, err := NewHTTPChannel(cfg)
	require.NoError(t, err)
	defer ch.Close()
	require.NoError(t, ch.Login(context.Background()))
	require.True(t, ch.IsConnected())

	start := time.Now()
	_, err = ch.Send(context.Background(), NewRequest(ComheadVideoStatus, nil))
	require.ErrorIs(t, err, ErrConnectionFailed)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, ErrCodeTimeout, ErrorCode(err))
	assert.Less(t, time.Since(start), 2*time.Second, "request is bounded by the channel timeout")
	assert.False(t, ch.IsConnected())
	assert.Equal(t, uint64(1), ch.Stats().Failures)
}

func TestHTTPChannel_CloseDropsSession(t *testing.T) {
	_, cfg := startFakeHTTPDevice(t, okDevice)
	ch, err := NewHTTPChannel(cfg)
	require.NoError(t, err)
	require.NoError(t, ch.Login(context.Background()))

	require.NoError(t, ch.Close())
	assert.False(t, ch.IsConnected())
}

func TestResponse_OKAndDecode(t *testing.T) {
	var nilResp *Response
	assert.False(t, nilResp.OK())
	assert.ErrorIs(t, nilResp.Decode(&VideoStatus{}), ErrInvalidResponse)

	resp, err := decodeResponse([]byte(`{"comhead":"get cec status","cec_in_index":[1,0,1],"cec_out_index":[0,1]}`))
	require.NoError(t, err)
	assert.True(t, resp.OK(), "data replies carry no result")

	var cs CECStatus
	require.NoError(t, resp.Decode(&cs))
	in, out := cs.Bits()
	assert.True(t, in[0])
	assert.False(t, in[1])
	assert.True(t, out[1])

	req := NewRequest(ComheadBeep, map[string]any{"beep": 1})
	assert.Equal(t, "set beep", req.Comhead())
	assert.Equal(t, 0, req["language"])
}
