package httpkit

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/nugget/grantdesk/internal/buildinfo"
)

func TestNewClient_Timeouts(t *testing.T) {
	tests := []struct {
		name string
		opts []ClientOption
		want time.Duration
	}{
		{name: "default", want: 30 * time.Second},
		{name: "custom", opts: []ClientOption{WithTimeout(5 * time.Second)}, want: 5 * time.Second},
		{name: "streaming", opts: []ClientOption{WithTimeout(0)}, want: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewClient(tt.opts...)
			if c.Timeout != tt.want {
				t.Errorf("Timeout = %v, want %v", c.Timeout, tt.want)
			}
		})
	}
}

func echoUserAgent(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(r.Header.Get("User-Agent")))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func getBody(t *testing.T, c *http.Client, req *http.Request) string {
	t.Helper()
	resp, err := c.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	return string(body)
}

func TestNewClient_UserAgent(t *testing.T) {
	srv := echoUserAgent(t)

	req, _ := http.NewRequest(http.MethodGet, srv.URL, nil)
	if got := getBody(t, NewClient(), req); got != buildinfo.UserAgent() {
		t.Errorf("default User-Agent = %q, want %q", got, buildinfo.UserAgent())
	}

	req, _ = http.NewRequest(http.MethodGet, srv.URL, nil)
	if got := getBody(t, NewClient(WithUserAgent("TestBot/1.0")), req); got != "TestBot/1.0" {
		t.Errorf("custom User-Agent = %q, want TestBot/1.0", got)
	}

	req, _ = http.NewRequest(http.MethodGet, srv.URL, nil)
	req.Header.Set("User-Agent", "Caller/2.0")
	if got := getBody(t, NewClient(), req); got != "Caller/2.0" {
		t.Errorf("existing User-Agent overwritten: %q", got)
	}
}

func TestNewClient_WithTransport(t *testing.T) {
	tr := NewTransport()
	tr.ResponseHeaderTimeout = 2 * time.Minute
	c := NewClient(WithTransport(tr), WithoutUserAgent())
	if c.Transport != tr {
		t.Error("expected custom transport to be used directly when User-Agent is disabled")
	}
}

func TestNewTransport_HasTimeouts(t *testing.T) {
	tr := NewTransport()
	if tr.TLSHandshakeTimeout != DefaultTLSHandshakeTimeout {
		t.Errorf("TLSHandshakeTimeout = %v", tr.TLSHandshakeTimeout)
	}
	if tr.ResponseHeaderTimeout != DefaultResponseHeader {
		t.Errorf("ResponseHeaderTimeout = %v", tr.ResponseHeaderTimeout)
	}
	if tr.MaxIdleConnsPerHost != DefaultMaxIdleConnsPerHost {
		t.Errorf("MaxIdleConnsPerHost = %d", tr.MaxIdleConnsPerHost)
	}
}

func TestGetJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok" {
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte("no token"))
			return
		}
		json.NewEncoder(w).Encode(map[string]string{"name": "Acme"})
	}))
	defer srv.Close()

	c := NewClient()
	var out struct{ Name string }
	err := GetJSON(context.Background(), c, srv.URL, http.Header{"Authorization": {"Bearer tok"}}, &out)
	if err != nil {
		t.Fatalf("GetJSON: %v", err)
	}
	if out.Name != "Acme" {
		t.Errorf("name = %q, want Acme", out.Name)
	}

	err = GetJSON(context.Background(), c, srv.URL, nil, &out)
	var se *StatusError
	if !errors.As(err, &se) {
		t.Fatalf("expected *StatusError, got %v", err)
	}
	if se.Status != http.StatusUnauthorized || se.Body != "no token" {
		t.Errorf("StatusError = %+v", se)
	}
}

func TestPostJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("Content-Type = %q", ct)
		}
		io.Copy(w, r.Body)
	}))
	defer srv.Close()

	resp, err := PostJSON(context.Background(), NewClient(), srv.URL, nil, map[string]int{"n": 1})
	if err != nil {
		t.Fatalf("PostJSON: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if strings.TrimSpace(string(body)) != `{"n":1}` {
		t.Errorf("echoed body = %q", body)
	}
}

type trackingCloser struct {
	io.Reader
	closed bool
}

func (c *trackingCloser) Close() error {
	c.closed = true
	return nil
}

func TestReadErrorBody(t *testing.T) {
	rc := &trackingCloser{Reader: strings.NewReader("something went wrong and more")}
	if got := ReadErrorBody(rc, 15); got != "something went " {
		t.Errorf("ReadErrorBody = %q", got)
	}
	if !rc.closed {
		t.Error("body should be closed")
	}
	if got := ReadErrorBody(nil, 10); got != "" {
		t.Errorf("ReadErrorBody(nil) = %q, want empty", got)
	}
}

func TestDrainAndClose_Nil(t *testing.T) {
	DrainAndClose(nil, 100)
}
