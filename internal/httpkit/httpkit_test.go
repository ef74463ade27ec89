package httpkit

import (
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestNewClient_DefaultTimeout(t *testing.T) {
	c := NewClient()
	if c.Timeout != DefaultTimeout {
		t.Errorf("Timeout = %v, want %v", c.Timeout, DefaultTimeout)
	}
}

func TestNewClient_ZeroTimeout(t *testing.T) {
	c := NewClient(WithTimeout(0))
	if c.Timeout != 0 {
		t.Errorf("Timeout = %v, want 0", c.Timeout)
	}
}

func TestNewClient_ResponseHeaderTimeout(t *testing.T) {
	c := NewClient(WithResponseHeaderTimeout(2 * time.Minute))
	tr := c.Transport.(*userAgentTransport).base.(*http.Transport)
	if tr.ResponseHeaderTimeout != 2*time.Minute {
		t.Errorf("ResponseHeaderTimeout = %v, want 2m", tr.ResponseHeaderTimeout)
	}
}

func TestNewClient_UserAgent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(r.Header.Get("User-Agent")))
	}))
	defer srv.Close()

	tests := []struct {
		name   string
		header string
		want   string
	}{
		{name: "default", want: "ChatNGT/"},
		{name: "caller header wins", header: "CustomBot/2.0", want: "CustomBot/2.0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewClient()
			req, _ := http.NewRequest(http.MethodGet, srv.URL, nil)
			if tt.header != "" {
				req.Header.Set("User-Agent", tt.header)
			}
			resp, err := c.Do(req)
			if err != nil {
				t.Fatal(err)
			}
			defer resp.Body.Close()
			body, _ := io.ReadAll(resp.Body)
			if !strings.HasPrefix(string(body), tt.want) {
				t.Errorf("User-Agent = %q, want prefix %q", body, tt.want)
			}
		})
	}
}

func TestNewTransport_Defaults(t *testing.T) {
	tr := NewTransport()
	if tr.TLSHandshakeTimeout != DefaultTLSHandshakeTimeout {
		t.Errorf("TLSHandshakeTimeout = %v, want %v", tr.TLSHandshakeTimeout, DefaultTLSHandshakeTimeout)
	}
	if tr.ResponseHeaderTimeout != DefaultResponseHeader {
		t.Errorf("ResponseHeaderTimeout = %v, want %v", tr.ResponseHeaderTimeout, DefaultResponseHeader)
	}
	if tr.MaxIdleConnsPerHost != DefaultMaxIdleConnsPerHost {
		t.Errorf("MaxIdleConnsPerHost = %d, want %d", tr.MaxIdleConnsPerHost, DefaultMaxIdleConnsPerHost)
	}
}

func TestReadErrorBody(t *testing.T) {
	tests := []struct {
		name  string
		rc    io.ReadCloser
		limit int64
		want  string
	}{
		{name: "short", rc: io.NopCloser(strings.NewReader("bad key")), limit: 512, want: "bad key"},
		{name: "truncated", rc: io.NopCloser(strings.NewReader(strings.Repeat("x", 100))), limit: 10, want: "xxxxxxxxxx"},
		{name: "nil", rc: nil, limit: 512, want: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ReadErrorBody(tt.rc, tt.limit); got != tt.want {
				t.Errorf("ReadErrorBody() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestReadErrorBody_ReadFailure(t *testing.T) {
	got := ReadErrorBody(io.NopCloser(failReader{}), 512)
	if !strings.Contains(got, "failed to read") {
		t.Errorf("ReadErrorBody() = %q, want failure message", got)
	}
}

type failReader struct{}

func (failReader) Read([]byte) (int, error) { return 0, fmt.Errorf("simulated read error") }

func TestDrainAndClose_Nil(t *testing.T) {
	DrainAndClose(nil, 1024)
}
