package security

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"regexp"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fatoora/internal/config"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func proberFor(url string) *PublicIPProber {
	return NewPublicIPProber(config.PublicIPConfig{Endpoint: url, Timeout: 2 * time.Second}, testLogger())
}

func TestHardwareID(t *testing.T) {
	id := hardwareID("host-a", "linux", "amd64", "some cpu")

	assert.Len(t, id, hardwareIDLength)
	assert.Regexp(t, regexp.MustCompile("^[0-9a-f]{32}$"), id)

	// Same inputs always hash to the same id
	assert.Equal(t, id, hardwareID("host-a", "linux", "amd64", "some cpu"))

	// Any changed input changes the id
	assert.NotEqual(t, id, hardwareID("host-b", "linux", "amd64", "some cpu"))
	assert.NotEqual(t, id, hardwareID("host-a", "darwin", "amd64", "some cpu"))
	assert.NotEqual(t, id, hardwareID("host-a", "linux", "arm64", "some cpu"))
}

func TestGenerate_NeverFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"ip":"203.0.113.9"}`))
	}))
	defer srv.Close()

	g := NewGenerator(proberFor(srv.URL), testLogger())
	fp := g.Generate(context.Background())

	require.NotNil(t, fp)
	assert.Len(t, fp.HardwareID, hardwareIDLength)
	assert.Equal(t, runtime.GOOS, fp.Platform)
	assert.Equal(t, runtime.GOARCH, fp.Arch)
	assert.NotEmpty(t, fp.Hostname)
	assert.NotEmpty(t, fp.IPAddress)
	assert.NotEmpty(t, fp.OSUser)
	assert.Equal(t, "203.0.113.9", fp.PublicIP)
}

func TestGenerate_UnreachableProbeDegradesToUnknown(t *testing.T) {
	// A closed port fails fast; the fingerprint must still be produced
	g := NewGenerator(proberFor("http://127.0.0.1:1"), testLogger())
	fp := g.Generate(context.Background())

	require.NotNil(t, fp)
	assert.Equal(t, unknownValue, fp.PublicIP)
	assert.Len(t, fp.HardwareID, hardwareIDLength)
}

func TestGenerate_CachesResult(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Write([]byte(`{"ip":"203.0.113.9"}`))
	}))
	defer srv.Close()

	g := NewGenerator(proberFor(srv.URL), testLogger())

	first := g.Generate(context.Background())
	second := g.Generate(context.Background())

	assert.Equal(t, first.HardwareID, second.HardwareID)
	assert.Equal(t, 1, calls)

	g.ClearCache()
	g.Generate(context.Background())
	assert.Equal(t, 2, calls)
}

func TestPublicIPLookup(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		want    string
	}{
		{
			name: "valid echo",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(`{"ip":"198.51.100.7"}`))
			},
			want: "198.51.100.7",
		},
		{
			name: "whitespace trimmed",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(`{"ip":" 198.51.100.7 "}`))
			},
			want: "198.51.100.7",
		},
		{
			name: "non-200 status",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusServiceUnavailable)
			},
			want: unknownValue,
		},
		{
			name: "malformed body",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(`not json`))
			},
			want: unknownValue,
		},
		{
			name: "empty ip field",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(`{"ip":""}`))
			},
			want: unknownValue,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			got := proberFor(srv.URL).Lookup(context.Background())
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestPublicIPLookup_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		w.Write([]byte(`{"ip":"198.51.100.7"}`))
	}))
	defer srv.Close()

	p := proberFor(srv.URL).WithTimeout(20 * time.Millisecond)
	assert.Equal(t, unknownValue, p.Lookup(context.Background()))
}
