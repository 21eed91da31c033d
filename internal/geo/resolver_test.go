package geo

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ngconnect/connectbot/internal/config"
)

func newTestResolver(t *testing.T, handler http.HandlerFunc) *NominatimResolver {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewNominatimResolver(config.GeoConfig{
		BaseURL:        srv.URL,
		UserAgent:      "connectbot-test",
		TimeoutSeconds: 2,
	})
}

func TestResolveRegionStripsStateSuffix(t *testing.T) {
	resolver := newTestResolver(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "connectbot-test", r.Header.Get("User-Agent"))
		assert.Equal(t, "json", r.URL.Query().Get("format"))
		assert.Equal(t, "6.5", r.URL.Query().Get("lat"))
		assert.Equal(t, "3.3", r.URL.Query().Get("lon"))
		w.Write([]byte(`{"address":{"state":"Lagos State"}}`))
	})

	region, err := resolver.ResolveRegion(context.Background(), 6.5, 3.3)
	require.NoError(t, err)
	assert.Equal(t, "Lagos", region)
}

func TestResolveRegionOutOfSetName(t *testing.T) {
	resolver := newTestResolver(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"address":{"state":"Accra"}}`))
	})

	_, err := resolver.ResolveRegion(context.Background(), 5.6, -0.2)
	assert.ErrorIs(t, err, ErrUnresolved)
}

func TestResolveRegionEmptyState(t *testing.T) {
	resolver := newTestResolver(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"address":{}}`))
	})

	_, err := resolver.ResolveRegion(context.Background(), 0, 0)
	assert.ErrorIs(t, err, ErrUnresolved)
}

func TestResolveRegionServerError(t *testing.T) {
	resolver := newTestResolver(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	})

	_, err := resolver.ResolveRegion(context.Background(), 6.5, 3.3)
	assert.ErrorIs(t, err, ErrUnresolved)
}

func TestResolveRegionMalformedBody(t *testing.T) {
	resolver := newTestResolver(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"address":`))
	})

	_, err := resolver.ResolveRegion(context.Background(), 6.5, 3.3)
	assert.ErrorIs(t, err, ErrUnresolved)
}

func TestResolveRegionTimeout(t *testing.T) {
	resolver := newTestResolver(t, func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		w.Write([]byte(`{"address":{"state":"Lagos"}}`))
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := resolver.ResolveRegion(ctx, 6.5, 3.3)
	assert.ErrorIs(t, err, ErrUnresolved)
}

func TestNormalizeRegion(t *testing.T) {
	cases := []struct {
		in   string
		want string
		ok   bool
	}{
		{"Lagos State", "Lagos", true},
		{"lagos state", "Lagos", true},
		{"  FCT ", "FCT", true},
		{"Cross River State", "Cross River", true},
		{"Accra", "", false},
		{"", "", false},
		{" State", "", false},
	}
	for _, tc := range cases {
		got, ok := NormalizeRegion(tc.in)
		assert.Equal(t, tc.ok, ok, "input %q", tc.in)
		if tc.ok {
			assert.Equal(t, tc.want, got, "input %q", tc.in)
		}
	}
}
