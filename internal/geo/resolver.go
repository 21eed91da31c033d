// Package geo resolves shared coordinates to a permitted region name via a
// reverse-geocoding provider. The resolver is fail-soft: every transport
// error, timeout, or out-of-set name collapses into ErrUnresolved so callers
// never branch on the cause.
package geo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/ngconnect/connectbot/internal/config"
	"github.com/ngconnect/connectbot/internal/logger"
	"log/slog"
)

// ErrUnresolved is returned whenever coordinates cannot be mapped to a
// permitted region, regardless of cause.
var ErrUnresolved = errors.New("region unresolved")

// Resolver maps coordinates to a permitted region name.
type Resolver interface {
	ResolveRegion(ctx context.Context, lat, lon float64) (string, error)
}

// NominatimResolver queries a Nominatim-compatible reverse endpoint.
type NominatimResolver struct {
	baseURL   string
	userAgent string
	client    *http.Client
}

// NewNominatimResolver builds a resolver with a bounded request timeout (≤10s).
func NewNominatimResolver(cfg config.GeoConfig) *NominatimResolver {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 || timeout > 10*time.Second {
		timeout = 10 * time.Second
	}
	return &NominatimResolver{
		baseURL:   cfg.BaseURL,
		userAgent: cfg.UserAgent,
		client: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				Proxy:                 http.ProxyFromEnvironment,
				DialContext:           (&net.Dialer{Timeout: 5 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
				ForceAttemptHTTP2:     true,
				MaxIdleConns:          10,
				IdleConnTimeout:       30 * time.Second,
				TLSHandshakeTimeout:   5 * time.Second,
				ResponseHeaderTimeout: timeout,
			},
		},
	}
}

type reverseResponse struct {
	Address struct {
		State string `json:"state"`
	} `json:"address"`
}

// ResolveRegion performs the reverse lookup and normalizes the returned name
// against the permitted set. Any failure yields ErrUnresolved; the cause is
// logged here and never leaks to the conversation layer.
func (r *NominatimResolver) ResolveRegion(ctx context.Context, lat, lon float64) (string, error) {
	start := time.Now()

	region, err := r.lookup(ctx, lat, lon)
	if err != nil {
		logger.Warn(ctx, "geo", "geo.resolve",
			slog.String("status", "fail"),
			slog.String("err", err.Error()),
			slog.Duration("duration", logger.Took(start)),
		)
		return "", ErrUnresolved
	}

	logger.Debug(ctx, "geo", "geo.resolve",
		slog.String("status", "ok"),
		slog.String("region", region),
		slog.Duration("duration", logger.Took(start)),
	)
	return region, nil
}

func (r *NominatimResolver) lookup(ctx context.Context, lat, lon float64) (string, error) {
	q := url.Values{}
	q.Set("format", "json")
	q.Set("lat", strconv.FormatFloat(lat, 'f', -1, 64))
	q.Set("lon", strconv.FormatFloat(lon, 'f', -1, 64))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.baseURL+"/reverse?"+q.Encode(), nil)
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", r.userAgent)

	resp, err := r.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("reverse request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("reverse request: unexpected status %s", resp.Status)
	}

	var decoded reverseResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}

	region, ok := NormalizeRegion(decoded.Address.State)
	if !ok {
		return "", fmt.Errorf("name %q not in permitted set", decoded.Address.State)
	}
	return region, nil
}
