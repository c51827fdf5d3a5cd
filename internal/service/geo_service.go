package service

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"visitortracker/internal/model"
)

type LocationCache interface {
	GetLocation(ctx context.Context, ip string) (model.Location, bool, error)
	SetLocation(ctx context.Context, ip string, loc model.Location) error
}

// geoResponse mirrors the ip-api.com JSON payload.
type geoResponse struct {
	Status      string   `json:"status"`
	Message     string   `json:"message"`
	Country     string   `json:"country"`
	CountryCode string   `json:"countryCode"`
	RegionName  string   `json:"regionName"`
	City        string   `json:"city"`
	Lat         *float64 `json:"lat"`
	Lon         *float64 `json:"lon"`
}

type GeoService struct {
	logger  *zap.Logger
	client  *http.Client
	baseURL string
	timeout time.Duration
	cache   LocationCache
}

func NewGeoService(baseURL string, timeout time.Duration, cache LocationCache, logger *zap.Logger) *GeoService {
	return &GeoService{
		logger: logger,
		client: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:    20,
				IdleConnTimeout: 90 * time.Second,
			},
		},
		baseURL: strings.TrimRight(baseURL, "/"),
		timeout: timeout,
		cache:   cache,
	}
}

// Lookup returns an empty Location whenever the IP cannot be geolocated.
func (s *GeoService) Lookup(ctx context.Context, ip string) model.Location {
	if s.cache != nil {
		if loc, ok, err := s.cache.GetLocation(ctx, ip); err == nil && ok {
			return loc
		}
	}

	loc, err := s.fetch(ctx, ip)
	if err != nil {
		s.logger.Warn("geolocation lookup failed",
			zap.String("ip", ip),
			zap.Error(err))
		return model.Location{}
	}

	if s.cache != nil {
		if err := s.cache.SetLocation(ctx, ip, loc); err != nil {
			s.logger.Warn("failed to cache geolocation",
				zap.String("ip", ip),
				zap.Error(err))
		}
	}

	return loc
}

func (s *GeoService) fetch(ctx context.Context, ip string) (model.Location, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/"+url.PathEscape(ip), nil)
	if err != nil {
		return model.Location{}, fmt.Errorf("creating request: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return model.Location{}, fmt.Errorf("fetching geolocation: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return model.Location{}, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	var body geoResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return model.Location{}, fmt.Errorf("decoding geolocation response: %w", err)
	}

	if body.Status != "success" {
		return model.Location{}, fmt.Errorf("lookup status %q: %s", body.Status, body.Message)
	}
	if body.Lat == nil || body.Lon == nil {
		return model.Location{}, fmt.Errorf("lookup returned no coordinates")
	}

	return model.Location{
		Country:     body.Country,
		CountryCode: body.CountryCode,
		Region:      body.RegionName,
		City:        body.City,
		Latitude:    body.Lat,
		Longitude:   body.Lon,
	}, nil
}
