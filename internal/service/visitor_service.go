package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/samber/lo"
	"go.uber.org/zap"

	"visitortracker/internal/model"
)

type VisitorStore interface {
	CreateVisitor(ctx context.Context, v *model.Visitor) error
	RecordRevisit(ctx context.Context, ip, userAgent string, at time.Time) (*model.Visitor, error)
	ListLocatedVisitors(ctx context.Context) ([]model.Visitor, error)
}

type Geolocator interface {
	Lookup(ctx context.Context, ip string) model.Location
}

// VisitorService counts every visit: a known IP has its counter bumped on
// each request, a new IP is geolocated once and stored.
type VisitorService struct {
	store  VisitorStore
	geo    Geolocator
	logger *zap.Logger
	now    func() time.Time
}

func NewVisitorService(store VisitorStore, geo Geolocator, logger *zap.Logger) *VisitorService {
	return &VisitorService{
		store:  store,
		geo:    geo,
		logger: logger,
		now:    time.Now,
	}
}

func (s *VisitorService) RecordVisit(ctx context.Context, ip, userAgent string) (*model.VisitResult, error) {
	now := s.now().UTC()

	visitor, err := s.store.RecordRevisit(ctx, ip, userAgent, now)
	if err == nil {
		s.logger.Debug("visitor updated",
			zap.String("ip", ip),
			zap.Int64("visit_count", visitor.VisitCount))
		return &model.VisitResult{Visitor: visitor}, nil
	}
	if !errors.Is(err, model.ErrVisitorNotFound) {
		return nil, fmt.Errorf("updating visitor: %w", err)
	}

	loc := s.geo.Lookup(ctx, ip)
	visitor = &model.Visitor{
		IPAddress:   ip,
		Country:     loc.Country,
		CountryCode: loc.CountryCode,
		Region:      loc.Region,
		City:        loc.City,
		Latitude:    loc.Latitude,
		Longitude:   loc.Longitude,
		UserAgent:   userAgent,
		VisitCount:  1,
		FirstVisit:  now,
		LastVisit:   now,
	}

	err = s.store.CreateVisitor(ctx, visitor)
	if errors.Is(err, model.ErrVisitorExists) {
		// Lost the insert race to a concurrent request for the same IP.
		visitor, err = s.store.RecordRevisit(ctx, ip, userAgent, now)
		if err != nil {
			return nil, fmt.Errorf("updating visitor after conflict: %w", err)
		}
		return &model.VisitResult{Visitor: visitor}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("creating visitor: %w", err)
	}

	if loc.Found() {
		s.logger.Info("new visitor registered",
			zap.String("ip", ip),
			zap.String("city", loc.City),
			zap.String("country", loc.Country))
	} else {
		s.logger.Warn("visitor registered without geolocation", zap.String("ip", ip))
	}

	return &model.VisitResult{Visitor: visitor, Created: true}, nil
}

type coordinates struct {
	lat, lon float64
}

// GetLocations groups geolocated visitors by their exact coordinates.
func (s *VisitorService) GetLocations(ctx context.Context) (*model.LocationsResponse, error) {
	visitors, err := s.store.ListLocatedVisitors(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing visitors: %w", err)
	}

	located := lo.Filter(visitors, func(v model.Visitor, _ int) bool {
		return v.HasCoordinates()
	})
	groups := lo.GroupBy(located, func(v model.Visitor) coordinates {
		return coordinates{lat: *v.Latitude, lon: *v.Longitude}
	})

	resp := &model.LocationsResponse{
		Locations: make([]model.LocationGroup, 0, len(groups)),
	}

	for coords, members := range groups {
		first := members[0]
		group := model.LocationGroup{
			Latitude:    coords.lat,
			Longitude:   coords.lon,
			Country:     first.Country,
			CountryCode: first.CountryCode,
			Region:      first.Region,
			City:        first.City,
			UniqueIPs:   len(lo.UniqBy(members, func(v model.Visitor) string { return v.IPAddress })),
			TotalVisits: lo.SumBy(members, func(v model.Visitor) int64 { return v.VisitCount }),
			LastVisit: lo.MaxBy(members, func(a, b model.Visitor) bool {
				return a.LastVisit.After(b.LastVisit)
			}).LastVisit,
		}

		resp.Locations = append(resp.Locations, group)
		resp.Summary.UniqueIPs += group.UniqueIPs
		resp.Summary.TotalVisits += group.TotalVisits
	}

	sort.Slice(resp.Locations, func(i, j int) bool {
		a, b := resp.Locations[i], resp.Locations[j]
		if a.TotalVisits != b.TotalVisits {
			return a.TotalVisits > b.TotalVisits
		}
		if a.Latitude != b.Latitude {
			return a.Latitude < b.Latitude
		}
		return a.Longitude < b.Longitude
	})

	return resp, nil
}
