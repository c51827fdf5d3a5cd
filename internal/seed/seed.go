// Package seed fills an empty visitors table with sample visitors so the
// map has something to show in development.
package seed

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"visitortracker/internal/model"
)

type Store interface {
	GetVisitor(ctx context.Context, ip string) (*model.Visitor, error)
	CreateVisitor(ctx context.Context, v *model.Visitor) error
	CountVisitors(ctx context.Context) (int64, error)
}

type sample struct {
	ip, country, countryCode, region, city string
	lat, lon                               float64
	userAgent                              string
}

const (
	windowsAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64)"
	macAgent     = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7)"
	linuxAgent   = "Mozilla/5.0 (X11; Linux x86_64)"
)

var samples = []sample{
	{"192.168.1.100", "Brazil", "BR", "São Paulo", "São Paulo", -23.5505, -46.6333, windowsAgent},
	{"192.168.1.101", "Brazil", "BR", "Rio de Janeiro", "Rio de Janeiro", -22.9068, -43.1729, windowsAgent},
	{"192.168.1.102", "United States", "US", "California", "San Francisco", 37.7749, -122.4194, macAgent},
	{"192.168.1.103", "United States", "US", "New York", "New York", 40.7128, -74.0060, windowsAgent},
	{"192.168.1.104", "United Kingdom", "GB", "England", "London", 51.5074, -0.1278, macAgent},
	{"192.168.1.105", "Germany", "DE", "Berlin", "Berlin", 52.5200, 13.4050, linuxAgent},
	{"192.168.1.106", "France", "FR", "Île-de-France", "Paris", 48.8566, 2.3522, windowsAgent},
	{"192.168.1.107", "Japan", "JP", "Tokyo", "Tokyo", 35.6762, 139.6503, macAgent},
	{"192.168.1.108", "Australia", "AU", "New South Wales", "Sydney", -33.8688, 151.2093, windowsAgent},
	{"192.168.1.109", "Canada", "CA", "Ontario", "Toronto", 43.6532, -79.3832, macAgent},
	{"192.168.1.110", "Spain", "ES", "Madrid", "Madrid", 40.4168, -3.7038, windowsAgent},
	{"192.168.1.111", "Italy", "IT", "Lazio", "Rome", 41.9028, 12.4964, linuxAgent},
	{"192.168.1.112", "Brazil", "BR", "Minas Gerais", "Belo Horizonte", -19.9167, -43.9345, windowsAgent},
	{"192.168.1.113", "Argentina", "AR", "Buenos Aires", "Buenos Aires", -34.6037, -58.3816, windowsAgent},
	{"192.168.1.114", "Mexico", "MX", "Ciudad de México", "Mexico City", 19.4326, -99.1332, macAgent},
}

// Run inserts every sample visitor that is not stored yet and returns how
// many rows it created.
func Run(ctx context.Context, store Store, now time.Time, logger *zap.Logger) (int, error) {
	created := 0
	for _, s := range samples {
		_, err := store.GetVisitor(ctx, s.ip)
		if err == nil {
			continue
		}
		if !errors.Is(err, model.ErrVisitorNotFound) {
			return created, fmt.Errorf("checking %s: %w", s.ip, err)
		}

		lat, lon := s.lat, s.lon
		err = store.CreateVisitor(ctx, &model.Visitor{
			IPAddress:   s.ip,
			Country:     s.country,
			CountryCode: s.countryCode,
			Region:      s.region,
			City:        s.city,
			Latitude:    &lat,
			Longitude:   &lon,
			UserAgent:   s.userAgent,
			VisitCount:  1,
			FirstVisit:  now,
			LastVisit:   now,
		})
		if errors.Is(err, model.ErrVisitorExists) {
			continue
		}
		if err != nil {
			return created, fmt.Errorf("creating %s: %w", s.ip, err)
		}

		created++
		logger.Info("sample visitor created",
			zap.String("city", s.city),
			zap.String("country", s.country))
	}

	total, err := store.CountVisitors(ctx)
	if err != nil {
		return created, fmt.Errorf("counting visitors: %w", err)
	}

	logger.Info("sample visitors seeded",
		zap.Int("created", created),
		zap.Int64("total_visitors", total))

	return created, nil
}
