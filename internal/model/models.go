package model

import (
	"errors"
	"time"
)

var (
	ErrVisitorNotFound = errors.New("visitor not found")
	ErrVisitorExists   = errors.New("visitor already exists")
)

// Visitor is one row per distinct IP address.
type Visitor struct {
	ID          int64     `db:"id"`
	IPAddress   string    `db:"ip_address"`
	Country     string    `db:"country"`
	CountryCode string    `db:"country_code"`
	Region      string    `db:"region"`
	City        string    `db:"city"`
	Latitude    *float64  `db:"latitude"`
	Longitude   *float64  `db:"longitude"`
	UserAgent   string    `db:"user_agent"`
	VisitCount  int64     `db:"visit_count"`
	FirstVisit  time.Time `db:"first_visit"`
	LastVisit   time.Time `db:"last_visit"`
}

// HasCoordinates reports whether the visitor was geolocated.
func (v *Visitor) HasCoordinates() bool {
	return v.Latitude != nil && v.Longitude != nil
}

// LocationLabel renders "City, Country" with whatever parts are known.
func (v *Visitor) LocationLabel() string {
	switch {
	case v.City != "" && v.Country != "":
		return v.City + ", " + v.Country
	case v.Country != "":
		return v.Country
	case v.City != "":
		return v.City
	default:
		return UnknownLocation
	}
}

const UnknownLocation = "Unknown"

// Location is the result of a geolocation lookup. The zero value means the
// lookup failed.
type Location struct {
	Country     string   `json:"country"`
	CountryCode string   `json:"country_code"`
	Region      string   `json:"region"`
	City        string   `json:"city"`
	Latitude    *float64 `json:"latitude,omitempty"`
	Longitude   *float64 `json:"longitude,omitempty"`
}

func (l Location) Found() bool {
	return l.Latitude != nil && l.Longitude != nil
}

type LocationGroup struct {
	Latitude    float64   `json:"latitude"`
	Longitude   float64   `json:"longitude"`
	Country     string    `json:"country"`
	CountryCode string    `json:"country_code"`
	Region      string    `json:"region"`
	City        string    `json:"city"`
	UniqueIPs   int       `json:"unique_ips"`
	TotalVisits int64     `json:"total_visits"`
	LastVisit   time.Time `json:"last_visit"`
}

type Summary struct {
	UniqueIPs   int   `json:"unique_ips"`
	TotalVisits int64 `json:"total_visits"`
}

type LocationsResponse struct {
	Locations []LocationGroup `json:"locations"`
	Summary   Summary         `json:"summary"`
}

// VisitResult describes the outcome of a single RecordVisit call.
type VisitResult struct {
	Visitor *Visitor
	Created bool
}

type RegisterResponse struct {
	Status     string `json:"status"`
	Created    bool   `json:"created"`
	VisitCount int64  `json:"visit_count"`
	Location   string `json:"location"`
}

// SiteSettings is the single site-wide settings row.
type SiteSettings struct {
	ID               int64     `db:"id"`
	TrackingEnabled  bool      `db:"tracking_enabled"`
	PublicIPFallback bool      `db:"public_ip_fallback"`
	UpdatedAt        time.Time `db:"updated_at"`
}

type Error struct {
	Message string `json:"message"`
}
