package mocks

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"visitortracker/internal/model"
)

type MockVisitorStore struct {
	CreateVisitorFunc       func(ctx context.Context, v *model.Visitor) error
	RecordRevisitFunc       func(ctx context.Context, ip, userAgent string, at time.Time) (*model.Visitor, error)
	ListLocatedVisitorsFunc func(ctx context.Context) ([]model.Visitor, error)
}

func (m *MockVisitorStore) CreateVisitor(ctx context.Context, v *model.Visitor) error {
	return m.CreateVisitorFunc(ctx, v)
}

func (m *MockVisitorStore) RecordRevisit(ctx context.Context, ip, userAgent string, at time.Time) (*model.Visitor, error) {
	return m.RecordRevisitFunc(ctx, ip, userAgent, at)
}

func (m *MockVisitorStore) ListLocatedVisitors(ctx context.Context) ([]model.Visitor, error) {
	return m.ListLocatedVisitorsFunc(ctx)
}

// MockGeolocator counts lookups so tests can assert whether tracking ran.
type MockGeolocator struct {
	LookupFunc func(ctx context.Context, ip string) model.Location
	calls      atomic.Int64
}

func (m *MockGeolocator) Lookup(ctx context.Context, ip string) model.Location {
	m.calls.Add(1)
	if m.LookupFunc == nil {
		return model.Location{}
	}
	return m.LookupFunc(ctx, ip)
}

func (m *MockGeolocator) Calls() int64 {
	return m.calls.Load()
}

type MockLocationCache struct {
	GetLocationFunc func(ctx context.Context, ip string) (model.Location, bool, error)
	SetLocationFunc func(ctx context.Context, ip string, loc model.Location) error
}

func (m *MockLocationCache) GetLocation(ctx context.Context, ip string) (model.Location, bool, error) {
	return m.GetLocationFunc(ctx, ip)
}

func (m *MockLocationCache) SetLocation(ctx context.Context, ip string, loc model.Location) error {
	return m.SetLocationFunc(ctx, ip, loc)
}

type MockPublicIPCache struct {
	GetPublicIPFunc func(ctx context.Context) (string, error)
	SetPublicIPFunc func(ctx context.Context, ip string) error
}

func (m *MockPublicIPCache) GetPublicIP(ctx context.Context) (string, error) {
	return m.GetPublicIPFunc(ctx)
}

func (m *MockPublicIPCache) SetPublicIP(ctx context.Context, ip string) error {
	return m.SetPublicIPFunc(ctx, ip)
}

// MemoryStore is an in-memory visitor table with a unique key on the IP
// address, mirroring the constraint the Postgres schema enforces.
type MemoryStore struct {
	mu       sync.Mutex
	visitors map[string]model.Visitor
	nextID   int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{visitors: make(map[string]model.Visitor)}
}

func (s *MemoryStore) CreateVisitor(_ context.Context, v *model.Visitor) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.visitors[v.IPAddress]; ok {
		return model.ErrVisitorExists
	}
	s.nextID++
	v.ID = s.nextID
	s.visitors[v.IPAddress] = *v
	return nil
}

func (s *MemoryStore) RecordRevisit(_ context.Context, ip, userAgent string, at time.Time) (*model.Visitor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.visitors[ip]
	if !ok {
		return nil, model.ErrVisitorNotFound
	}
	v.VisitCount++
	if at.After(v.LastVisit) {
		v.LastVisit = at
	}
	v.UserAgent = userAgent
	s.visitors[ip] = v
	return &v, nil
}

func (s *MemoryStore) ListLocatedVisitors(_ context.Context) ([]model.Visitor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []model.Visitor
	for _, v := range s.visitors {
		if v.HasCoordinates() {
			out = append(out, v)
		}
	}
	return out, nil
}

func (s *MemoryStore) Get(ip string) (model.Visitor, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.visitors[ip]
	return v, ok
}

func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.visitors)
}

func (s *MemoryStore) GetVisitor(_ context.Context, ip string) (*model.Visitor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.visitors[ip]
	if !ok {
		return nil, model.ErrVisitorNotFound
	}
	return &v, nil
}

func (s *MemoryStore) CountVisitors(_ context.Context) (int64, error) {
	return int64(s.Len()), nil
}
