package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"visitortracker/internal/model"
	"visitortracker/tests/mocks"
)

func ptr(f float64) *float64 { return &f }

func located(lat, lon float64) func(ctx context.Context, ip string) model.Location {
	return func(ctx context.Context, ip string) model.Location {
		return model.Location{
			Country:     "Brazil",
			CountryCode: "BR",
			Region:      "Sao Paulo",
			City:        "Sao Paulo",
			Latitude:    ptr(lat),
			Longitude:   ptr(lon),
		}
	}
}

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestVisitorService(store VisitorStore, geo Geolocator) (*VisitorService, *fakeClock) {
	clock := &fakeClock{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
	svc := NewVisitorService(store, geo, zap.NewNop())
	svc.now = clock.Now
	return svc, clock
}

func TestVisitorService_RecordVisit_NewVisitor(t *testing.T) {
	store := mocks.NewMemoryStore()
	geo := &mocks.MockGeolocator{LookupFunc: located(-23.5505, -46.6333)}
	svc, clock := newTestVisitorService(store, geo)

	result, err := svc.RecordVisit(context.Background(), "200.147.67.142", "Mozilla/5.0")
	require.NoError(t, err)

	assert.True(t, result.Created)
	assert.Equal(t, int64(1), result.Visitor.VisitCount)
	assert.Equal(t, 1, store.Len())

	stored, ok := store.Get("200.147.67.142")
	require.True(t, ok)
	assert.Equal(t, "Sao Paulo", stored.City)
	assert.Equal(t, clock.now, stored.FirstVisit)
	assert.Equal(t, clock.now, stored.LastVisit)
	assert.True(t, stored.HasCoordinates())
	assert.Equal(t, int64(1), geo.Calls())
}

func TestVisitorService_RecordVisit_Repeated(t *testing.T) {
	store := mocks.NewMemoryStore()
	geo := &mocks.MockGeolocator{LookupFunc: located(-23.5505, -46.6333)}
	svc, clock := newTestVisitorService(store, geo)
	ctx := context.Background()

	first := clock.now
	const visits = 5
	for i := 0; i < visits; i++ {
		if i > 0 {
			clock.Advance(time.Minute)
		}
		result, err := svc.RecordVisit(ctx, "200.147.67.142", "agent")
		require.NoError(t, err)
		assert.Equal(t, i == 0, result.Created)
	}

	_, err := svc.RecordVisit(ctx, "200.147.67.142", "Firefox/120")
	require.NoError(t, err)

	stored, _ := store.Get("200.147.67.142")
	assert.Equal(t, int64(visits+1), stored.VisitCount)
	assert.Equal(t, first, stored.FirstVisit)
	assert.Equal(t, clock.now, stored.LastVisit)
	assert.Equal(t, "Firefox/120", stored.UserAgent)
	assert.Equal(t, int64(1), geo.Calls(), "existing visitors are not geolocated again")
}

func TestVisitorService_RecordVisit_NoGeolocation(t *testing.T) {
	store := mocks.NewMemoryStore()
	svc, _ := newTestVisitorService(store, &mocks.MockGeolocator{})

	result, err := svc.RecordVisit(context.Background(), "10.0.0.8", "agent")
	require.NoError(t, err)

	assert.True(t, result.Created)
	assert.Nil(t, result.Visitor.Latitude)
	assert.Nil(t, result.Visitor.Longitude)
	assert.Equal(t, model.UnknownLocation, result.Visitor.LocationLabel())
	assert.Equal(t, 1, store.Len())
}

func TestVisitorService_RecordVisit_LostInsertRace(t *testing.T) {
	store := mocks.NewMemoryStore()
	winner := &model.Visitor{
		IPAddress:  "200.147.67.142",
		VisitCount: 1,
		FirstVisit: time.Date(2025, 3, 1, 11, 59, 59, 0, time.UTC),
		LastVisit:  time.Date(2025, 3, 1, 11, 59, 59, 0, time.UTC),
	}
	geo := &mocks.MockGeolocator{
		LookupFunc: func(ctx context.Context, ip string) model.Location {
			// A concurrent request inserts the row while this one is geolocating.
			require.NoError(t, store.CreateVisitor(ctx, winner))
			return model.Location{}
		},
	}
	svc, clock := newTestVisitorService(store, geo)

	result, err := svc.RecordVisit(context.Background(), "200.147.67.142", "agent")
	require.NoError(t, err)

	assert.False(t, result.Created)
	assert.Equal(t, int64(2), result.Visitor.VisitCount)
	assert.Equal(t, clock.now, result.Visitor.LastVisit)
	assert.Equal(t, 1, store.Len())
}

func TestVisitorService_RecordVisit_Concurrent(t *testing.T) {
	store := mocks.NewMemoryStore()
	geo := &mocks.MockGeolocator{
		LookupFunc: func(ctx context.Context, ip string) model.Location {
			time.Sleep(10 * time.Millisecond)
			return located(1, 2)(ctx, ip)
		},
	}
	svc := NewVisitorService(store, geo, zap.NewNop())

	const callers = 8
	var wg sync.WaitGroup
	errs := make(chan error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.RecordVisit(context.Background(), "198.51.100.1", "agent")
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}

	stored, ok := store.Get("198.51.100.1")
	require.True(t, ok)
	assert.Equal(t, 1, store.Len())
	assert.Equal(t, int64(callers), stored.VisitCount)
}

func TestVisitorService_RecordVisit_StoreErrors(t *testing.T) {
	boom := errors.New("connection refused")

	tests := []struct {
		name  string
		store *mocks.MockVisitorStore
	}{
		{
			name: "update fails",
			store: &mocks.MockVisitorStore{
				RecordRevisitFunc: func(ctx context.Context, ip, ua string, at time.Time) (*model.Visitor, error) {
					return nil, boom
				},
			},
		},
		{
			name: "create fails",
			store: &mocks.MockVisitorStore{
				RecordRevisitFunc: func(ctx context.Context, ip, ua string, at time.Time) (*model.Visitor, error) {
					return nil, model.ErrVisitorNotFound
				},
				CreateVisitorFunc: func(ctx context.Context, v *model.Visitor) error {
					return boom
				},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, _ := newTestVisitorService(tt.store, &mocks.MockGeolocator{})
			_, err := svc.RecordVisit(context.Background(), "8.8.8.8", "agent")
			assert.ErrorIs(t, err, boom)
		})
	}
}

func TestVisitorService_GetLocations_Empty(t *testing.T) {
	svc, _ := newTestVisitorService(mocks.NewMemoryStore(), &mocks.MockGeolocator{})

	resp, err := svc.GetLocations(context.Background())
	require.NoError(t, err)

	assert.NotNil(t, resp.Locations)
	assert.Empty(t, resp.Locations)
	assert.Equal(t, model.Summary{}, resp.Summary)
}

func TestVisitorService_GetLocations_Groups(t *testing.T) {
	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	visitors := []model.Visitor{
		{IPAddress: "1.1.1.1", City: "Sao Paulo", Country: "Brazil", Latitude: ptr(-23.5505), Longitude: ptr(-46.6333), VisitCount: 3, LastVisit: base},
		{IPAddress: "1.1.1.2", City: "Sao Paulo", Country: "Brazil", Latitude: ptr(-23.5505), Longitude: ptr(-46.6333), VisitCount: 4, LastVisit: base.Add(time.Hour)},
		{IPAddress: "2.2.2.2", City: "London", Country: "United Kingdom", Latitude: ptr(51.5074), Longitude: ptr(-0.1278), VisitCount: 1, LastVisit: base},
		{IPAddress: "3.3.3.3", VisitCount: 9, LastVisit: base},
	}
	store := &mocks.MockVisitorStore{
		ListLocatedVisitorsFunc: func(ctx context.Context) ([]model.Visitor, error) {
			return visitors, nil
		},
	}
	svc, _ := newTestVisitorService(store, &mocks.MockGeolocator{})

	resp, err := svc.GetLocations(context.Background())
	require.NoError(t, err)
	require.Len(t, resp.Locations, 2)

	saoPaulo := resp.Locations[0]
	assert.Equal(t, "Sao Paulo", saoPaulo.City)
	assert.Equal(t, 2, saoPaulo.UniqueIPs)
	assert.Equal(t, int64(7), saoPaulo.TotalVisits)
	assert.Equal(t, base.Add(time.Hour), saoPaulo.LastVisit)

	london := resp.Locations[1]
	assert.Equal(t, "London", london.City)
	assert.Equal(t, 1, london.UniqueIPs)
	assert.Equal(t, int64(1), london.TotalVisits)

	assert.Equal(t, model.Summary{UniqueIPs: 3, TotalVisits: 8}, resp.Summary)
}

func TestVisitorService_GetLocations_StoreError(t *testing.T) {
	store := &mocks.MockVisitorStore{
		ListLocatedVisitorsFunc: func(ctx context.Context) ([]model.Visitor, error) {
			return nil, errors.New("timeout")
		},
	}
	svc, _ := newTestVisitorService(store, &mocks.MockGeolocator{})

	_, err := svc.GetLocations(context.Background())
	assert.Error(t, err)
}
