package storage

import (
	"context"
	"time"

	"github.com/callwatch/backend/internal/types"
)

// TrunkCounts aggregates trunk-leg call records since a point in time
type TrunkCounts struct {
	Total     int
	Abandoned int
}

// Store defines the durable call record storage interface. The
// registration and identity tables are owned by the switch and its
// provisioning; this system only reads them.
type Store interface {
	GetCallRecord(ctx context.Context, uniqueID string) (*types.CallRecord, error)
	CreateCallRecord(ctx context.Context, rec types.CallRecord) error
	UpdateCallRecord(ctx context.Context, uniqueID string, upd types.CallRecordUpdate) error
	TrunkCounts(ctx context.Context, since time.Time) (TrunkCounts, error)
	HourlyVolume(ctx context.Context, hours int) ([]types.HourlyVolume, error)
	LatestRegistrations(ctx context.Context) ([]types.RegistrationRow, error)
	Identities(ctx context.Context) ([]types.Identity, error)
	Close() error
}

// NoopStore is a no-op implementation when durable storage is disabled
type NoopStore struct{}

func NewNoopStore() *NoopStore { return &NoopStore{} }

func (s *NoopStore) GetCallRecord(_ context.Context, _ string) (*types.CallRecord, error) {
	return nil, nil
}
func (s *NoopStore) CreateCallRecord(_ context.Context, _ types.CallRecord) error { return nil }
func (s *NoopStore) UpdateCallRecord(_ context.Context, _ string, _ types.CallRecordUpdate) error {
	return nil
}
func (s *NoopStore) TrunkCounts(_ context.Context, _ time.Time) (TrunkCounts, error) {
	return TrunkCounts{}, nil
}
func (s *NoopStore) HourlyVolume(_ context.Context, _ int) ([]types.HourlyVolume, error) {
	return nil, nil
}
func (s *NoopStore) LatestRegistrations(_ context.Context) ([]types.RegistrationRow, error) {
	return nil, nil
}
func (s *NoopStore) Identities(_ context.Context) ([]types.Identity, error) { return nil, nil }
func (s *NoopStore) Close() error                                           { return nil }
