package manager

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/callwatch/backend/internal/types"
)

// reachableVocabulary are the raw status fragments that count as a
// qualified, reachable contact. Matching is substring-based because
// switch versions phrase these differently ("Reachable", "Avail",
// "Created" and so on).
var reachableVocabulary = []string{"reachable", "created", "ok", "available", "online"}

// isStatusReachable reports whether a raw contact status means the
// endpoint answers qualify probes.
func isStatusReachable(raw string) bool {
	s := strings.ToLower(raw)
	for _, v := range reachableVocabulary {
		if strings.Contains(s, v) {
			return true
		}
	}
	return false
}

// isPlaceholderURI detects the parked offline contact the dialplan
// provisions for unregistered extensions. A placeholder is not a real
// registration.
func isPlaceholderURI(uri, extension string) bool {
	if uri == "" {
		return true
	}
	if strings.Contains(uri, "@offline") {
		return true
	}
	return extension != "" && uri == fmt.Sprintf("sip:%s@offline", extension)
}

func registrationLabel(registered bool) string {
	if registered {
		return "Registered"
	}
	return "Offline"
}

// reachabilityLabel folds the two presence axes into the display label.
// Registered-but-unqualified is NonQualified, not Offline: such an
// endpoint still places and receives calls.
func reachabilityLabel(registered, reachable bool) string {
	switch {
	case registered && reachable:
		return "Reachable"
	case registered:
		return "NonQualified"
	default:
		return "Offline"
	}
}

// entryFromRow folds one registration row into a presence entry. A row
// counts as registered only when its contact URI is a real registration
// and the registration has not lapsed past its expiration time.
func entryFromRow(row types.RegistrationRow, now int64) types.AvailabilityEntry {
	expired := row.Expiration > 0 && row.Expiration < now
	registered := row.URI != "" && !isPlaceholderURI(row.URI, row.Endpoint) && !expired
	reachable := isStatusReachable(row.Status)
	return types.AvailabilityEntry{
		Extension:    row.Endpoint,
		IsRegistered: registered,
		Status:       registrationLabel(registered),
		Reachability: reachabilityLabel(registered, reachable),
		RawStatus:    row.Status,
		ContactURI:   row.URI,
		LastSeen:     now,
		Expiration:   row.Expiration,
	}
}

// Availability returns the registration state of every known extension,
// served from cache when fresh. A full refresh reads the registration
// table, one row per endpoint (the newest registration wins).
func (m *Manager) Availability(ctx context.Context) ([]types.AvailabilityEntry, error) {
	if entries, ok := m.cache.GetAll(); ok {
		return entries, nil
	}

	rows, err := m.registrations.LatestRegistrations(ctx)
	if err != nil {
		return nil, fmt.Errorf("read registrations: %w", err)
	}

	now := time.Now().Unix()
	entries := make([]types.AvailabilityEntry, 0, len(rows))
	for _, row := range rows {
		if row.Endpoint == "" {
			continue
		}
		entries = append(entries, entryFromRow(row, now))
	}

	m.cache.PutAll(entries)
	return entries, nil
}

// RefreshAvailability drops the cached view and rebuilds it from the
// registration table.
func (m *Manager) RefreshAvailability(ctx context.Context) ([]types.AvailabilityEntry, error) {
	m.cache.InvalidateAll()
	return m.Availability(ctx)
}

// SetContactOffline marks an extension offline ahead of the switch's
// own presence event, for explicit agent logout.
func (m *Manager) SetContactOffline(extension string) {
	m.cache.Put(types.AvailabilityEntry{
		Extension:    extension,
		Status:       registrationLabel(false),
		Reachability: reachabilityLabel(false, false),
		ContactURI:   fmt.Sprintf("sip:%s@offline", extension),
		LastSeen:     time.Now().Unix(),
	})
	m.logger.Info().Str("extension", extension).Msg("contact forced offline")
}

// SetContactOnline drops the cached entry and re-reads the extension's
// real registration, for explicit agent login.
func (m *Manager) SetContactOnline(ctx context.Context, extension string) (types.AvailabilityEntry, error) {
	m.cache.Invalidate(extension)
	return m.AvailabilityFor(ctx, extension)
}

// AvailabilityFor returns one extension's registration state,
// cache-first with a targeted table read on miss.
func (m *Manager) AvailabilityFor(ctx context.Context, extension string) (types.AvailabilityEntry, error) {
	if entry, ok := m.cache.Get(extension); ok {
		return entry, nil
	}

	rows, err := m.registrations.LatestRegistrations(ctx)
	if err != nil {
		return types.AvailabilityEntry{}, fmt.Errorf("read registrations: %w", err)
	}

	entry := types.AvailabilityEntry{
		Extension:    extension,
		Status:       registrationLabel(false),
		Reachability: reachabilityLabel(false, false),
	}
	now := time.Now().Unix()
	for _, row := range rows {
		if row.Endpoint != extension {
			continue
		}
		entry = entryFromRow(row, now)
		break
	}

	m.cache.Put(entry)
	return entry, nil
}
