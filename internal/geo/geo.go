// Package geo resolves coarse geolocation for request IPs. Lookups for
// private/reserved addresses return an absent location, and provider
// failures are surfaced as errors the caller tolerates by storing the
// event without geolocation.
package geo

import (
	"context"
	"fmt"
	"net"
	"net/netip"

	"github.com/oschwald/geoip2-golang"
)

// Location is a coarse geolocation result. The zero value means absent.
type Location struct {
	Country string
	City    string
}

// Absent reports whether no location data is attached.
func (l Location) Absent() bool {
	return l.Country == "" && l.City == ""
}

// Provider resolves an IP to a Location.
type Provider interface {
	Lookup(ctx context.Context, ip string) (Location, error)
	Close() error
}

// Noop is a Provider that always returns an absent location.
type Noop struct{}

func (Noop) Lookup(ctx context.Context, ip string) (Location, error) { return Location{}, nil }
func (Noop) Close() error                                            { return nil }

// MaxMind resolves locations from a local GeoLite2/GeoIP2 City database.
type MaxMind struct {
	reader *geoip2.Reader
}

// NewMaxMind opens the mmdb file at path.
func NewMaxMind(path string) (*MaxMind, error) {
	reader, err := geoip2.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open geoip database: %w", err)
	}
	return &MaxMind{reader: reader}, nil
}

func (m *MaxMind) Lookup(ctx context.Context, ip string) (Location, error) {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return Location{}, fmt.Errorf("invalid ip %q: %w", ip, err)
	}
	if IsPrivate(addr) {
		return Location{}, nil
	}

	record, err := m.reader.City(net.IP(addr.AsSlice()))
	if err != nil {
		return Location{}, fmt.Errorf("geoip lookup for %s: %w", ip, err)
	}

	return Location{
		Country: record.Country.Names["en"],
		City:    record.City.Names["en"],
	}, nil
}

func (m *MaxMind) Close() error {
	return m.reader.Close()
}

// IsPrivate reports whether addr is private, loopback, link-local or
// otherwise not publicly routable. Such addresses never get geolocation.
func IsPrivate(addr netip.Addr) bool {
	return addr.IsPrivate() ||
		addr.IsLoopback() ||
		addr.IsLinkLocalUnicast() ||
		addr.IsLinkLocalMulticast() ||
		addr.IsUnspecified() ||
		addr.IsMulticast()
}
