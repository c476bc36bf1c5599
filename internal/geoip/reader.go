package geoip

import (
	"net"

	"github.com/oschwald/geoip2-golang"
)

// Provider wraps the GeoIP2 City database reader to resolve addresses to coordinates.
type Provider struct {
	db *geoip2.Reader
}

// Open initializes the GeoIP database reader from a specific file path.
func Open(path string) (*Provider, error) {
	db, err := geoip2.Open(path)
	if err != nil {
		return nil, err
	}

	return &Provider{db: db}, nil
}

// Close closes the underlying GeoIP database reader.
func (p *Provider) Close() error {
	return p.db.Close()
}

// LatLon looks up the approximate (latitude, longitude) of an IP address string.
// ok is false for invalid, private or unknown addresses.
func (p *Provider) LatLon(ipStr string) (lat, lon float64, ok bool) {
	ip := net.ParseIP(ipStr)
	if ip == nil || ip.IsLoopback() || ip.IsPrivate() || ip.IsUnspecified() {
		return 0, 0, false
	}

	record, err := p.db.City(ip)
	if err != nil {
		return 0, 0, false
	}

	// MaxMind reports 0,0 with zero accuracy radius when nothing is known
	if record.Location.AccuracyRadius == 0 && record.Location.Latitude == 0 && record.Location.Longitude == 0 {
		return 0, 0, false
	}

	return record.Location.Latitude, record.Location.Longitude, true
}
