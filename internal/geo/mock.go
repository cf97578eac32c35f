package geo

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// InMemoryLookup is a stand-in for the lookup services used in tests. It
// resolves IPs and coordinates from seeded tables and records every request.
type InMemoryLookup struct {
	mu         sync.Mutex
	byIP       map[string]string
	byPosition map[[2]float64]string
	// Err, when set, is returned from every lookup.
	Err error
	// Delay is applied before answering, honoring context cancellation.
	Delay      time.Duration
	RequestLog []string
}

// NewInMemoryLookup creates an empty lookup.
func NewInMemoryLookup() *InMemoryLookup {
	return &InMemoryLookup{
		byIP:       make(map[string]string),
		byPosition: make(map[[2]float64]string),
	}
}

// SeedIP maps ip to country.
func (m *InMemoryLookup) SeedIP(ip, country string) *InMemoryLookup {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byIP[ip] = country
	return m
}

// SeedPosition maps coordinates to country.
func (m *InMemoryLookup) SeedPosition(lat, lon float64, country string) *InMemoryLookup {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byPosition[[2]float64{lat, lon}] = country
	return m
}

// RequestsMade returns the number of lookups performed.
func (m *InMemoryLookup) RequestsMade() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.RequestLog)
}

func (m *InMemoryLookup) wait(ctx context.Context) error {
	if m.Delay <= 0 {
		return ctx.Err()
	}
	select {
	case <-time.After(m.Delay):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// LookupCountry implements the IP lookup.
func (m *InMemoryLookup) LookupCountry(ctx context.Context, ip string) (string, error) {
	m.mu.Lock()
	m.RequestLog = append(m.RequestLog, "ip:"+ip)
	m.mu.Unlock()

	if err := m.wait(ctx); err != nil {
		return "", err
	}
	if m.Err != nil {
		return "", m.Err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	country, ok := m.byIP[ip]
	if !ok {
		return "", fmt.Errorf("no country for ip %q", ip)
	}
	return country, nil
}

// CountryAt implements reverse geocoding.
func (m *InMemoryLookup) CountryAt(ctx context.Context, lat, lon float64) (string, error) {
	m.mu.Lock()
	m.RequestLog = append(m.RequestLog, fmt.Sprintf("pos:%.4f,%.4f", lat, lon))
	m.mu.Unlock()

	if err := m.wait(ctx); err != nil {
		return "", err
	}
	if m.Err != nil {
		return "", m.Err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	country, ok := m.byPosition[[2]float64{lat, lon}]
	if !ok {
		return "", fmt.Errorf("no country at %.4f,%.4f", lat, lon)
	}
	return country, nil
}
