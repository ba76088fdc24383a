// Package metrics provides recovery-level metrics collection.
// This is a lightweight metrics foundation using atomic counters.
package metrics

import (
	"sync/atomic"
	"time"
)

// Policy names as reported by wallet.Policy.
const (
	policyFullSigned    = "fullSigned"
	policyKrsAssisted   = "krsAssisted"
	policyUnsignedSweep = "unsignedSweep"
)

// Metrics holds recovery metrics using atomic counters for thread safety.
type Metrics struct {
	// Provider request metrics
	providerCallsTotal   atomic.Int64
	providerErrorsTotal  atomic.Int64
	providerLatencyNanos atomic.Int64
	providerRetries      atomic.Int64

	// Discovery metrics
	addressesScanned atomic.Int64
	unspentsFound    atomic.Int64

	// Recovery outcomes
	recoveriesTotal  atomic.Int64
	recoveriesFailed atomic.Int64
	fullSigned       atomic.Int64
	krsAssisted      atomic.Int64
	unsignedSweeps   atomic.Int64
}

// Global is the global metrics instance.
//
//nolint:gochecknoglobals // Intentional global for metrics access
var Global = &Metrics{}

// RecordProviderCall records a provider request with its duration and outcome.
func (m *Metrics) RecordProviderCall(duration time.Duration, err error) {
	m.providerCallsTotal.Add(1)
	m.providerLatencyNanos.Add(duration.Nanoseconds())

	if err != nil {
		m.providerErrorsTotal.Add(1)
	}
}

// RecordProviderRetry records a retried provider request.
func (m *Metrics) RecordProviderRetry() {
	m.providerRetries.Add(1)
}

// RecordAddressScanned records one derived address checked against a provider.
func (m *Metrics) RecordAddressScanned() {
	m.addressesScanned.Add(1)
}

// RecordUnspents records discovered unspent outputs.
func (m *Metrics) RecordUnspents(n int) {
	m.unspentsFound.Add(int64(n))
}

// RecordRecovery records a finished recovery attempt under its policy.
func (m *Metrics) RecordRecovery(policy string, err error) {
	m.recoveriesTotal.Add(1)
	if err != nil {
		m.recoveriesFailed.Add(1)
		return
	}

	switch policy {
	case policyFullSigned:
		m.fullSigned.Add(1)
	case policyKrsAssisted:
		m.krsAssisted.Add(1)
	case policyUnsignedSweep:
		m.unsignedSweeps.Add(1)
	}
}

// Snapshot is a point-in-time copy of all metrics.
type Snapshot struct {
	ProviderCallsTotal   int64
	ProviderErrorsTotal  int64
	ProviderLatencyNanos int64
	ProviderRetries      int64
	AddressesScanned     int64
	UnspentsFound        int64
	RecoveriesTotal      int64
	RecoveriesFailed     int64
	FullSigned           int64
	KrsAssisted          int64
	UnsignedSweeps       int64
}

// Snapshot returns a point-in-time copy of all metrics.
func (m *Metrics) Snapshot() Snapshot {
	return Snapshot{
		ProviderCallsTotal:   m.providerCallsTotal.Load(),
		ProviderErrorsTotal:  m.providerErrorsTotal.Load(),
		ProviderLatencyNanos: m.providerLatencyNanos.Load(),
		ProviderRetries:      m.providerRetries.Load(),
		AddressesScanned:     m.addressesScanned.Load(),
		UnspentsFound:        m.unspentsFound.Load(),
		RecoveriesTotal:      m.recoveriesTotal.Load(),
		RecoveriesFailed:     m.recoveriesFailed.Load(),
		FullSigned:           m.fullSigned.Load(),
		KrsAssisted:          m.krsAssisted.Load(),
		UnsignedSweeps:       m.unsignedSweeps.Load(),
	}
}

// ProviderCallsTotal returns the total number of provider requests made.
func (m *Metrics) ProviderCallsTotal() int64 {
	return m.providerCallsTotal.Load()
}

// ProviderErrorsTotal returns the total number of failed provider requests.
func (m *Metrics) ProviderErrorsTotal() int64 {
	return m.providerErrorsTotal.Load()
}

// ProviderLatencyAvgMs returns the average provider latency in milliseconds.
// Returns 0 if no calls have been made.
func (m *Metrics) ProviderLatencyAvgMs() float64 {
	calls := m.providerCallsTotal.Load()
	if calls == 0 {
		return 0
	}
	return float64(m.providerLatencyNanos.Load()) / float64(calls) / 1e6
}

// AddressesScanned returns the number of addresses checked.
func (m *Metrics) AddressesScanned() int64 {
	return m.addressesScanned.Load()
}

// Reset resets all metrics to zero.
// Useful for testing.
func (m *Metrics) Reset() {
	m.providerCallsTotal.Store(0)
	m.providerErrorsTotal.Store(0)
	m.providerLatencyNanos.Store(0)
	m.providerRetries.Store(0)
	m.addressesScanned.Store(0)
	m.unspentsFound.Store(0)
	m.recoveriesTotal.Store(0)
	m.recoveriesFailed.Store(0)
	m.fullSigned.Store(0)
	m.krsAssisted.Store(0)
	m.unsignedSweeps.Store(0)
}
