package metrics

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	kwerr "github.com/mrz1836/keyward/pkg/errors"
)

func TestMetrics_RecordProviderCall(t *testing.T) {
	t.Parallel()
	m := &Metrics{}

	m.RecordProviderCall(100*time.Millisecond, nil)
	assert.Equal(t, int64(1), m.ProviderCallsTotal())
	assert.Equal(t, int64(0), m.ProviderErrorsTotal())

	m.RecordProviderCall(50*time.Millisecond, kwerr.ErrProviderRequest)
	assert.Equal(t, int64(2), m.ProviderCallsTotal())
	assert.Equal(t, int64(1), m.ProviderErrorsTotal())
}

func TestMetrics_ProviderLatencyAvg(t *testing.T) {
	t.Parallel()
	m := &Metrics{}

	assert.InDelta(t, 0.0, m.ProviderLatencyAvgMs(), 0.001)

	// Two calls: 100ms and 200ms = 150ms avg
	m.RecordProviderCall(100*time.Millisecond, nil)
	m.RecordProviderCall(200*time.Millisecond, nil)
	assert.InDelta(t, 150.0, m.ProviderLatencyAvgMs(), 1.0)
}

func TestMetrics_RecordRecovery(t *testing.T) {
	t.Parallel()
	m := &Metrics{}

	m.RecordRecovery("fullSigned", nil)
	m.RecordRecovery("krsAssisted", nil)
	m.RecordRecovery("krsAssisted", nil)
	m.RecordRecovery("unsignedSweep", nil)
	m.RecordRecovery("fullSigned", kwerr.ErrNoFundsFound)

	snap := m.Snapshot()
	assert.Equal(t, int64(5), snap.RecoveriesTotal)
	assert.Equal(t, int64(1), snap.RecoveriesFailed)
	assert.Equal(t, int64(1), snap.FullSigned)
	assert.Equal(t, int64(2), snap.KrsAssisted)
	assert.Equal(t, int64(1), snap.UnsignedSweeps)
}

func TestMetrics_Discovery(t *testing.T) {
	t.Parallel()
	m := &Metrics{}

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.RecordAddressScanned()
		}()
	}
	wg.Wait()
	m.RecordUnspents(3)
	m.RecordProviderRetry()

	snap := m.Snapshot()
	assert.Equal(t, int64(10), m.AddressesScanned())
	assert.Equal(t, int64(3), snap.UnspentsFound)
	assert.Equal(t, int64(1), snap.ProviderRetries)
}

func TestMetrics_Reset(t *testing.T) {
	t.Parallel()
	m := &Metrics{}

	m.RecordProviderCall(time.Millisecond, nil)
	m.RecordAddressScanned()
	m.RecordRecovery("fullSigned", nil)

	m.Reset()

	assert.Equal(t, Snapshot{}, m.Snapshot())
}

func TestGlobal(t *testing.T) {
	assert.NotNil(t, Global)
}
