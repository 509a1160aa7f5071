package telemetry

import "sync"

// shipmentLocks serializes ping processing per shipment while leaving
// different shipments fully parallel. Detectors and progress computation
// compare against the previous ping, so interleaving two pings of the same
// shipment would corrupt both.
type shipmentLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newShipmentLocks() *shipmentLocks {
	return &shipmentLocks{locks: map[string]*sync.Mutex{}}
}

// acquire locks the mutex for the shipment id and returns its unlock func.
func (l *shipmentLocks) acquire(id string) func() {
	l.mu.Lock()
	m, ok := l.locks[id]
	if !ok {
		m = &sync.Mutex{}
		l.locks[id] = m
	}
	l.mu.Unlock()
	m.Lock()
	return m.Unlock
}
