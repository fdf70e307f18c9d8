package jobs

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	jobmetrics "github.com/meridian-pos/meridian-pos/internal/jobs"
)

type fakeReclaimStore struct {
	olderThan time.Duration
	reclaimed int64
	err       error
}

func (f *fakeReclaimStore) ReclaimStuck(_ context.Context, olderThan time.Duration) (int64, error) {
	f.olderThan = olderThan
	return f.reclaimed, f.err
}

func TestOutboxReclaimerUsesConfiguredLease(t *testing.T) {
	store := &fakeReclaimStore{reclaimed: 2}
	metrics := jobmetrics.NewMetrics(prometheus.NewRegistry())
	reclaimer := NewOutboxReclaimer(store, 3*time.Minute, nil, metrics)

	require.NoError(t, reclaimer.Run(context.Background()))
	assert.Equal(t, 3*time.Minute, store.olderThan)
}

func TestOutboxReclaimerDefaultsLease(t *testing.T) {
	store := &fakeReclaimStore{}
	metrics := jobmetrics.NewMetrics(prometheus.NewRegistry())
	reclaimer := NewOutboxReclaimer(store, 0, nil, metrics)

	require.NoError(t, reclaimer.Run(context.Background()))
	assert.Equal(t, 10*time.Minute, store.olderThan)
}

func TestOutboxReclaimerPropagatesError(t *testing.T) {
	store := &fakeReclaimStore{err: errors.New("db down")}
	metrics := jobmetrics.NewMetrics(prometheus.NewRegistry())
	reclaimer := NewOutboxReclaimer(store, time.Minute, nil, metrics)

	assert.Error(t, reclaimer.Run(context.Background()))
}
