package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestStateSaveCounter(t *testing.T) {
	before := testutil.ToFloat64(stateSavesTotal.WithLabelValues("success"))
	IncStateSave("success")
	IncStateSave("success")
	assert.Equal(t, before+2, testutil.ToFloat64(stateSavesTotal.WithLabelValues("success")))
}

func TestSetPlayback(t *testing.T) {
	SetPlayback(42, 12.5)
	assert.Equal(t, 42.0, testutil.ToFloat64(currentTrack))
	assert.Equal(t, 12.5, testutil.ToFloat64(currentPosition))

	SetPendingPersist(true)
	assert.Equal(t, 1.0, testutil.ToFloat64(pendingPersist))
	SetPendingPersist(false)
	assert.Equal(t, 0.0, testutil.ToFloat64(pendingPersist))
}

func TestArchiveGauges(t *testing.T) {
	SetArchivesRetained(24)
	assert.Equal(t, 24.0, testutil.ToFloat64(archivesRetained))

	before := testutil.ToFloat64(archivesPruned)
	AddArchivesPruned(3)
	assert.Equal(t, before+3, testutil.ToFloat64(archivesPruned))
}

func TestObserveHTTPRequest(t *testing.T) {
	ObserveHTTPRequest("GET", "/api/v1/state", 200, 0)
	assert.Equal(t, 1, testutil.CollectAndCount(httpRequestDuration.WithLabelValues("GET", "/api/v1/state", "200").(prometheus.Histogram)))
}
