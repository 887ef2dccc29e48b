package metrics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryRecordsWithoutPanic(t *testing.T) {
	r := NewRegistry("trustcore_test")

	r.RecordHTTPRequest("GET", "/verdict/{keyID}", "200", 5*time.Millisecond)
	r.RecordAdmission("TrustKeys")
	r.RecordAdmissionRejected("certificate", "invalid")
	r.RecordVerdictCacheHit()
	r.RecordVerdictCacheMiss()
	r.ObserveChainDepth(3)
	r.RecordPersistenceError("write")
	r.RecordCorruptSlot()
	r.RecordPanic("http_handler")

	families, err := r.GetRegistry().Gather()
	require.NoError(t, err)

	names := make(map[string]bool, len(families))
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["trustcore_test_admissions_total"])
	assert.True(t, names["trustcore_test_verdict_cache_hits_total"])
	assert.True(t, names["trustcore_test_chain_evaluation_depth"])
	assert.True(t, names["trustcore_test_corrupt_slots_total"])
}

func TestNewRegistryIsIsolated(t *testing.T) {
	// Two registries must not collide the way default-registry metrics do.
	a := NewRegistry("ns")
	b := NewRegistry("ns")
	a.RecordAdmission("TrustKeys")
	b.RecordAdmission("TrustKeys")
}
