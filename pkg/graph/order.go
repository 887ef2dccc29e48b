package graph

import (
	"sort"

	"github.com/juergengeck/esp32/pkg/identity"
)

// sortCertIDsByTimestamp orders ids by each certificate's own Timestamp, breaking ties
// lexicographically by CertID, so map iteration order never decides a
// verdict.
func sortCertIDsByTimestamp(ids []identity.CertID, certs map[identity.CertID]*identity.Certificate) {
	sort.Slice(ids, func(i, j int) bool {
		a, b := certs[ids[i]], certs[ids[j]]
		if a == nil || b == nil {
			return ids[i] < ids[j]
		}
		if a.Timestamp != b.Timestamp {
			return a.Timestamp < b.Timestamp
		}
		return ids[i] < ids[j]
	})
}
