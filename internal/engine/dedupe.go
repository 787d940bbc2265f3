package engine

import (
	"time"

	"tidespike/internal/model"
)

// DedupeObservations keeps the first reading at each timestamp. The input
// order is preserved.
func DedupeObservations(obs []model.Observation) ([]model.Observation, int) {
	seen := make(map[time.Time]struct{}, len(obs))
	out := make([]model.Observation, 0, len(obs))
	for _, ob := range obs {
		key := ob.Timestamp.UTC()
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, ob)
	}
	return out, len(obs) - len(out)
}
