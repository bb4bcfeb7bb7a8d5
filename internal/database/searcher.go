package database

import (
	"context"
	"time"

	"github.com/kozaktomas/face-checkin/internal/facematch"
)

// SearcherIndex adapts a backend's native nearest-template search to
// facematch.CandidateIndex.
type SearcherIndex struct {
	Searcher TemplateSearcher
	Timeout  time.Duration
}

// Candidates queries the backend with a bounded context.
func (s SearcherIndex) Candidates(probe facematch.FeatureVector, k int) ([]string, error) {
	ctx := context.Background()
	if s.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.Timeout)
		defer cancel()
	}
	return s.Searcher.NearestTemplates(ctx, probe.Float32(), k)
}
