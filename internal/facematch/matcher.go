package facematch

import (
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/kozaktomas/face-checkin/internal/constants"
)

// CandidateIndex narrows a large gallery to the templates worth scoring exactly.
type CandidateIndex interface {
	Candidates(probe FeatureVector, k int) ([]string, error)
}

// Options configures a Matcher. Zero values select the defaults.
type Options struct {
	Metric SimilarityMetric
	// Threshold overrides the metric's default when set. Zero is a valid
	// threshold for cosine similarity.
	Threshold          *float64
	ParallelMinGallery int
	Workers            int

	// Index is consulted only when the gallery has at least IndexMinGallery
	// templates; IndexMinGallery 0 disables it. Index candidates are ranked
	// by the index's own distance, so for mean_distance the prefilter is
	// approximate and may drop the exact best template.
	Index           CandidateIndex
	IndexMinGallery int
	IndexCandidates int
}

// Stats counts matcher activity and input contract violations.
type Stats struct {
	matches    atomic.Int64
	accepted   atomic.Int64
	skipped    atomic.Int64
	degenerate atomic.Int64
}

// StatsSnapshot is a point-in-time copy of Stats.
type StatsSnapshot struct {
	Matches                  int64 `json:"matches"`
	Accepted                 int64 `json:"accepted"`
	SkippedTemplates         int64 `json:"skipped_templates"`
	DegenerateNormalizations int64 `json:"degenerate_normalizations"`
}

// Snapshot returns the current counters.
func (s *Stats) Snapshot() StatsSnapshot {
	return StatsSnapshot{
		Matches:                  s.matches.Load(),
		Accepted:                 s.accepted.Load(),
		SkippedTemplates:         s.skipped.Load(),
		DegenerateNormalizations: s.degenerate.Load(),
	}
}

// Matcher finds the best template for a probe vector.
// It holds no mutable state besides the shared counters and is safe for
// concurrent use.
type Matcher struct {
	opts      Options
	threshold float64
	stats     *Stats
}

// NewMatcher creates a matcher. stats may be nil.
func NewMatcher(opts Options, stats *Stats) *Matcher {
	if opts.Metric == nil {
		opts.Metric = MeanPointDistance{}
	}
	threshold := opts.Metric.DefaultThreshold()
	if opts.Threshold != nil {
		threshold = *opts.Threshold
	}
	if opts.ParallelMinGallery <= 0 {
		opts.ParallelMinGallery = constants.DefaultParallelMinGallery
	}
	if opts.Workers <= 0 {
		opts.Workers = runtime.GOMAXPROCS(0)
	}
	if opts.IndexCandidates <= 0 {
		opts.IndexCandidates = constants.DefaultIndexCandidates
	}
	if stats == nil {
		stats = &Stats{}
	}
	return &Matcher{opts: opts, threshold: threshold, stats: stats}
}

// Metric returns the configured metric.
func (m *Matcher) Metric() SimilarityMetric {
	return m.opts.Metric
}

// Threshold returns the acceptance threshold in effect.
func (m *Matcher) Threshold() float64 {
	return m.threshold
}

// Stats returns the shared counters.
func (m *Matcher) Stats() *Stats {
	return m.stats
}

// candidate is the running best of a scan.
type candidate struct {
	tmpl  *Template
	score float64
}

// partial is the reduction state of one chunk of the gallery.
type partial struct {
	best     *candidate
	compared int
	skipped  int
}

// Match scores probe against every comparable template and returns the best.
// Templates whose length differs from the probe are skipped and counted. An
// empty gallery is never an error, it simply yields no match.
func (m *Matcher) Match(probe FeatureVector, gallery []Template) Result {
	result := Result{Metric: m.opts.Metric.Name(), Threshold: m.threshold}
	m.stats.matches.Add(1)
	if len(gallery) == 0 || len(probe) == 0 {
		return result
	}

	gallery = m.prefilter(probe, gallery)

	var p partial
	if len(gallery) >= m.opts.ParallelMinGallery && m.opts.Workers > 1 {
		p = m.scanParallel(probe, gallery)
	} else {
		p = m.scan(probe, gallery)
	}

	result.Compared = p.compared
	result.Skipped = p.skipped
	m.stats.skipped.Add(int64(p.skipped))
	if p.best == nil {
		return result
	}

	result.Score = p.best.score
	if m.opts.Metric.Accepts(p.best.score, m.threshold) {
		result.Accepted = true
		result.IdentityID = p.best.tmpl.IdentityID
		result.TemplateID = p.best.tmpl.TemplateID
		result.Name = p.best.tmpl.Name
		m.stats.accepted.Add(1)
	}
	return result
}

// prefilter restricts a large gallery to index candidates. Any index failure
// falls back to the full gallery.
func (m *Matcher) prefilter(probe FeatureVector, gallery []Template) []Template {
	if m.opts.Index == nil || m.opts.IndexMinGallery <= 0 || len(gallery) < m.opts.IndexMinGallery {
		return gallery
	}
	ids, err := m.opts.Index.Candidates(probe, m.opts.IndexCandidates)
	if err != nil || len(ids) == 0 {
		return gallery
	}
	want := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		want[id] = struct{}{}
	}
	filtered := make([]Template, 0, len(ids))
	for _, t := range gallery {
		if _, ok := want[t.TemplateID]; ok {
			filtered = append(filtered, t)
		}
	}
	if len(filtered) == 0 {
		return gallery
	}
	return filtered
}

func (m *Matcher) scan(probe FeatureVector, templates []Template) partial {
	var p partial
	for i := range templates {
		t := &templates[i]
		score, ok := m.opts.Metric.Score(probe, t.Vector)
		if !ok {
			p.skipped++
			continue
		}
		p.compared++
		c := &candidate{tmpl: t, score: score}
		if p.best == nil || m.better(c, p.best) {
			p.best = c
		}
	}
	return p
}

func (m *Matcher) scanParallel(probe FeatureVector, gallery []Template) partial {
	workers := min(m.opts.Workers, len(gallery))
	chunk := (len(gallery) + workers - 1) / workers
	results := make(chan partial, workers)

	var wg sync.WaitGroup
	for start := 0; start < len(gallery); start += chunk {
		end := min(start+chunk, len(gallery))
		wg.Add(1)
		go func(part []Template) {
			defer wg.Done()
			results <- m.scan(probe, part)
		}(gallery[start:end])
	}

	go func() {
		wg.Wait()
		close(results)
	}()

	var total partial
	for p := range results {
		total.compared += p.compared
		total.skipped += p.skipped
		if p.best != nil && (total.best == nil || m.better(p.best, total.best)) {
			total.best = p.best
		}
	}
	return total
}

// better orders candidates by score, then by identity id, then by template id
// so the reduction is deterministic regardless of scan order.
func (m *Matcher) better(a, b *candidate) bool {
	if m.opts.Metric.Better(a.score, b.score) {
		return true
	}
	if a.score != b.score {
		return false
	}
	if a.tmpl.IdentityID != b.tmpl.IdentityID {
		return a.tmpl.IdentityID < b.tmpl.IdentityID
	}
	return a.tmpl.TemplateID < b.tmpl.TemplateID
}
