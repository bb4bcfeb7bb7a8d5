package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/coder/hnsw"

	"github.com/kozaktomas/face-checkin/internal/facematch"
)

// IndexMetadata stores metadata for validating a cached template index.
type IndexMetadata struct {
	TemplateCount int       `json:"template_count"`
	Dim           int       `json:"dim"`
	Metric        string    `json:"metric"`
	BuildTime     time.Time `json:"build_time"`
	Version       int       `json:"version"` // For future compatibility
}

const indexMetadataVersion = 1

// TemplateIndex wraps an HNSW graph over template vectors. It implements
// facematch.CandidateIndex and is used as an approximate prefilter for
// large galleries; exact scoring stays with the matcher.
type TemplateIndex struct {
	graph  *hnsw.Graph[string]
	live   map[string]struct{} // HNSW has no true deletion; search results are filtered by this set
	dim    int
	metric string
	mu     sync.RWMutex
}

// NewTemplateIndex creates an empty index. Cosine metrics use cosine
// distance, everything else Euclidean distance over the flattened vector.
func NewTemplateIndex(metric string) *TemplateIndex {
	return &TemplateIndex{
		live:   make(map[string]struct{}),
		metric: metric,
	}
}

func (h *TemplateIndex) newGraph() *hnsw.Graph[string] {
	g := hnsw.NewGraph[string]()
	g.M = HNSWMaxNeighbors
	g.Ml = 1.0 / float64(HNSWMaxNeighbors) // Standard HNSW formula
	g.EfSearch = HNSWEfSearch
	if h.metric == facematch.MetricCosine {
		g.Distance = hnsw.CosineDistance
	} else {
		g.Distance = hnsw.EuclideanDistance
	}
	return g
}

// Build replaces the index contents. Templates whose dimension differs from
// the first non-empty template are left out.
func (h *TemplateIndex) Build(templates []EnrolledTemplate) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.graph = nil
	h.dim = 0
	h.live = make(map[string]struct{}, len(templates))
	for i := range templates {
		h.addLocked(&templates[i])
	}
}

// Add indexes a single template.
func (h *TemplateIndex) Add(tmpl EnrolledTemplate) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(tmpl.Vector) == 0 {
		return nil
	}
	if h.dim != 0 && len(tmpl.Vector) != h.dim {
		return fmt.Errorf("template %s has %d dimensions, index has %d", tmpl.ID, len(tmpl.Vector), h.dim)
	}
	h.addLocked(&tmpl)
	return nil
}

func (h *TemplateIndex) addLocked(tmpl *EnrolledTemplate) {
	if len(tmpl.Vector) == 0 {
		return
	}
	if h.graph == nil {
		h.graph = h.newGraph()
		h.dim = len(tmpl.Vector)
	}
	if len(tmpl.Vector) != h.dim {
		return
	}
	if _, ok := h.live[tmpl.ID]; ok {
		return
	}
	h.graph.Add(hnsw.MakeNode(tmpl.ID, tmpl.Vector))
	h.live[tmpl.ID] = struct{}{}
}

// Delete removes templates from search results.
func (h *TemplateIndex) Delete(ids ...string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, id := range ids {
		delete(h.live, id)
	}
}

// Retain keeps only the given template IDs in search results.
func (h *TemplateIndex) Retain(ids []string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.live = make(map[string]struct{}, len(ids))
	for _, id := range ids {
		h.live[id] = struct{}{}
	}
}

// Count returns the number of searchable templates.
func (h *TemplateIndex) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.live)
}

// Candidates returns up to k template IDs near the probe.
func (h *TemplateIndex) Candidates(probe facematch.FeatureVector, k int) ([]string, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.graph == nil {
		return nil, errors.New("index not initialized")
	}
	if len(probe) != h.dim {
		return nil, fmt.Errorf("probe has %d dimensions, index has %d", len(probe), h.dim)
	}

	neighbors := h.graph.Search(probe.Float32(), k*HNSWSearchMultiplier)
	ids := make([]string, 0, k)
	for _, n := range neighbors {
		if _, ok := h.live[n.Key]; !ok {
			continue
		}
		ids = append(ids, n.Key)
		if len(ids) == k {
			break
		}
	}
	return ids, nil
}

// Save persists the graph and its metadata. An empty index removes the files.
func (h *TemplateIndex) Save(path string) error {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.graph == nil {
		// Best-effort cleanup.
		_ = os.Remove(path)
		_ = os.Remove(path + indexMetaSuffix)
		return nil
	}

	f, err := os.Create(path) //nolint:gosec // path is from trusted config
	if err != nil {
		return fmt.Errorf("failed to create index file: %w", err)
	}
	if err := h.graph.Export(f); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to export HNSW graph: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close index file: %w", err)
	}

	metadata := IndexMetadata{
		TemplateCount: len(h.live),
		Dim:           h.dim,
		Metric:        h.metric,
		BuildTime:     time.Now(),
		Version:       indexMetadataVersion,
	}
	data, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}
	if err := os.WriteFile(path+indexMetaSuffix, data, 0600); err != nil {
		return fmt.Errorf("failed to write metadata file: %w", err)
	}
	return nil
}

// Load replaces the graph with the one saved at path. The searchable set is
// empty until Retain is called with the current gallery.
func (h *TemplateIndex) Load(path string) (IndexMetadata, error) {
	metadata, err := LoadIndexMetadata(path)
	if err != nil {
		return metadata, err
	}

	saved, err := hnsw.LoadSavedGraph[string](path)
	if err != nil {
		return metadata, fmt.Errorf("failed to load HNSW index: %w", err)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.graph = saved.Graph
	h.dim = metadata.Dim
	h.metric = metadata.Metric
	h.live = make(map[string]struct{})
	return metadata, nil
}

// LoadIndexMetadata loads metadata from the .meta file next to path.
func LoadIndexMetadata(path string) (IndexMetadata, error) {
	var metadata IndexMetadata

	data, err := os.ReadFile(path + indexMetaSuffix) //nolint:gosec // path is from trusted config
	if err != nil {
		return metadata, fmt.Errorf("failed to read metadata file: %w", err)
	}
	if err := json.Unmarshal(data, &metadata); err != nil {
		return metadata, fmt.Errorf("failed to unmarshal metadata: %w", err)
	}
	return metadata, nil
}

// IndexedGallery keeps a TemplateIndex in sync with a gallery. It implements IndexRebuilder.
type IndexedGallery struct {
	Index   *TemplateIndex
	Gallery GalleryReader
	Path    string // empty disables persistence
}

// RebuildIndex rebuilds the index from the gallery.
func (g *IndexedGallery) RebuildIndex(ctx context.Context) error {
	templates, err := g.Gallery.FetchTemplates(ctx)
	if err != nil {
		return fmt.Errorf("fetching templates: %w", err)
	}
	g.Index.Build(templates)
	return nil
}

// IndexCount returns the number of indexed templates.
func (g *IndexedGallery) IndexCount() int {
	return g.Index.Count()
}

// SaveIndex saves the index if a path is configured.
func (g *IndexedGallery) SaveIndex() error {
	if g.Path == "" {
		return nil
	}
	return g.Index.Save(g.Path)
}

// LoadOrRebuild loads the saved index when it is still current, otherwise
// rebuilds and saves it. It reports whether a rebuild happened.
func (g *IndexedGallery) LoadOrRebuild(ctx context.Context) (bool, error) {
	templates, err := g.Gallery.FetchTemplates(ctx)
	if err != nil {
		return false, fmt.Errorf("fetching templates: %w", err)
	}

	if g.Path != "" {
		if _, statErr := os.Stat(g.Path); statErr == nil {
			metric := g.Index.metric
			meta, err := g.Index.Load(g.Path)
			if err == nil && meta.TemplateCount == len(templates) && meta.Metric == metric {
				ids := make([]string, len(templates))
				for i := range templates {
					ids[i] = templates[i].ID
				}
				g.Index.Retain(ids)
				return false, nil
			}
			g.Index.metric = metric
		}
	}

	g.Index.Build(templates)
	return true, g.SaveIndex()
}
