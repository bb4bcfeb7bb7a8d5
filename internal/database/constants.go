package database

// HNSW index parameters for landmark template vectors
const (
	// HNSWMaxNeighbors (M) is the maximum number of neighbors per node.
	// Higher values improve recall but increase memory and build time.
	HNSWMaxNeighbors = 16

	// HNSWEfSearch is the search candidate pool size.
	// Higher values improve recall but slow down search.
	HNSWEfSearch = 100

	// HNSWSearchMultiplier is the factor to request more candidates from HNSW
	// to cover deleted nodes still present in the graph.
	HNSWSearchMultiplier = 3
)

// Metadata file suffix written next to a saved index.
const indexMetaSuffix = ".meta"
