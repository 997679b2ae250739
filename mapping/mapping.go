// Package mapping describes the pipeline/tensor-parallel topology a session
// runs under, grounded on generation.py's Mapping object (rank, world_size,
// tp_size, pp_size, gpus_per_node) and the pipeline-parallel glue in
// GenerationSession.decode.
package mapping

import "fmt"

// Topology is the process's position in a tensor/pipeline-parallel grid.
// A single-GPU session is the degenerate Topology{WorldSize:1, TPSize:1, PPSize:1}.
type Topology struct {
	Rank        int
	WorldSize   int
	TPSize      int
	PPSize      int
	GPUsPerNode int
}

// New validates and constructs a Topology. WorldSize must equal TPSize*PPSize.
func New(rank, worldSize, tpSize, ppSize, gpusPerNode int) (Topology, error) {
	if tpSize*ppSize != worldSize {
		return Topology{}, fmt.Errorf("mapping: tp_size(%d) * pp_size(%d) != world_size(%d)", tpSize, ppSize, worldSize)
	}
	if rank < 0 || rank >= worldSize {
		return Topology{}, fmt.Errorf("mapping: rank %d out of range [0,%d)", rank, worldSize)
	}
	if gpusPerNode <= 0 {
		gpusPerNode = worldSize
	}
	return Topology{Rank: rank, WorldSize: worldSize, TPSize: tpSize, PPSize: ppSize, GPUsPerNode: gpusPerNode}, nil
}

// PPRank is this rank's position along the pipeline dimension.
func (t Topology) PPRank() int { return t.Rank / t.TPSize }

// TPRank is this rank's position along the tensor-parallel dimension.
func (t Topology) TPRank() int { return t.Rank % t.TPSize }

// IsFirstPPRank reports whether this rank owns the first pipeline stage.
func (t Topology) IsFirstPPRank() bool { return t.PPRank() == 0 }

// IsLastPPRank reports whether this rank owns the last pipeline stage.
func (t Topology) IsLastPPRank() bool { return t.PPRank() == t.PPSize-1 }

// HasPP reports whether pipeline parallelism is active.
func (t Topology) HasPP() bool { return t.PPSize > 1 }

// HasTP reports whether tensor parallelism is active.
func (t Topology) HasTP() bool { return t.TPSize > 1 }

// LayerRange returns the half-open [first,last) local layer range this rank
// owns when numLayers is split evenly across pipeline stages.
// numLayers must be divisible by PPSize (spec.md §3 invariant).
func (t Topology) LayerRange(numLayers int) (first, last int, err error) {
	if numLayers%t.PPSize != 0 {
		return 0, 0, fmt.Errorf("mapping: num_layers(%d) not divisible by pp_size(%d)", numLayers, t.PPSize)
	}
	perStage := numLayers / t.PPSize
	first = t.PPRank() * perStage
	last = first + perStage
	return first, last, nil
}

// PrevPPRank returns the rank feeding this stage's input.
func (t Topology) PrevPPRank() int {
	return (t.PPRank()-1+t.PPSize)%t.PPSize*t.TPSize + t.TPRank()
}

// NextPPRank returns the rank consuming this stage's output.
func (t Topology) NextPPRank() int {
	return (t.PPRank()+1)%t.PPSize*t.TPSize + t.TPRank()
}
