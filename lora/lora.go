// Package lora binds LoRA adapter weights into the per-layer, per-module
// tensor pairs the engine's LoRA plugin expects (spec.md §4.6):
// {module}_lora_ranks_{L} and {module}_lora_weights_pointers_{L}.
//
// Grounded on spec.md §4.6 and the call site in
// runner/llamarunner/server.go:loadModel that applies a LoRA adapter file to
// a loaded model; generalized here from a one-shot file load to a
// uid-addressed table so a session can switch adapters per request.
package lora

import (
	"fmt"
	"unsafe"

	"github.com/google/uuid"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// NewUID mints a fresh adapter identifier for Register, used when the caller
// doesn't already have a stable UID of its own (e.g. request-scoped LoRA
// uploads).
func NewUID() string {
	return uuid.NewString()
}

// NoAdapter is the UID meaning "no LoRA applied"; ranks are materialized as
// all-zero in this case (spec.md §4.6).
const NoAdapter = "-1"

// Weights is one module's LoRA pair for one layer: a rank and the two device
// pointers (A and B factor matrices) the plugin multiplies against.
type Weights struct {
	Rank int32
	PtrA unsafe.Pointer
	PtrB unsafe.Pointer
}

// moduleTable maps module name -> per-layer weights for one adapter UID.
type moduleTable = *orderedmap.OrderedMap[string, []Weights]

// Binder holds every loaded adapter's per-layer, per-module weight table,
// keyed by UID so a session can select an adapter per request without
// reloading it (spec.md §4.6, §5 resource model: adapters are loaded once
// and shared across concurrent sequences).
type Binder struct {
	numLayers int
	adapters  *orderedmap.OrderedMap[string, moduleTable]
}

// NewBinder constructs an empty binder sized for an engine with numLayers
// transformer layers.
func NewBinder(numLayers int) *Binder {
	return &Binder{
		numLayers: numLayers,
		adapters:  orderedmap.New[string, moduleTable](),
	}
}

// Register loads one adapter's per-module, per-layer weights under uid.
// layerWeights[module] must have exactly numLayers entries, index 0 being
// the first local layer (spec.md §4.6 layer indexing matches the session's
// Mapping.LayerRange for pipeline-parallel engines).
func (b *Binder) Register(uid string, layerWeights map[string][]Weights) error {
	if uid == NoAdapter {
		return fmt.Errorf("lora: uid %q is reserved for the no-adapter sentinel", NoAdapter)
	}
	table := orderedmap.New[string, []Weights]()
	for module, weights := range layerWeights {
		if len(weights) != b.numLayers {
			return fmt.Errorf("lora: module %q has %d layer entries, want %d", module, len(weights), b.numLayers)
		}
		table.Set(module, weights)
	}
	b.adapters.Set(uid, table)
	return nil
}

// Unregister drops a previously registered adapter.
func (b *Binder) Unregister(uid string) {
	b.adapters.Delete(uid)
}

// BindLayer materializes the engine IO tensors for one layer's LoRA modules
// under the given uid: {module}_lora_ranks_{layer} (int32 scalar per batch
// row) and {module}_lora_weights_pointers_{layer} (two device pointers per
// batch row). uid == NoAdapter or unregistered yields rank 0 for every
// module, matching the plugin's no-op convention.
func (b *Binder) BindLayer(uid string, layer int, modules []string) (map[string]int32, map[string][2]unsafe.Pointer) {
	ranks := make(map[string]int32, len(modules))
	ptrs := make(map[string][2]unsafe.Pointer, len(modules))

	table, ok := b.adapters.Get(uid)
	if uid == NoAdapter || !ok {
		for _, m := range modules {
			ranks[fmt.Sprintf("%s_lora_ranks_%d", m, layer)] = 0
			ptrs[fmt.Sprintf("%s_lora_weights_pointers_%d", m, layer)] = [2]unsafe.Pointer{nil, nil}
		}
		return ranks, ptrs
	}

	for _, m := range modules {
		w, ok := table.Get(m)
		if !ok || layer >= len(w) {
			ranks[fmt.Sprintf("%s_lora_ranks_%d", m, layer)] = 0
			ptrs[fmt.Sprintf("%s_lora_weights_pointers_%d", m, layer)] = [2]unsafe.Pointer{nil, nil}
			continue
		}
		ranks[fmt.Sprintf("%s_lora_ranks_%d", m, layer)] = w[layer].Rank
		ptrs[fmt.Sprintf("%s_lora_weights_pointers_%d", m, layer)] = [2]unsafe.Pointer{w[layer].PtrA, w[layer].PtrB}
	}
	return ranks, ptrs
}

// HasAdapter reports whether uid is a registered, non-sentinel adapter.
func (b *Binder) HasAdapter(uid string) bool {
	if uid == NoAdapter {
		return false
	}
	_, ok := b.adapters.Get(uid)
	return ok
}
