package session

import (
	"fmt"
	"unsafe"

	"github.com/inferencecore/llmrt/engine"
	"github.com/inferencecore/llmrt/ipc"
	"github.com/inferencecore/llmrt/kvcache"
	"github.com/inferencecore/llmrt/lora"
)

// tensorBuilder accumulates the engine.Tensor views one step binds. The
// backing Go slices must stay alive and unmoved until after Context.Run
// returns, since their addresses are what gets handed to SetBuffer; callers
// build and consume a tensorBuilder within a single ContextStep/
// GenerationStep call for exactly that reason.
type tensorBuilder struct {
	tensors []engine.Tensor
	err     error
}

func (b *tensorBuilder) addInt32(name string, data []int32, shape []int) {
	if b.err != nil || len(data) == 0 {
		return
	}
	if shape == nil {
		shape = []int{len(data)}
	}
	t, err := engine.NewTensor(name, shape, "int32", unsafe.Pointer(&data[0]), nil)
	if err != nil {
		b.err = err
		return
	}
	b.tensors = append(b.tensors, t)
}

func (b *tensorBuilder) addInt64(name string, data []int64, shape []int) {
	if b.err != nil || len(data) == 0 {
		return
	}
	if shape == nil {
		shape = []int{len(data)}
	}
	t, err := engine.NewTensor(name, shape, "int64", unsafe.Pointer(&data[0]), nil)
	if err != nil {
		b.err = err
		return
	}
	b.tensors = append(b.tensors, t)
}

func (b *tensorBuilder) addBytes(name string, data []byte, shape []int) {
	if b.err != nil || len(data) == 0 {
		return
	}
	if shape == nil {
		shape = []int{len(data)}
	}
	t, err := engine.NewTensor(name, shape, "int8", unsafe.Pointer(&data[0]), nil)
	if err != nil {
		b.err = err
		return
	}
	b.tensors = append(b.tensors, t)
}

// bindPointerArrays adds the KV cache's per-step pointer tables as IO
// tensors, per spec.md §4.1's "KV pointers or past/present caches" bind rule.
// Paged layout binds one row per tracked sequence (the manager shares block
// lists across every local layer for a sequence, per kvcache.paged's block
// pool model); contiguous layout binds one flat device pointer per layer.
func (b *tensorBuilder) bindPointerArrays(ptrs kvcache.PointerArrays) {
	if len(ptrs.KeyPtr) > 0 {
		for layer, ptr := range ptrs.KeyPtr {
			row := []int64{ptr}
			b.addInt64(fmt.Sprintf("past_key_value_%d", layer), row, []int{1})
		}
		for layer, ptr := range ptrs.ValuePtr {
			row := []int64{ptr}
			b.addInt64(fmt.Sprintf("present_key_value_%d", layer), row, []int{1})
		}
		return
	}
	for i, row := range ptrs.BlockPointers {
		b.addInt64(fmt.Sprintf("kv_cache_block_pointers_seq_%d", i), row, []int{len(row)})
	}
	for i, row := range ptrs.BlockOffsets {
		b.addInt32(fmt.Sprintf("host_kv_cache_block_pointers_seq_%d", i), row, []int{len(row)})
	}
}

// bindLoRA adds the per-layer {module}_lora_ranks_{L}/
// {module}_lora_weights_pointers_{L} tensors for every local layer in
// [first,last), per spec.md §4.6. The rank value is broadcast across the
// batch dimension since one Binder uid applies to the whole session.
func (b *tensorBuilder) bindLoRA(binder *lora.Binder, uid string, first, last int, modules []string, batchSize int) {
	if binder == nil || len(modules) == 0 {
		return
	}
	for layer := first; layer < last; layer++ {
		ranks, ptrs := binder.BindLayer(uid, layer, modules)
		for name, rank := range ranks {
			row := make([]int32, batchSize)
			for i := range row {
				row[i] = rank
			}
			b.addInt32(name, row, []int{batchSize})
		}
		for name, pair := range ptrs {
			row := make([]int64, 2*batchSize)
			for i := 0; i < batchSize; i++ {
				row[2*i] = int64(uintptr(pair[0]))
				row[2*i+1] = int64(uintptr(pair[1]))
			}
			b.addInt64(name, row, []int{batchSize, 2})
		}
	}
}

// bindAllReduceWorkspace adds the custom all-reduce workspace's data buffer
// as an IO tensor when the engine was compiled with UseCustomAllReduce
// (spec.md §5).
func (b *tensorBuilder) bindAllReduceWorkspace(ws *ipc.Workspace) {
	if ws == nil {
		return
	}
	b.addBytes("all_reduce_workspace", ws.Data(), []int{ws.Capacity()})
}

// bindVariantExtras binds whatever extra named tensors the active Variant
// stashed in stepCtx.Extra (position ids, attention mask, ChatGLM's block
// position ids, Qwen's logn factors, ...).
func (b *tensorBuilder) bindVariantExtras(stepCtx *StepContext) {
	for name, data := range stepCtx.Extra {
		b.addInt32(name, data, nil)
	}
}

// bindCommon appends the tensors shared by the context and generation
// phases: the active Variant's extra tensors, this step's KV cache pointer
// arrays, the LoRA adapter tables (if active), and the custom all-reduce
// workspace (if active) — spec.md §4.1's "bind all engine inputs" step.
func (s *Session) bindCommon(b *tensorBuilder, stepCtx *StepContext, ptrs kvcache.PointerArrays) {
	b.bindVariantExtras(stepCtx)
	b.bindPointerArrays(ptrs)

	if s.model.LoraPlugin && s.loraBnd != nil {
		first, last := 0, s.model.NumLayers
		if f, l, err := s.mapping.LayerRange(s.model.NumLayers); err == nil {
			first, last = f, l
		}
		b.bindLoRA(s.loraBnd, s.loraUID, first, last, s.model.LoraTargetModules, s.batchSize)
	}

	if s.model.UseCustomAllReduce && s.ws != nil {
		b.bindAllReduceWorkspace(s.ws)
	}
}
