package session

// Variant is the strategy-object seam the Design Note calls for in place of
// per-model-family inheritance: GenerationSession in generation.py branches
// on self.model_name ("chatglm", "qwen", ...) inline throughout
// _prepare_context_inputs/_prepare_generation_inputs. Here each model family
// gets its own Variant implementation instead, selected once at Setup and
// invoked uniformly by ContextStep/GenerationStep.
type Variant interface {
	// Name identifies the variant for logging ("standard", "chatglm", "qwen").
	Name() string

	// PrepareContextInputs builds the context-phase engine IO tensors that
	// differ by model family, position ids included (e.g. ChatGLM's 2D
	// position-id layout); the session binds whatever it puts in ctx.Extra.
	PrepareContextInputs(ctx *StepContext) error

	// PrepareGenerationInputs mirrors PrepareContextInputs for the
	// generation phase, called once per decode step.
	PrepareGenerationInputs(ctx *StepContext) error
}

// StepContext is the scratch state a Variant needs to contribute extra IO
// tensors during one step, without reaching into Session's private fields.
type StepContext struct {
	Step      int
	BatchSize int
	BeamWidth int

	InputLengths []int32
	Positions    []int32

	// Extra is where a Variant stashes additional named tensors for the
	// caller to bind via engine.Context.SetTensors.
	Extra map[string][]int32
}

func newStepContext(step, batchSize, beamWidth int) *StepContext {
	return &StepContext{
		Step:      step,
		BatchSize: batchSize,
		BeamWidth: beamWidth,
		Extra:     make(map[string][]int32),
	}
}

// Standard is the default Variant: its only tensor is 1D position_ids
// (generation.py's fallback branch when model_name matches none of the
// special-cased families).
type Standard struct{}

func (Standard) Name() string { return "standard" }

func (Standard) PrepareContextInputs(ctx *StepContext) error {
	positions := make([]int32, len(ctx.InputLengths))
	for i, l := range ctx.InputLengths {
		positions[i] = l - 1
	}
	ctx.Extra["position_ids"] = positions
	return nil
}

func (Standard) PrepareGenerationInputs(ctx *StepContext) error {
	positions := make([]int32, len(ctx.Positions))
	copy(positions, ctx.Positions)
	ctx.Extra["position_ids"] = positions
	return nil
}

// ChatGLM mirrors generation.py's model_name == "chatglm" branch: 2D
// position ids (a normal position plus a block position that only advances
// during generation, used by ChatGLM's rotary scheme).
type ChatGLM struct{}

func (ChatGLM) Name() string { return "chatglm" }

func (ChatGLM) PrepareContextInputs(ctx *StepContext) error {
	positions := make([]int32, len(ctx.InputLengths))
	blockPositions := make([]int32, len(ctx.InputLengths))
	for i, l := range ctx.InputLengths {
		positions[i] = l - 2
		if positions[i] < 0 {
			positions[i] = 0
		}
		blockPositions[i] = 1
	}
	ctx.Extra["position_ids"] = positions
	ctx.Extra["block_position_ids"] = blockPositions
	return nil
}

func (ChatGLM) PrepareGenerationInputs(ctx *StepContext) error {
	positions := make([]int32, len(ctx.Positions))
	blockPositions := make([]int32, len(ctx.Positions))
	for i, p := range ctx.Positions {
		positions[i] = p
		blockPositions[i] = int32(ctx.Step) + 2
	}
	ctx.Extra["position_ids"] = positions
	ctx.Extra["block_position_ids"] = blockPositions
	return nil
}

// Qwen mirrors generation.py's model_name == "qwen" branch: alongside
// ordinary 1D position ids it binds logn_list, one flag per row that is 1
// when the sequence length exceeds the model's trained context and 0
// otherwise. The logn(l)/logn(train_len) factor itself is not computed.
type Qwen struct {
	TrainContextLength int
}

func (Qwen) Name() string { return "qwen" }

func (q Qwen) PrepareContextInputs(ctx *StepContext) error {
	Standard{}.PrepareContextInputs(ctx)
	ctx.Extra["logn_list"] = q.lognFactors(ctx.InputLengths)
	return nil
}

func (q Qwen) PrepareGenerationInputs(ctx *StepContext) error {
	Standard{}.PrepareGenerationInputs(ctx)
	ctx.Extra["logn_list"] = q.lognFactors(positionsAsLengths(ctx.Positions))
	return nil
}

func (q Qwen) lognFactors(lengths []int32) []int32 {
	out := make([]int32, len(lengths))
	for i, l := range lengths {
		if int(l) > q.TrainContextLength && q.TrainContextLength > 0 {
			out[i] = 1 // bound as-is; no logn scaling is applied
		}
	}
	return out
}

func positionsAsLengths(positions []int32) []int32 {
	out := make([]int32, len(positions))
	for i, p := range positions {
		out[i] = p + 1
	}
	return out
}
