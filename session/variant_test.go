package session

import "testing"

func TestStandardPrepareContextInputsLastTokenPosition(t *testing.T) {
	ctx := newStepContext(0, 2, 1)
	ctx.InputLengths = []int32{5, 3}
	if err := (Standard{}).PrepareContextInputs(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []int32{4, 2}
	got := ctx.Extra["position_ids"]
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("position_ids = %v, want %v", got, want)
		}
	}
}

func TestStandardPrepareGenerationInputsCopiesPositions(t *testing.T) {
	ctx := newStepContext(1, 1, 1)
	ctx.Positions = []int32{5}
	if err := (Standard{}).PrepareGenerationInputs(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := ctx.Extra["position_ids"]; len(got) != 1 || got[0] != 5 {
		t.Fatalf("position_ids = %v, want [5]", got)
	}
}

func TestChatGLMAddsBlockPositionIDs(t *testing.T) {
	ctx := newStepContext(0, 1, 1)
	ctx.InputLengths = []int32{1} // l-2 clamps to 0
	if err := (ChatGLM{}).PrepareContextInputs(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := ctx.Extra["position_ids"]; got[0] != 0 {
		t.Fatalf("expected clamped position 0 for a length-1 input, got %v", got)
	}
	if got := ctx.Extra["block_position_ids"]; got[0] != 1 {
		t.Fatalf("expected context-phase block position 1, got %v", got)
	}

	genCtx := newStepContext(3, 1, 1)
	genCtx.Positions = []int32{4}
	if err := (ChatGLM{}).PrepareGenerationInputs(genCtx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := genCtx.Extra["block_position_ids"]; got[0] != 5 {
		t.Fatalf("expected block position step+2=5, got %v", got)
	}
}

func TestQwenLognFactorsOnlyBeyondTrainContext(t *testing.T) {
	q := Qwen{TrainContextLength: 8}
	ctx := newStepContext(0, 1, 1)
	ctx.InputLengths = []int32{4, 10}
	if err := q.PrepareContextInputs(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	logn := ctx.Extra["logn_list"]
	if logn[0] != 0 {
		t.Fatalf("expected no logn scaling under train context length, got %v", logn[0])
	}
	if logn[1] != 1 {
		t.Fatalf("expected logn scaling flagged beyond train context length, got %v", logn[1])
	}
}

func TestQwenDisabledWhenTrainContextLengthZero(t *testing.T) {
	q := Qwen{TrainContextLength: 0}
	ctx := newStepContext(0, 1, 1)
	ctx.InputLengths = []int32{1000}
	if err := q.PrepareContextInputs(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := ctx.Extra["logn_list"][0]; got != 0 {
		t.Fatalf("TrainContextLength=0 should disable logn scaling entirely, got %v", got)
	}
}
