package decoder

import (
	"math"

	bfloat16 "github.com/d4l3k/go-bfloat16"
	"github.com/x448/float16"
)

// LogitsToFloat32 widens a raw logits row to float32 ahead of sampling.
// Engines are commonly compiled with fp16 or bf16 output heads
// (config.Model.DType); the dynamic decoder always samples in float32 to
// avoid repeated narrow-width rounding across penalty application.
func LogitsToFloat32(raw []byte, dtype string) []float32 {
	switch dtype {
	case "float16":
		n := len(raw) / 2
		out := make([]float32, n)
		for i := 0; i < n; i++ {
			bits := uint16(raw[2*i]) | uint16(raw[2*i+1])<<8
			out[i] = float16.Frombits(bits).Float32()
		}
		return out
	case "bfloat16":
		return bfloat16.Decode(raw)
	case "float32":
		n := len(raw) / 4
		out := make([]float32, n)
		for i := 0; i < n; i++ {
			bits := uint32(raw[4*i]) | uint32(raw[4*i+1])<<8 | uint32(raw[4*i+2])<<16 | uint32(raw[4*i+3])<<24
			out[i] = math.Float32frombits(bits)
		}
		return out
	default:
		return nil
	}
}
