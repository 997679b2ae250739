package engine

/*
#include "trtengine.h"
*/
import "C"

import (
	"fmt"
	"unsafe"
)

// Tensor is a named, shaped device-memory view bound to an execution context
// slot. It is the Go analogue of generation.py's RuntimeTensor: a name, a
// shape, and the underlying storage, with no ownership of the storage's
// lifetime (spec.md §3 ownership rules put that on Session/Runtime).
type Tensor struct {
	Name  string
	Shape []int
	DType string

	ptr unsafe.Pointer // device pointer; nil for host-only staging tensors
	len int            // element count, for bounds checks
}

// NewTensor builds a Tensor view over an existing device allocation.
// overrideShape, when non-nil, must have the same element volume as shape
// (mirrors RuntimeTensor.from_torch's override_shape volume assertion).
func NewTensor(name string, shape []int, dtype string, ptr unsafe.Pointer, overrideShape []int) (Tensor, error) {
	vol := volume(shape)
	if overrideShape != nil {
		if volume(overrideShape) != vol {
			return Tensor{}, fmt.Errorf("engine: override shape volume mismatch for %q: %v vs %v", name, overrideShape, shape)
		}
		shape = overrideShape
	}
	return Tensor{Name: name, Shape: shape, DType: dtype, ptr: ptr, len: vol}, nil
}

func volume(shape []int) int {
	v := 1
	for _, d := range shape {
		v *= d
	}
	return v
}

// Ptr returns the raw device pointer backing this tensor.
func (t Tensor) Ptr() unsafe.Pointer { return t.ptr }

// Len returns the tensor's element volume.
func (t Tensor) Len() int { return t.len }

// Reshape returns a copy of t with a new shape of equal volume.
func (t Tensor) Reshape(shape []int) (Tensor, error) {
	if volume(shape) != t.len {
		return Tensor{}, fmt.Errorf("engine: reshape volume mismatch for %q: have %d want %v", t.Name, t.len, shape)
	}
	t.Shape = shape
	return t, nil
}
