// Copyright 2025 Flowgen ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package flows

import (
	"fmt"

	"github.com/flowgen-ml/flowgen/internal/tensor"
)

// residualStack holds the channel partitions factored out at internal
// levels of a multi-scale pass. Depth is known at construction
// (levels - 1), so the stack is bounded; any overflow, underflow, or
// leftover entry at a pass boundary is an internal traversal bug and
// panics rather than being recovered from.
type residualStack[B tensor.Backend] struct {
	items    []*tensor.Tensor[float32, B]
	capacity int
}

func newResidualStack[B tensor.Backend](capacity int) *residualStack[B] {
	return &residualStack[B]{
		items:    make([]*tensor.Tensor[float32, B], 0, capacity),
		capacity: capacity,
	}
}

func (s *residualStack[B]) push(t *tensor.Tensor[float32, B]) {
	if len(s.items) == s.capacity {
		panic(fmt.Sprintf("flows: residual stack overflow (capacity %d): level traversal out of sync", s.capacity))
	}
	s.items = append(s.items, t)
}

func (s *residualStack[B]) pop() *tensor.Tensor[float32, B] {
	if len(s.items) == 0 {
		panic("flows: residual stack underflow: level traversal out of sync")
	}
	t := s.items[len(s.items)-1]
	s.items = s.items[:len(s.items)-1]
	return t
}

// requireEmpty asserts the push/pop balance at the end of a full pass.
func (s *residualStack[B]) requireEmpty() {
	if len(s.items) != 0 {
		panic(fmt.Sprintf("flows: residual stack has %d leftover entries after a full pass", len(s.items)))
	}
}
