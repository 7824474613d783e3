package tools

import (
	"context"
	"fmt"
	"sync"
)

// Func is an in-process tool implementation.
type Func func(ctx context.Context, args map[string]any) (any, error)

// StaticTool pairs a descriptor with its implementation.
type StaticTool struct {
	Descriptor
	Func Func
}

// StaticSource serves a fixed, in-process catalogue. It counts ListTools
// calls so cache behaviour can be observed.
type StaticSource struct {
	mu      sync.Mutex
	tools   []StaticTool
	listErr error
	lists   int
}

// NewStaticSource creates a source over the given tools.
func NewStaticSource(tools ...StaticTool) *StaticSource {
	return &StaticSource{tools: tools}
}

// SetTools replaces the catalogue.
func (s *StaticSource) SetTools(tools ...StaticTool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tools = tools
}

// FailListing makes ListTools return err until called again with nil.
func (s *StaticSource) FailListing(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listErr = err
}

// ListCalls reports how many times ListTools was called.
func (s *StaticSource) ListCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lists
}

// ListTools returns the descriptors of the catalogue.
func (s *StaticSource) ListTools(ctx context.Context) ([]Descriptor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lists++
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.listErr != nil {
		return nil, s.listErr
	}
	out := make([]Descriptor, len(s.tools))
	for i, t := range s.tools {
		out[i] = t.Descriptor
	}
	return out, nil
}

// CallTool runs the named tool's Func.
func (s *StaticSource) CallTool(ctx context.Context, name string, args map[string]any) (any, error) {
	s.mu.Lock()
	var fn Func
	for _, t := range s.tools {
		if t.Name == name {
			fn = t.Func
			break
		}
	}
	s.mu.Unlock()

	if fn == nil {
		return nil, fmt.Errorf("tool %q not registered", name)
	}
	return fn(ctx, args)
}
