package pipeline

import (
	"errors"
	"fmt"
)

// Node is one polymorphic processing step. Process consumes an input block
// and returns its output block, which may be the input itself for in-place
// nodes or a node-owned scratch block for transforming ones. Reset clears
// any per-sweep state.
type Node interface {
	Process(in *DataBlock) (*DataBlock, error)
	Reset() error
	Name() string
}

// ErrChainFull is returned by Append when the chain is at capacity.
var ErrChainFull = errors.New("processing chain full")

// Chain executes a fixed-capacity ordered list of nodes, threading each
// node's output into the next node's input. The first node error aborts the
// remaining steps so partially processed data never reaches the sink.
type Chain struct {
	nodes []Node
	cap   int
}

// NewChain creates a chain that holds at most capacity nodes.
func NewChain(capacity int) *Chain {
	if capacity <= 0 {
		capacity = 8
	}
	return &Chain{nodes: make([]Node, 0, capacity), cap: capacity}
}

// Append adds a node to the end of the chain.
func (c *Chain) Append(n Node) error {
	if n == nil {
		return errors.New("nil node")
	}
	if len(c.nodes) >= c.cap {
		return ErrChainFull
	}
	c.nodes = append(c.nodes, n)
	return nil
}

// Len returns the number of nodes in the chain.
func (c *Chain) Len() int {
	return len(c.nodes)
}

// Run drives one block through every node in append order and returns the
// final output block.
func (c *Chain) Run(in *DataBlock) (*DataBlock, error) {
	cur := in
	for _, node := range c.nodes {
		out, err := node.Process(cur)
		if err != nil {
			return nil, fmt.Errorf("node %s: %w", node.Name(), err)
		}
		cur = out
	}
	return cur, nil
}

// Reset resets every node. The first failure is returned but all nodes are
// still reset.
func (c *Chain) Reset() error {
	var firstErr error
	for _, node := range c.nodes {
		if err := node.Reset(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("node %s: %w", node.Name(), err)
		}
	}
	return firstErr
}
