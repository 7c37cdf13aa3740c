package engine

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidGraph       = errors.New("invalid graph")
	ErrCheckpointNotFound = errors.New("checkpoint not found")
	ErrStepLimit          = errors.New("step limit exceeded")
	ErrUnknownRoute       = errors.New("router returned an undeclared target")
)

// NodeError reports the node that halted a run.
type NodeError struct {
	Graph string
	Node  string
	Step  int
	Err   error
}

func (e *NodeError) Error() string {
	return fmt.Sprintf("graph %s: node %s (step %d): %v", e.Graph, e.Node, e.Step, e.Err)
}

func (e *NodeError) Unwrap() error {
	return e.Err
}
