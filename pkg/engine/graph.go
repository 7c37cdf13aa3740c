// Package engine runs named state machines whose state is checkpointed after
// every node so an interrupted run can resume where it stopped.
package engine

import (
	"context"
	"errors"
	"fmt"
)

const (
	// Start is the virtual entry node of every graph.
	Start = "__start__"
	// End is the virtual terminal node of every graph.
	End = "__end__"
)

// NodeFunc transforms the shared state. A node returning an error halts the run.
type NodeFunc[S any] func(ctx context.Context, state S) (S, error)

// Router selects the next node from the state produced by a node.
type Router[S any] func(state S) string

type transition[S any] struct {
	next    string
	route   Router[S]
	targets map[string]struct{}
}

// Graph is a mutable builder of nodes and transitions.
type Graph[S any] struct {
	name        string
	nodes       map[string]NodeFunc[S]
	transitions map[string]transition[S]
	errs        []error
}

func NewGraph[S any](name string) *Graph[S] {
	return &Graph[S]{
		name:        name,
		nodes:       make(map[string]NodeFunc[S]),
		transitions: make(map[string]transition[S]),
	}
}

func (g *Graph[S]) AddNode(name string, fn NodeFunc[S]) *Graph[S] {
	switch {
	case name == "" || name == Start || name == End:
		g.errs = append(g.errs, fmt.Errorf("invalid node name %q", name))
	case fn == nil:
		g.errs = append(g.errs, fmt.Errorf("node %q has no function", name))
	default:
		if _, exists := g.nodes[name]; exists {
			g.errs = append(g.errs, fmt.Errorf("node %q declared twice", name))
		}

		g.nodes[name] = fn
	}

	return g
}

// AddEdge declares the unconditional successor of from.
func (g *Graph[S]) AddEdge(from, to string) *Graph[S] {
	g.setTransition(from, transition[S]{next: to})

	return g
}

// AddConditionalEdge declares a routed successor of from. The router may only
// return one of targets; returning from itself re-enters the node.
func (g *Graph[S]) AddConditionalEdge(from string, route Router[S], targets ...string) *Graph[S] {
	if route == nil || len(targets) == 0 {
		g.errs = append(g.errs, fmt.Errorf("conditional edge from %q needs a router and targets", from))

		return g
	}

	allowed := make(map[string]struct{}, len(targets))
	for _, target := range targets {
		allowed[target] = struct{}{}
	}

	g.setTransition(from, transition[S]{route: route, targets: allowed})

	return g
}

func (g *Graph[S]) setTransition(from string, t transition[S]) {
	if _, exists := g.transitions[from]; exists {
		g.errs = append(g.errs, fmt.Errorf("node %q already has an outgoing edge", from))

		return
	}

	g.transitions[from] = t
}

func (g *Graph[S]) validate() error {
	errs := append([]error(nil), g.errs...)

	entry, ok := g.transitions[Start]
	if !ok || entry.route != nil {
		errs = append(errs, errors.New("graph needs a single unconditional edge from Start"))
	}

	for from, t := range g.transitions {
		if from != Start {
			if _, known := g.nodes[from]; !known {
				errs = append(errs, fmt.Errorf("edge from unknown node %q", from))
			}
		}

		targets := t.targets
		if t.route == nil {
			targets = map[string]struct{}{t.next: {}}
		}

		for target := range targets {
			if target == Start {
				errs = append(errs, fmt.Errorf("edge from %q targets Start", from))

				continue
			}

			if _, known := g.nodes[target]; !known && target != End {
				errs = append(errs, fmt.Errorf("edge from %q targets unknown node %q", from, target))
			}
		}
	}

	for name := range g.nodes {
		if _, ok := g.transitions[name]; !ok {
			errs = append(errs, fmt.Errorf("node %q has no outgoing edge", name))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: graph %s: %w", ErrInvalidGraph, g.name, errors.Join(errs...))
	}

	return nil
}

// Compile freezes the graph into a Runnable backed by saver. A nil saver
// disables checkpointing.
func (g *Graph[S]) Compile(saver Saver, opts ...Option) (*Runnable[S], error) {
	err := g.validate()
	if err != nil {
		return nil, err
	}

	nodes := make(map[string]NodeFunc[S], len(g.nodes))
	for name, fn := range g.nodes {
		nodes[name] = fn
	}

	transitions := make(map[string]transition[S], len(g.transitions))
	for from, t := range g.transitions {
		transitions[from] = t
	}

	r := &Runnable[S]{
		name:        g.name,
		nodes:       nodes,
		transitions: transitions,
		entry:       transitions[Start].next,
		saver:       saver,
		options:     defaultOptions(),
	}

	for _, opt := range opts {
		opt(&r.options)
	}

	return r, nil
}
