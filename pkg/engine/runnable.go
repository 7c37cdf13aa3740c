package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dukex/courier/pkg/otelhelper"
	"go.opentelemetry.io/otel/attribute"
)

// InvokeConfig identifies a run. Without a ThreadID the invocation is not
// checkpointed and cannot be resumed.
type InvokeConfig struct {
	ThreadID string
	RunID    string
}

// Runnable is a compiled, immutable graph.
type Runnable[S any] struct {
	name        string
	nodes       map[string]NodeFunc[S]
	transitions map[string]transition[S]
	entry       string
	saver       Saver
	options     options
}

func (r *Runnable[S]) Name() string {
	return r.name
}

// Invoke runs the graph from input, or from the thread's last checkpoint when
// a previous invocation of the same graph stopped before End. On a node error
// the state produced by the last successful node is returned with the error.
func (r *Runnable[S]) Invoke(ctx context.Context, input S, cfg InvokeConfig) (S, error) {
	ctx, span := otelhelper.StartSpan(ctx, r.options.tracer, "graph."+r.name,
		attribute.String(otelhelper.GraphNameKey, r.name),
		attribute.String(otelhelper.RunIDKey, cfg.RunID),
		attribute.String(otelhelper.ThreadIDKey, cfg.ThreadID),
	)
	defer span.End()

	logger := r.options.logger.With("graph", r.name, "run_id", cfg.RunID, "thread_id", cfg.ThreadID)

	state, current, step, resumed, err := r.start(ctx, input, cfg)
	if err != nil {
		otelhelper.SetError(span, err)

		return input, err
	}

	span.SetAttributes(attribute.Bool(otelhelper.ResumedKey, resumed))

	if resumed {
		logger.InfoContext(ctx, "Resuming run from checkpoint", "node", current, "step", step)
	}

	for executed := 0; current != End; executed++ {
		if executed >= r.options.maxSteps {
			err := &NodeError{Graph: r.name, Node: current, Step: step, Err: ErrStepLimit}
			otelhelper.SetError(span, err)

			return state, err
		}

		next, err := r.runNode(ctx, current, step, state)
		if err != nil {
			logger.ErrorContext(ctx, "Node failed", "node", current, "step", step, "error", err)
			otelhelper.SetError(span, err)

			return state, &NodeError{Graph: r.name, Node: current, Step: step, Err: err}
		}

		state = next

		following, err := r.follow(current, state)
		if err != nil {
			otelhelper.SetError(span, err)

			return state, &NodeError{Graph: r.name, Node: current, Step: step, Err: err}
		}

		err = r.checkpoint(ctx, cfg, step, current, following, state)
		if err != nil {
			otelhelper.SetError(span, err)

			return state, err
		}

		logger.DebugContext(ctx, "Node completed", "node", current, "next", following, "step", step)

		current = following
		step++
	}

	return state, nil
}

func (r *Runnable[S]) start(ctx context.Context, input S, cfg InvokeConfig) (S, string, int, bool, error) {
	if cfg.ThreadID == "" || r.saver == nil {
		return input, r.entry, 0, false, nil
	}

	checkpoint, err := r.saver.Get(ctx, cfg.ThreadID)
	if errors.Is(err, ErrCheckpointNotFound) {
		return input, r.entry, 0, false, nil
	}

	if err != nil {
		return input, "", 0, false, fmt.Errorf("failed to load checkpoint for thread %s: %w", cfg.ThreadID, err)
	}

	if checkpoint.Graph != r.name || checkpoint.Terminal() {
		return input, r.entry, checkpoint.Step + 1, false, nil
	}

	if _, known := r.nodes[checkpoint.Next]; !known {
		return input, r.entry, checkpoint.Step + 1, false, nil
	}

	var state S

	err = json.Unmarshal(checkpoint.State, &state)
	if err != nil {
		return input, "", 0, false, fmt.Errorf("failed to decode checkpoint for thread %s: %w", cfg.ThreadID, err)
	}

	return state, checkpoint.Next, checkpoint.Step + 1, true, nil
}

func (r *Runnable[S]) runNode(ctx context.Context, name string, step int, state S) (S, error) {
	ctx, span := otelhelper.StartSpan(ctx, r.options.tracer, "node."+name,
		attribute.String(otelhelper.GraphNameKey, r.name),
		attribute.String(otelhelper.NodeNameKey, name),
		attribute.Int(otelhelper.StepKey, step),
	)
	defer span.End()

	next, err := r.nodes[name](ctx, state)
	if err != nil {
		otelhelper.SetError(span, err)

		return state, err
	}

	return next, nil
}

func (r *Runnable[S]) follow(from string, state S) (string, error) {
	t := r.transitions[from]
	if t.route == nil {
		return t.next, nil
	}

	target := t.route(state)
	if _, allowed := t.targets[target]; !allowed {
		return "", fmt.Errorf("%w: %q from %q", ErrUnknownRoute, target, from)
	}

	return target, nil
}

func (r *Runnable[S]) checkpoint(ctx context.Context, cfg InvokeConfig, step int, node, next string, state S) error {
	if cfg.ThreadID == "" || r.saver == nil {
		return nil
	}

	payload, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to encode state after %s: %w", node, err)
	}

	err = r.saver.Put(ctx, Checkpoint{
		ThreadID:  cfg.ThreadID,
		Graph:     r.name,
		RunID:     cfg.RunID,
		Step:      step,
		Node:      node,
		Next:      next,
		State:     payload,
		CreatedAt: r.options.now(),
	})
	if err != nil {
		return fmt.Errorf("failed to write checkpoint after %s: %w", node, err)
	}

	return nil
}
