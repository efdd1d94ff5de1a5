package pipeline

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/tjfontaine/solvency-gateway/internal/stage"
)

// Mode selects how the stage graph is executed.
type Mode string

const (
	ModeSequential Mode = "sequential"
	ModeConcurrent Mode = "concurrent"
)

// ParseMode validates a configured mode. An empty string selects concurrent.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case "", ModeConcurrent:
		return ModeConcurrent, nil
	case ModeSequential:
		return ModeSequential, nil
	default:
		return "", fmt.Errorf("invalid pipeline mode %q (must be 'sequential' or 'concurrent')", s)
	}
}

// node is one stage call in the graph. run reports whether the stage
// answered usefully.
type node struct {
	name stage.Name
	deps []stage.Name
	run  func(ctx context.Context, r *run) bool
}

// graph is a validated DAG of nodes held in topological order.
type graph struct {
	nodes []node
}

// newGraph orders nodes topologically, keeping declaration order among
// nodes that are ready at the same time. Duplicate names, unknown
// dependencies and cycles are errors.
func newGraph(nodes []node) (*graph, error) {
	index := make(map[stage.Name]int, len(nodes))
	for i, n := range nodes {
		if _, dup := index[n.name]; dup {
			return nil, fmt.Errorf("stage %s declared twice", n.name)
		}
		index[n.name] = i
	}

	pending := make([]int, len(nodes))
	dependents := make([][]int, len(nodes))
	for i, n := range nodes {
		for _, d := range n.deps {
			j, ok := index[d]
			if !ok {
				return nil, fmt.Errorf("stage %s depends on unknown stage %s", n.name, d)
			}
			pending[i]++
			dependents[j] = append(dependents[j], i)
		}
	}

	ordered := make([]node, 0, len(nodes))
	placed := make([]bool, len(nodes))
	for len(ordered) < len(nodes) {
		progressed := false
		for i, n := range nodes {
			if placed[i] || pending[i] > 0 {
				continue
			}
			placed[i] = true
			progressed = true
			ordered = append(ordered, n)
			for _, k := range dependents[i] {
				pending[k]--
			}
		}
		if !progressed {
			var stuck []stage.Name
			for i, n := range nodes {
				if !placed[i] {
					stuck = append(stuck, n.name)
				}
			}
			return nil, fmt.Errorf("stage graph has a cycle among %v", stuck)
		}
	}

	return &graph{nodes: ordered}, nil
}

// order returns the stage names in execution order.
func (g *graph) order() []stage.Name {
	names := make([]stage.Name, len(g.nodes))
	for i, n := range g.nodes {
		names[i] = n.name
	}
	return names
}

// execute runs every node and returns the names of those that failed.
func (g *graph) execute(ctx context.Context, r *run, mode Mode) []stage.Name {
	var ok []bool
	if mode == ModeSequential {
		ok = g.runSequential(ctx, r)
	} else {
		ok = g.runConcurrent(ctx, r)
	}

	var failed []stage.Name
	for i, n := range g.nodes {
		if !ok[i] {
			failed = append(failed, n.name)
		}
	}
	return failed
}

func (g *graph) runSequential(ctx context.Context, r *run) []bool {
	ok := make([]bool, len(g.nodes))
	for i, n := range g.nodes {
		ok[i] = n.run(ctx, r)
	}
	return ok
}

// runConcurrent starts one goroutine per node. A node blocks until the done
// channels of all its dependencies are closed, so it only reads fields that
// are already written. Each node writes its own slot of ok.
func (g *graph) runConcurrent(ctx context.Context, r *run) []bool {
	ok := make([]bool, len(g.nodes))
	done := make(map[stage.Name]chan struct{}, len(g.nodes))
	for _, n := range g.nodes {
		done[n.name] = make(chan struct{})
	}

	var eg errgroup.Group
	for i, n := range g.nodes {
		i, n := i, n
		eg.Go(func() error {
			defer close(done[n.name])
			for _, d := range n.deps {
				<-done[d]
			}
			ok[i] = n.run(ctx, r)
			return nil
		})
	}
	_ = eg.Wait()

	return ok
}
