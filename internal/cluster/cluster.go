// Package cluster splits objective evaluation across workers that each own a
// disjoint subset of the molecule population.
//
// The coordinator broadcasts a Request carrying the coordination flags and
// the trial vector to every worker, evaluates its own molecules, then polls
// one Reply per worker and sums the terms. Workers loop on requests until
// they receive one with Done set.
package cluster

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/cwbudde/fftune/internal/forcefield"
	"github.com/cwbudde/fftune/internal/objective"
	"github.com/cwbudde/fftune/internal/params"
)

// Request is broadcast by the coordinator before every evaluation
type Request struct {
	Flags  objective.Flags
	Params []float64
}

// Reply carries one worker's partial terms back to the coordinator
type Reply struct {
	Rank  int
	Terms objective.Terms
	Err   error
}

type link struct {
	requests chan Request
	replies  chan Reply
}

// Worker evaluates its locally owned molecules on request
type Worker struct {
	Rank int
	eval *objective.Evaluator
	link *link
}

// Run serves requests until a Done request is answered or ctx ends.
// During the final pass the coordinator covers every molecule, so workers
// answer Final requests with zero terms.
func (w *Worker) Run(ctx context.Context) error {
	for {
		var req Request
		select {
		case <-ctx.Done():
			return ctx.Err()
		case req = <-w.link.requests:
		}

		var reply Reply
		reply.Rank = w.Rank
		switch {
		case req.Flags.Done:
			reply.Terms = w.eval.Last()
		case req.Flags.Final:
		default:
			reply.Terms, reply.Err = w.eval.Evaluate(ctx, req.Params, req.Flags)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case w.link.replies <- reply:
		}

		if reply.Err != nil {
			return fmt.Errorf("worker %d: %w", w.Rank, reply.Err)
		}
		if req.Flags.Done {
			slog.Debug("Worker finished", "rank", w.Rank, "evaluations", w.eval.Evaluations())
			return nil
		}
	}
}

// Coordinator runs the search-side evaluations and owns the worker group
type Coordinator struct {
	master  *objective.Evaluator
	workers []*Worker

	group  *errgroup.Group
	gctx   context.Context
	cancel context.CancelFunc

	last     objective.Terms
	finished bool
}

// Partition clones the population once per rank. Supported molecules are
// dealt round-robin: on each rank the molecules it owns are local and the
// others remote. Excluded molecules stay excluded everywhere.
func Partition(pop forcefield.Population, ranks int) []forcefield.Population {
	if ranks < 1 {
		ranks = 1
	}
	out := make([]forcefield.Population, ranks)
	for r := range out {
		out[r] = make(forcefield.Population, len(pop))
	}

	k := 0
	for i, m := range pop {
		owner := -1
		if m.Support != forcefield.SupportExcluded {
			owner = k % ranks
			k++
		}
		for r := range out {
			c := *m
			c.Interactions = append([]forcefield.Interaction(nil), m.Interactions...)
			switch {
			case owner < 0:
				c.Support = forcefield.SupportExcluded
			case owner == r:
				c.Support = forcefield.SupportLocal
			default:
				c.Support = forcefield.SupportRemote
			}
			out[r][i] = &c
		}
	}
	return out
}

// Config sizes the cluster
type Config struct {
	// Workers is the total number of ranks including the coordinator
	Workers   int
	Registry  params.Options
	Objective objective.Options
}

// Start partitions the population, gives every rank its own copy of the
// force field and registry, and launches the workers. The coordinator's
// registry is built on store itself and is returned by Registry.
func Start(ctx context.Context, store *forcefield.MemStore, pop forcefield.Population, mask *forcefield.ActiveMask, energy objective.EnergyEvaluator, cfg Config) (*Coordinator, error) {
	ranks := cfg.Workers
	if ranks < 1 {
		ranks = 1
	}
	parts := Partition(pop, ranks)

	reg, err := params.Build(store, mask, cfg.Registry)
	if err != nil {
		return nil, err
	}
	master, err := objective.New(reg, store, parts[0], energy, cfg.Objective)
	if err != nil {
		return nil, err
	}

	gctx, cancel := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(gctx)
	c := &Coordinator{
		master: master,
		group:  g,
		gctx:   gctx,
		cancel: cancel,
	}

	workerOpts := cfg.Objective
	workerOpts.Bounds = false
	for r := 1; r < ranks; r++ {
		ws := store.Clone()
		wreg, err := params.Build(ws, mask, cfg.Registry)
		if err != nil {
			cancel()
			return nil, fmt.Errorf("worker %d: %w", r, err)
		}
		ev, err := objective.New(wreg, ws, parts[r], energy, workerOpts)
		if err != nil {
			cancel()
			return nil, fmt.Errorf("worker %d: %w", r, err)
		}
		w := &Worker{
			Rank: r,
			eval: ev,
			link: &link{requests: make(chan Request), replies: make(chan Reply, 1)},
		}
		c.workers = append(c.workers, w)
		g.Go(func() error { return w.Run(gctx) })
	}

	slog.Info("Started evaluation cluster", "ranks", ranks, "molecules", len(pop))
	return c, nil
}

// Registry returns the coordinator's registry
func (c *Coordinator) Registry() *params.Registry { return c.master.Registry() }

// Population returns the coordinator's view of the molecules. After Finish
// every supported molecule carries its computed energy.
func (c *Coordinator) Population() forcefield.Population { return c.master.Population() }

// Last returns the most recent global terms
func (c *Coordinator) Last() objective.Terms { return c.last }

// Evaluate broadcasts v, evaluates the coordinator's molecules and sums the
// partial terms of all ranks.
func (c *Coordinator) Evaluate(ctx context.Context, v []float64, flags objective.Flags) (objective.Terms, error) {
	if flags.Done || c.finished {
		return c.last, nil
	}

	for _, w := range c.workers {
		req := Request{Flags: flags, Params: append([]float64(nil), v...)}
		select {
		case <-ctx.Done():
			return objective.Terms{}, ctx.Err()
		case <-c.gctx.Done():
			return objective.Terms{}, c.groupErr()
		case w.link.requests <- req:
		}
	}

	total, localErr := c.master.Evaluate(ctx, v, flags)

	var firstErr error
	for _, w := range c.workers {
		select {
		case <-ctx.Done():
			return objective.Terms{}, ctx.Err()
		case <-c.gctx.Done():
			return objective.Terms{}, c.groupErr()
		case rep := <-w.link.replies:
			if rep.Err != nil && firstErr == nil {
				firstErr = fmt.Errorf("worker %d: %w", rep.Rank, rep.Err)
			}
			total = total.Add(rep.Terms)
		}
	}
	if localErr != nil {
		return objective.Terms{}, localErr
	}
	if firstErr != nil {
		return objective.Terms{}, firstErr
	}

	c.last = total
	return total, nil
}

// Finish runs the final full-population pass at v, tells every worker it is
// done and waits for them to exit.
func (c *Coordinator) Finish(ctx context.Context, v []float64) (objective.Terms, error) {
	terms, err := c.Evaluate(ctx, v, objective.Flags{Final: true})
	if err != nil {
		c.Close()
		return objective.Terms{}, err
	}

	for _, w := range c.workers {
		select {
		case <-ctx.Done():
			c.Close()
			return objective.Terms{}, ctx.Err()
		case <-c.gctx.Done():
			return objective.Terms{}, c.Close()
		case w.link.requests <- Request{Flags: objective.Flags{Done: true, Final: true}}:
		}
		<-w.link.replies
	}
	c.finished = true

	if err := c.group.Wait(); err != nil {
		c.cancel()
		return objective.Terms{}, err
	}
	c.cancel()
	return terms, nil
}

// Close stops all workers without a final pass and returns the first
// worker error, if any.
func (c *Coordinator) Close() error {
	c.cancel()
	err := c.group.Wait()
	c.finished = true
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (c *Coordinator) groupErr() error {
	err := c.group.Wait()
	if err == nil {
		err = context.Canceled
	}
	return err
}
