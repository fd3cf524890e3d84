package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/catalog-scraper/internal/metrics"
	"github.com/JakeFAU/catalog-scraper/internal/queue/memory"
)

// State is the lifecycle position of a consumer stage.
type State int

const (
	// StateWaitingForInput blocks until upstream produced an item or finished.
	StateWaitingForInput State = iota
	// StateDraining dispatches every available input batch to the worker pool.
	StateDraining
	// StateDone means input is exhausted and all tasks have completed.
	StateDone
)

func (s State) String() string {
	switch s {
	case StateWaitingForInput:
		return "WAITING_FOR_INPUT"
	case StateDraining:
		return "DRAINING"
	case StateDone:
		return "DONE"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Executor selects the dispatch granularity of a stage's worker pool.
type Executor string

const (
	// ExecutorProcess dispatches one task per contiguous chunk of a batch.
	ExecutorProcess Executor = "process"
	// ExecutorThread dispatches one task per item.
	ExecutorThread Executor = "thread"
)

// consumer drains an input queue through a bounded worker pool.
type consumer[In, Out any] struct {
	name     string
	workers  int
	executor Executor
	logger   *zap.Logger
	onState  func(stage string, s State)
	process  func(ctx context.Context, item In) ([]Out, error)
}

func (c *consumer[In, Out]) transition(s State) {
	c.logger.Debug("stage state", zap.String("stage", c.name), zap.Stringer("state", s))
	if c.onState != nil {
		c.onState(c.name, s)
	}
}

func (c *consumer[In, Out]) partition(batch []In) [][]In {
	if c.executor == ExecutorThread {
		return Chunk(batch, len(batch))
	}
	return Chunk(batch, c.workers)
}

// run consumes in until it is closed and drained, returning the flattened outputs.
// Output order is not related to input order.
func (c *consumer[In, Out]) run(ctx context.Context, in *memory.Queue[In]) ([]Out, error) {
	c.transition(StateWaitingForInput)
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: waiting for input: %w", c.name, ctx.Err())
	case <-in.Ready():
	case <-in.Done():
	}

	c.transition(StateDraining)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(c.workers, 1))

	var (
		mu      sync.Mutex
		results [][]Out
		items   int
	)
	for {
		batch, err := in.DrainAvailable(gctx)
		if errors.Is(err, memory.ErrClosed) {
			break
		}
		if err != nil {
			if waitErr := g.Wait(); waitErr != nil {
				return nil, waitErr
			}
			return nil, fmt.Errorf("%s: drain input: %w", c.name, err)
		}
		items += len(batch)
		c.logger.Debug("batch drained",
			zap.String("stage", c.name),
			zap.Int("items", len(batch)),
			zap.Int("backlog", in.Len()),
		)
		for _, chunk := range c.partition(batch) {
			g.Go(func() error {
				metrics.IncActiveWorkers(c.name)
				defer metrics.DecActiveWorkers(c.name)

				var local []Out
				for _, item := range chunk {
					out, err := c.process(gctx, item)
					if err != nil {
						return err
					}
					local = append(local, out...)
				}
				mu.Lock()
				results = append(results, local)
				mu.Unlock()
				return nil
			})
		}
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	c.transition(StateDone)

	var flat []Out
	for _, r := range results {
		flat = append(flat, r...)
	}
	c.logger.Info("stage drained",
		zap.String("stage", c.name),
		zap.Int("inputs", items),
		zap.Int("outputs", len(flat)),
	)
	return flat, nil
}
