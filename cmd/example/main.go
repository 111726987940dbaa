package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/pelageech/lifo"
	"github.com/pelageech/lifo/workerpool"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type config struct {
	producers int
	tasks     int
	workers   int64
	work      time.Duration
	timeout   time.Duration
	verbose   bool
}

func main() {
	var c config

	rootCmd := &cobra.Command{
		Use:   "example",
		Short: "Run producers against a LIFO worker pool",
		Example: `  $ example --producers 4 --tasks 1000 --workers 8
  `,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), c)
		},
	}

	flags := rootCmd.Flags()
	flags.IntVarP(&c.producers, "producers", "p", 4, "number of producer goroutines")
	flags.IntVarP(&c.tasks, "tasks", "n", 100, "tasks submitted by each producer")
	flags.Int64VarP(&c.workers, "workers", "w", 8, "number of pool workers")
	flags.DurationVar(&c.work, "work", 5*time.Millisecond, "simulated duration of one task")
	flags.DurationVar(&c.timeout, "timeout", time.Second, "per-task timeout")
	flags.BoolVarP(&c.verbose, "verbose", "v", false, "debug logging")

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newLogger(verbose bool) (*zap.Logger, error) {
	if verbose {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func run(ctx context.Context, c config) error {
	log, err := newLogger(c.verbose)
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer log.Sync()

	pool := workerpool.NewPool(
		workerpool.WithWorkersCount(c.workers),
		workerpool.WithServiceName("example"),
		workerpool.WithLogger(log),
	)

	total := int64(c.producers * c.tasks)
	completed := atomic.Int64{}
	allDone := make(chan struct{})

	// runnable implements lifo.Runnable
	runnable := lifo.RunnableFunc(func(ctx context.Context) error {
		defer func() {
			if completed.Add(1) == total {
				close(allDone)
			}
		}()

		select {
		case <-time.After(c.work):
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})

	poolCtx, stop := context.WithCancelCause(ctx)
	defer stop(nil)
	poolDone := make(chan error, 1)
	go func() {
		poolDone <- pool.Run(poolCtx)
	}()

	start := time.Now()
	g, gctx := errgroup.WithContext(ctx)
	for i := range c.producers {
		g.Go(func() error {
			for range c.tasks {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				if err := pool.Submit(lifo.NewTask(runnable, lifo.WithTimeout(c.timeout))); err != nil {
					return fmt.Errorf("producer %d: %w", i, err)
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		log.Warn("producers stopped early", zap.Error(err))
	}

	if total > 0 {
		select {
		case <-allDone:
		case <-ctx.Done():
		}
	}

	stop(errFinished)
	if err := <-poolDone; err != nil && !errors.Is(err, errFinished) {
		log.Warn("pool stopped", zap.Error(err))
	}

	log.Info("done",
		zap.Int64("completed", completed.Load()),
		zap.Int("pending", pool.Pending()),
		zap.Duration("elapsed", time.Since(start)),
	)
	return nil
}

var errFinished = errors.New("all tasks finished")
