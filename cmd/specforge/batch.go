package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"
)

// batchFile is the YAML document accepted by "specforge batch".
//
//	requests:
//	  - title: cep
//	    request: Validate a Brazilian postal code ...
type batchFile struct {
	Requests []job `yaml:"requests"`
}

func parseBatch(data []byte) ([]job, error) {
	var bf batchFile
	if err := yaml.Unmarshal(data, &bf); err != nil {
		return nil, fmt.Errorf("parse batch file: %w", err)
	}
	if len(bf.Requests) == 0 {
		return nil, errors.New("batch file has no requests")
	}
	var errs []error
	for i, j := range bf.Requests {
		if err := j.validate(false); err != nil {
			errs = append(errs, fmt.Errorf("request %d (%q): %w", i+1, j.Title, err))
		}
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return bf.Requests, nil
}

// batchEntry is one row of the status table.
type batchEntry struct {
	job    job
	dir    string
	status runStatus
	rec    *runRecord
	err    error
}

// batchTracker holds per-job status while jobs run concurrently.
type batchTracker struct {
	mu      sync.Mutex
	entries []*batchEntry
}

func newBatchTracker(jobs []job, outDir string) *batchTracker {
	t := &batchTracker{entries: make([]*batchEntry, len(jobs))}
	for i, j := range jobs {
		name := fmt.Sprintf("%02d-%s", i+1, slug(firstNonEmpty(j.Title, j.Request)))
		t.entries[i] = &batchEntry{job: j, dir: filepath.Join(outDir, name), status: statusPending}
	}
	return t
}

func (t *batchTracker) start(i int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries[i].status = statusRunning
}

func (t *batchTracker) finish(i int, rec *runRecord, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e := t.entries[i]
	e.rec, e.err = rec, err
	if err != nil {
		e.status = statusFailed
	} else {
		e.status = statusCompleted
	}
}

func (t *batchTracker) counts() map[runStatus]int {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[runStatus]int)
	for _, e := range t.entries {
		out[e.status]++
	}
	return out
}

func (t *batchTracker) write(w io.Writer) {
	t.mu.Lock()
	defer t.mu.Unlock()
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "#\tSTATUS\tAPPROVED\tITERATIONS\tOUTPUT")
	for i, e := range t.entries {
		approved, iterations := "-", "-"
		if e.rec != nil && e.rec.Result != nil {
			approved = fmt.Sprintf("%t", e.rec.Result.Approved)
			iterations = fmt.Sprintf("%d", e.rec.Result.Iterations)
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n", i+1, e.status, approved, iterations, e.dir)
	}
	_ = tw.Flush()
}

type batchFlags struct {
	outDir        string
	concurrency   int
	maxIterations int
}

func batchCmd(g *globalFlags) *cobra.Command {
	f := &batchFlags{}
	cmd := &cobra.Command{
		Use:   "batch <file.yaml>",
		Short: "Run the pipeline for every request in a YAML file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read batch file: %w", err)
			}
			jobs, err := parseBatch(data)
			if err != nil {
				return err
			}

			// Interleaved bars from concurrent runs are unreadable; progress
			// still reaches the log and the other sinks.
			a, err := newApp(appOptions{
				projectDir:    g.projectDir,
				maxIterations: f.maxIterations,
				quiet:         true,
				stdout:        cmd.OutOrStdout(),
			})
			if err != nil {
				return err
			}
			defer a.Close()

			tracker := runBatch(cmd.Context(), a, jobs, f.outDir, f.concurrency)
			tracker.write(cmd.OutOrStdout())
			if total := a.totalUsage(); total != nil && total.TotalTokens > 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "total: %d requests, %d tokens, est. $%.4f\n",
					total.Requests, total.TotalTokens, total.TotalCost)
			}

			if n := tracker.counts()[statusFailed]; n > 0 {
				return fmt.Errorf("%d of %d runs failed", n, len(jobs))
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&f.outDir, "out", "o", "specforge-out", "output root directory")
	cmd.Flags().IntVarP(&f.concurrency, "concurrency", "j", 2, "runs in flight at once")
	cmd.Flags().IntVar(&f.maxIterations, "max-iterations", 0, "override pipeline.max_iterations")
	return cmd
}

// runBatch runs every job, at most concurrency at a time. A failed run does
// not stop the others.
func runBatch(ctx context.Context, a *app, jobs []job, outDir string, concurrency int) *batchTracker {
	tracker := newBatchTracker(jobs, outDir)

	var eg errgroup.Group
	if concurrency < 1 {
		concurrency = 1
	}
	eg.SetLimit(concurrency)
	for i := range jobs {
		eg.Go(func() error {
			if ctx.Err() != nil {
				tracker.finish(i, nil, ctx.Err())
				return nil
			}
			tracker.start(i)
			rec, err := a.execute(ctx, jobs[i], tracker.entries[i].dir)
			tracker.finish(i, rec, err)
			if err != nil {
				a.logger.Error("batch run %d failed: %v", i+1, err)
			}
			return nil
		})
	}
	_ = eg.Wait()
	return tracker
}
