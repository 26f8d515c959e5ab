package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"specforge/pkg/logx"
)

// settleDelay is how long a file must go without writes before it is read.
const settleDelay = 500 * time.Millisecond

// inbox watches a directory for request files (*.md, *.txt) and delivers each
// path once, after writes to it have settled.
type inbox struct {
	dir     string
	settle  time.Duration
	watcher *fsnotify.Watcher
	ready   chan string
	done    chan struct{}
	timers  sync.WaitGroup // settle callbacks not yet finished
	logger  *logx.Logger

	mu        sync.Mutex
	closed    bool
	pending   map[string]*time.Timer
	processed map[string]bool
}

func newInbox(dir string) (*inbox, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create inbox: %w", err)
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	if err := w.Add(dir); err != nil {
		_ = w.Close()
		return nil, fmt.Errorf("watch %s: %w", dir, err)
	}
	return &inbox{
		dir:       dir,
		settle:    settleDelay,
		watcher:   w,
		ready:     make(chan string, 16),
		done:      make(chan struct{}),
		logger:    logx.NewLogger("watch"),
		pending:   make(map[string]*time.Timer),
		processed: make(map[string]bool),
	}, nil
}

func isRequestFile(path string) bool {
	if strings.HasPrefix(filepath.Base(path), ".") {
		return false
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".md", ".txt":
		return true
	}
	return false
}

// existing queues request files already in the inbox, in name order.
func (in *inbox) existing() error {
	entries, err := os.ReadDir(in.dir)
	if err != nil {
		return fmt.Errorf("read inbox: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() && isRequestFile(e.Name()) {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	for _, name := range names {
		in.touch(filepath.Join(in.dir, name))
	}
	return nil
}

// touch (re)starts the settle timer for path.
func (in *inbox) touch(path string) {
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.closed || in.processed[path] {
		return
	}
	if t, ok := in.pending[path]; ok {
		// A timer that already fired is delivering the path; leave it.
		if t.Stop() {
			t.Reset(in.settle)
		}
		return
	}
	in.timers.Add(1)
	in.pending[path] = time.AfterFunc(in.settle, func() {
		defer in.timers.Done()
		in.mu.Lock()
		delete(in.pending, path)
		if in.closed || in.processed[path] {
			in.mu.Unlock()
			return
		}
		in.processed[path] = true
		in.mu.Unlock()
		select {
		case in.ready <- path:
		case <-in.done:
		}
	})
}

// loop forwards fsnotify events until ctx is done.
func (in *inbox) loop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-in.watcher.Events:
			if !ok {
				return
			}
			if !isRequestFile(ev.Name) {
				continue
			}
			if ev.Has(fsnotify.Create) || ev.Has(fsnotify.Write) {
				in.touch(ev.Name)
			}
		case err, ok := <-in.watcher.Errors:
			if !ok {
				return
			}
			in.logger.Warn("watcher: %v", err)
		}
	}
}

// Close stops pending timers, releases callbacks blocked on delivery and
// closes the watcher.
func (in *inbox) Close() error {
	in.mu.Lock()
	if in.closed {
		in.mu.Unlock()
		return nil
	}
	in.closed = true
	for path, t := range in.pending {
		if t.Stop() {
			in.timers.Done()
		}
		delete(in.pending, path)
	}
	in.mu.Unlock()

	close(in.done)
	in.timers.Wait()
	return in.watcher.Close() //nolint:wrapcheck // close error is descriptive
}

type watchFlags struct {
	outDir        string
	existing      bool
	maxIterations int
}

func watchCmd(g *globalFlags) *cobra.Command {
	f := &watchFlags{}
	cmd := &cobra.Command{
		Use:   "watch <inbox-dir>",
		Short: "Run the pipeline for each request file dropped into a directory",
		Long: `Watch a directory for *.md and *.txt files. Each new file is read as a
feature request and run once; results go to --out/<file name>/. Stop with
Ctrl-C.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(appOptions{
				projectDir:    g.projectDir,
				maxIterations: f.maxIterations,
				stdout:        cmd.OutOrStdout(),
			})
			if err != nil {
				return err
			}
			defer a.Close()

			in, err := newInbox(args[0])
			if err != nil {
				return err
			}
			defer in.Close()

			if f.existing {
				if err := in.existing(); err != nil {
					return err
				}
			}
			return a.watch(cmd.Context(), in, f.outDir)
		},
	}
	cmd.Flags().StringVarP(&f.outDir, "out", "o", "specforge-out", "output root directory")
	cmd.Flags().BoolVar(&f.existing, "existing", false, "also run files already in the inbox")
	cmd.Flags().IntVar(&f.maxIterations, "max-iterations", 0, "override pipeline.max_iterations")
	return cmd
}

// watch runs request files one at a time as the inbox delivers them.
func (a *app) watch(ctx context.Context, in *inbox, outDir string) error {
	go in.loop(ctx)
	a.logger.Info("watching %s", in.dir)

	for {
		select {
		case <-ctx.Done():
			a.logger.Info("watch stopped")
			return nil
		case path := <-in.ready:
			if err := a.runFile(ctx, path, outDir); err != nil && !errors.Is(err, context.Canceled) {
				a.logger.Error("%s: %v", filepath.Base(path), err)
			}
		}
	}
}

func (a *app) runFile(ctx context.Context, path, outDir string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read request: %w", err)
	}
	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	j := job{Title: name, Request: strings.TrimSpace(string(data))}
	if err := j.validate(false); err != nil {
		return err
	}
	_, err = a.execute(ctx, j, filepath.Join(outDir, slug(name)))
	return err
}
