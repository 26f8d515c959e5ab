package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"specforge/pkg/logx"
	"specforge/pkg/pipeline"
)

type runFlags struct {
	title         string
	file          string
	outDir        string
	maxIterations int
	quiet         bool
}

func runCmd(g *globalFlags) *cobra.Command {
	f := &runFlags{}
	cmd := &cobra.Command{
		Use:   "run [feature request]",
		Short: "Run the pipeline for one feature request",
		Long: `Run the pipeline for one feature request, given as arguments, with
--file, or on stdin ("-"). Results are written to --out/<slug>/.`,
		Example: `  specforge run "Validate a Brazilian postal code (CEP) and format it as 00000-000"
  specforge run --title cep --file request.md
  echo "Parse ISO-8601 durations into seconds" | specforge run -`,
		RunE: func(cmd *cobra.Command, args []string) error {
			request, err := readRequest(cmd.InOrStdin(), f.file, args)
			if err != nil {
				return err
			}
			j := job{Title: f.title, Request: request}
			if err := j.validate(cmd.Flags().Changed("title")); err != nil {
				return err
			}

			a, err := newApp(appOptions{
				projectDir:    g.projectDir,
				maxIterations: f.maxIterations,
				quiet:         f.quiet,
				stdout:        cmd.OutOrStdout(),
			})
			if err != nil {
				return err
			}
			defer a.Close()

			dir := filepath.Join(f.outDir, slug(firstNonEmpty(j.Title, j.Request)))
			rec, err := a.execute(cmd.Context(), j, dir)
			if err != nil {
				return err
			}
			printOutcome(cmd.OutOrStdout(), rec, dir)
			return nil
		},
	}
	cmd.Flags().StringVarP(&f.title, "title", "t", "", "title for the run (names the output directory)")
	cmd.Flags().StringVarP(&f.file, "file", "f", "", "read the feature request from a file")
	cmd.Flags().StringVarP(&f.outDir, "out", "o", "specforge-out", "output root directory")
	cmd.Flags().IntVar(&f.maxIterations, "max-iterations", 0, "override pipeline.max_iterations")
	cmd.Flags().BoolVarP(&f.quiet, "quiet", "q", false, "no console progress")
	return cmd
}

func readRequest(stdin io.Reader, file string, args []string) (string, error) {
	switch {
	case file != "":
		data, err := os.ReadFile(file)
		if err != nil {
			return "", fmt.Errorf("read request: %w", err)
		}
		return strings.TrimSpace(string(data)), nil
	case len(args) == 1 && args[0] == "-":
		data, err := io.ReadAll(stdin)
		if err != nil {
			return "", fmt.Errorf("read stdin: %w", err)
		}
		return strings.TrimSpace(string(data)), nil
	case len(args) > 0:
		return strings.TrimSpace(strings.Join(args, " ")), nil
	default:
		return "", errors.New("no feature request given (pass it as arguments, --file, or - for stdin)")
	}
}

// execute runs one job and writes its artefacts to dir. A pipeline failure is
// recorded in result.json and returned; a completed but unapproved run is not
// an error.
func (a *app) execute(ctx context.Context, j job, dir string) (*runRecord, error) {
	runID := uuid.NewString()
	ctx = logx.WithRunID(ctx, runID)
	ctx, cancel := a.runContext(ctx)
	defer cancel()

	rec := &runRecord{
		Title:     j.Title,
		Request:   j.Request,
		Status:    statusRunning,
		Model:     a.cfg.Model.Name,
		StartedAt: time.Now().UTC(),
	}

	result, runErr := a.orchestrator.Run(ctx, j.Request, a.observer)
	rec.FinishedAt = time.Now().UTC()
	rec.Duration = rec.FinishedAt.Sub(rec.StartedAt).Round(time.Millisecond).String()
	rec.Usage = a.runUsage(runID)
	if runErr != nil {
		rec.Status = statusFailed
		rec.Error = runErr.Error()
		if re, ok := pipeline.AsRunError(runErr); ok {
			rec.FailedAt = re.Stage
		}
	} else {
		rec.Status = statusCompleted
		rec.Result = result
	}

	if err := writeArtifacts(dir, a.cfg.Pipeline.TargetLanguage, rec); err != nil {
		return rec, errors.Join(runErr, err)
	}
	return rec, runErr
}

func printOutcome(w io.Writer, rec *runRecord, dir string) {
	r := rec.Result
	switch {
	case r == nil:
		fmt.Fprintf(w, "run failed: %s\n", rec.Error)
	case r.Approved:
		fmt.Fprintf(w, "approved after %d iteration(s) in %s\n", r.Iterations, rec.Duration)
	default:
		fmt.Fprintf(w, "not approved after %d iteration(s) in %s; see review.md\n", r.Iterations, rec.Duration)
	}
	if rec.Usage != nil && rec.Usage.TotalTokens > 0 {
		fmt.Fprintf(w, "tokens: %d prompt + %d completion, est. $%.4f\n",
			rec.Usage.PromptTokens, rec.Usage.CompletionTokens, rec.Usage.TotalCost)
	}
	fmt.Fprintf(w, "output: %s\n", dir)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
