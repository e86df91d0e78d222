package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/resolve-agent/internal/agent"
	"github.com/xkilldash9x/resolve-agent/internal/observability"
	"github.com/xkilldash9x/resolve-agent/internal/vision"
)

type runFlags struct {
	reference     string
	instructions  string
	continuous    bool
	maxIterations int
}

func newRunCmd() *cobra.Command {
	var f runFlags
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Match the current grade to a reference image",
		Long: `Captures the grading viewer, asks the model for corrective control moves
and applies them. With --continuous the loop repeats until the similarity
score converges, the model stops, or the stop hotkey is pressed.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := getConfigFromContext(cmd.Context())
			if err != nil {
				return err
			}
			if f.maxIterations < 0 {
				return errors.New("--max-iterations must not be negative")
			}
			ref, err := vision.LoadImage(f.reference)
			if err != nil {
				return err
			}

			logger := observability.GetLogger()
			a, err := newApp(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			return runOnce(cmd.Context(), a.ctrl, cmd.OutOrStdout(), agent.RunOptions{
				Reference:     ref,
				ReferencePath: f.reference,
				Instructions:  f.instructions,
				Continuous:    f.continuous,
				MaxIterations: f.maxIterations,
				Settings: map[string]any{
					"model":      cfg.LLM().Model,
					"endpoint":   cfg.LLM().Endpoint,
					"continuous": f.continuous,
					"fail_fast":  cfg.Executor().FailFast,
				},
			})
		},
	}

	cmd.Flags().StringVarP(&f.reference, "reference", "r", "", "reference image (PNG or JPEG)")
	cmd.Flags().StringVarP(&f.instructions, "instructions", "i", "", "extra guidance for the model")
	cmd.Flags().BoolVar(&f.continuous, "continuous", false, "repeat until convergence or stop")
	cmd.Flags().IntVar(&f.maxIterations, "max-iterations", 0, "bound a continuous run (0 = unbounded)")
	cmd.Flags().String("model", "", "override llm.model")
	cmd.Flags().String("endpoint", "", "override llm.endpoint")
	cmd.Flags().Bool("headless", false, "launch the browser headless")
	cmd.Flags().String("remote-url", "", "attach to a running browser's DevTools websocket")
	cmd.Flags().String("target-url", "", "page to open in the controlled tab")
	cmd.Flags().Bool("fail-fast", true, "halt and roll back on the first failed action")
	_ = cmd.MarkFlagRequired("reference")
	return cmd
}

// runOnce starts a run, prints its events and waits for it. Cancelling ctx
// stops the run and waits for it to wind down.
func runOnce(ctx context.Context, ctrl *agent.Controller, out io.Writer, opts agent.RunOptions) error {
	events, unsubscribe := ctrl.Bus().Subscribe(
		agent.EventRecommendation, agent.EventIteration, agent.EventLog, agent.EventStateChanged)
	defer unsubscribe()

	task, err := ctrl.Start(ctx, opts)
	if err != nil {
		return err
	}

	printed := make(chan struct{})
	go func() {
		defer close(printed)
		for ev := range events {
			printEvent(out, ev)
		}
	}()

	stop := context.AfterFunc(ctx, ctrl.Stop)
	defer stop()
	res, err := task.Wait(context.WithoutCancel(ctx))
	unsubscribe()
	<-printed
	if err != nil {
		return err
	}

	printResult(out, res)
	if res.Err != nil {
		return res.Err
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return nil
}

func printEvent(out io.Writer, ev agent.Event) {
	switch p := ev.Payload.(type) {
	case string:
		if ev.Type == agent.EventRecommendation {
			fmt.Fprintf(out, "model: %s\n", p)
			return
		}
		fmt.Fprintf(out, "%s\n", p)
	case agent.StateChange:
		fmt.Fprintf(out, "state: %s -> %s\n", p.From, p.To)
	case agent.IterationEvent:
		fmt.Fprintf(out, "iteration %d: similarity %.4f -> %.4f (ssim %.3f, hist %.3f, dE %.2f)\n",
			p.Index, p.Before.Overall, p.Metrics.Overall, p.Metrics.SSIM, p.Metrics.Histogram, p.Metrics.DeltaE)
		for _, a := range p.Actions {
			line := fmt.Sprintf("  [%d] %s %s: %s", a.Index, a.Type, a.Target, a.Status)
			if a.Error != "" {
				line += " (" + a.Error + ")"
			}
			fmt.Fprintln(out, line)
		}
	default:
		observability.GetLogger().Debug("Unprinted event.", zap.String("type", string(ev.Type)))
	}
}

func printResult(out io.Writer, res agent.RunResult) {
	fmt.Fprintf(out, "finished: %s after %d iteration(s)\n", res.Reason, res.Iteration)
	if res.Metrics != nil {
		fmt.Fprintf(out, "similarity: %.4f\n", res.Metrics.Overall)
	}
	if len(res.State) == 0 {
		return
	}
	names := make([]string, 0, len(res.State))
	for k := range res.State {
		names = append(names, k)
	}
	sort.Strings(names)
	parts := make([]string, len(names))
	for i, k := range names {
		parts[i] = fmt.Sprintf("%s=%g", k, res.State[k])
	}
	fmt.Fprintf(out, "controls: %s\n", strings.Join(parts, " "))
}
