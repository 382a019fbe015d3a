package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/EHPCL/RTHeter/internal/claude"
	"github.com/EHPCL/RTHeter/internal/ctxlog"
	"github.com/EHPCL/RTHeter/internal/deadline"
	"github.com/EHPCL/RTHeter/internal/driver"
	"github.com/EHPCL/RTHeter/internal/engine"
	"github.com/EHPCL/RTHeter/internal/planner"
	"github.com/EHPCL/RTHeter/internal/reporter"
	"github.com/EHPCL/RTHeter/internal/simulator"
	"github.com/EHPCL/RTHeter/internal/state"
	"github.com/EHPCL/RTHeter/internal/sweep"
	"github.com/EHPCL/RTHeter/internal/taskset"
	"github.com/EHPCL/RTHeter/internal/ui"
	"github.com/EHPCL/RTHeter/internal/viz"
)

var (
	flagJSON          bool
	flagLogLevel      string
	flagLogFormat     string
	flagStrategy      string
	flagPrecision     int
	flagHorizonFactor int
	flagHorizon       int
	flagEngine        string
	flagEngineArgs    []string
	flagStateDir      string
	flagSeed          int64
)

// errUnschedulable makes the process exit with status 2.
var errUnschedulable = errors.New("task set is unschedulable")

func main() {
	rootCmd := &cobra.Command{
		Use:   "rtheter",
		Short: "Schedule periodic DAG tasks on heterogeneous processors",
		Long: `RTHeter analyses periodic DAG task sets, derives per-segment internal
deadlines and drives an execution engine under EDF, FIFO or rate-monotonic
scheduling to decide whether the set meets every deadline.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().BoolVar(&flagJSON, "json", false, "Machine-readable JSON output")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "warn", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&flagLogFormat, "log-format", "text", "Log format (text, json)")
	rootCmd.PersistentFlags().StringVar(&flagStateDir, "state-dir", state.DefaultDir, "Directory holding sweep results")

	rootCmd.AddCommand(analyzeCmd())
	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(sweepCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(vizCmd())
	rootCmd.AddCommand(engineCmd())

	if err := rootCmd.Execute(); err != nil {
		if errors.Is(err, errUnschedulable) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

func addPlanFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&flagStrategy, "strategy", "fair", "Deadline strategy (fair, proportional)")
	cmd.Flags().IntVar(&flagPrecision, "precision", deadline.DefaultPrecision, "Decimal digits kept in internal deadlines")
}

func addEngineFlags(cmd *cobra.Command) {
	cmd.Flags().IntVar(&flagHorizonFactor, "horizon-factor", driver.DefaultHorizonFactor, "Simulate this many shortest periods")
	cmd.Flags().IntVar(&flagHorizon, "horizon", 0, "Simulation horizon in ticks (overrides --horizon-factor)")
	cmd.Flags().StringVar(&flagEngine, "engine", "", "Engine binary speaking the text protocol (default: in-process simulator)")
	cmd.Flags().StringSliceVar(&flagEngineArgs, "engine-arg", nil, "Argument passed to the engine binary (repeatable)")
	cmd.Flags().Int64Var(&flagSeed, "seed", 1, "Seed for processor execution-time variation (in-process simulator)")
}

// signalContext cancels on SIGINT/SIGTERM and carries the configured logger.
func signalContext(logger *slog.Logger) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(ctxlog.WithLogger(context.Background(), logger))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case <-sigCh:
			fmt.Fprintf(os.Stderr, "\n🛑 %s\n", ui.Yellow("Received interrupt, cancelling..."))
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}

func newLogger(w io.Writer) *slog.Logger {
	return ctxlog.New(flagLogLevel, flagLogFormat, w)
}

func loadPlan(path string) (*taskset.TaskSet, *planner.Plan, error) {
	ts, err := taskset.Load(path)
	if err != nil {
		return nil, nil, err
	}
	strategy, err := deadline.ParseStrategy(flagStrategy)
	if err != nil {
		return nil, nil, err
	}
	plan, err := planner.Generate(ts.Tasks, planner.PlanConfig{
		Name:      ts.Name,
		Strategy:  strategy,
		Precision: &flagPrecision,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", path, err)
	}
	return ts, plan, nil
}

func analyzeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "analyze FILE...",
		Short: "Print structural metrics and internal deadlines per task",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var plans []*planner.Plan
			for _, path := range args {
				_, plan, err := loadPlan(path)
				if err != nil {
					return err
				}
				plans = append(plans, plan)
			}

			if flagJSON {
				if len(plans) == 1 {
					return outputJSON(plans[0])
				}
				return outputJSON(plans)
			}
			for i, plan := range plans {
				if i > 0 {
					fmt.Println()
				}
				reporter.PrintPlan(os.Stdout, plan)
			}
			return nil
		},
	}
	addPlanFlags(cmd)
	return cmd
}

func runCmd() *cobra.Command {
	var (
		flagPolicy string
		flagTrace  bool
	)

	cmd := &cobra.Command{
		Use:   "run FILE",
		Short: "Run one task set to a schedulability verdict (exit 2 when unschedulable)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ts, err := taskset.Load(args[0])
			if err != nil {
				return err
			}
			policy, err := driver.ParsePolicy(flagPolicy)
			if err != nil {
				return err
			}
			strategy, err := deadline.ParseStrategy(flagStrategy)
			if err != nil {
				return err
			}

			logger := newLogger(os.Stderr)
			if flagTrace {
				logger = ctxlog.New("debug", "json", ui.NewTraceFormatter(os.Stderr))
			}
			ctx, cancel := signalContext(logger)
			defer cancel()

			var eng engine.Engine = simulator.New(simulator.WithSeed(flagSeed))
			if flagEngine != "" {
				c, err := engine.NewClient(ctx, flagEngine, flagEngineArgs...)
				if err != nil {
					return err
				}
				eng = c
			}
			defer eng.Close()

			d, err := driver.New(eng, ts, driver.Config{
				Policy:        policy,
				Strategy:      strategy,
				Precision:     &flagPrecision,
				HorizonFactor: flagHorizonFactor,
				Horizon:       flagHorizon,
				Trace:         flagJSON && flagTrace,
			})
			if err != nil {
				return err
			}

			start := time.Now()
			res, runErr := d.Run(ctx)

			if flagJSON {
				if err := outputJSON(res); err != nil {
					return err
				}
			} else {
				printResult(res, time.Since(start))
			}

			if runErr != nil {
				return runErr
			}
			if res.Outcome == driver.OutcomeUnschedulable {
				return errUnschedulable
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&flagPolicy, "policy", "edf", "Scheduling policy (edf, rm, rm-np, fifo)")
	cmd.Flags().BoolVar(&flagTrace, "trace", false, "Print every scheduling decision")
	addPlanFlags(cmd)
	addEngineFlags(cmd)
	return cmd
}

func printResult(res *driver.Result, elapsed time.Duration) {
	outcome := res.Outcome.String()
	fmt.Printf("%s %s %s/%s: %s at t=%d %s\n",
		ui.OutcomeIcon(outcome), ui.BoldMagenta(res.TaskSet), res.Policy, res.Strategy,
		ui.Outcome(outcome), res.Time, ui.Dim(fmt.Sprintf("(horizon %d)", res.Horizon)))
	fmt.Printf("  %s %d placed, %d preempted, %d skipped, %d invalid, %d protocol errors, %d units in %d epochs %s\n",
		ui.Dim("stats:"), res.Stats.Placements, res.Stats.Preemptions, res.Stats.Skips,
		res.Stats.InvalidSchedules, res.Stats.ProtocolErrors, res.Stats.Executed, res.Stats.Epochs,
		ui.Dim(fmt.Sprintf("[%s]", elapsed.Truncate(time.Millisecond))))
	if len(res.Progress) > 0 {
		fmt.Printf("  %s %v\n", ui.Dim("progress:"), res.Progress)
	}
}

func sweepCmd() *cobra.Command {
	var (
		flagPolicies   []string
		flagStrategies []string
		flagWorkers    int
		flagSummarise  bool
		flagModel      string
	)

	cmd := &cobra.Command{
		Use:   "sweep FILE...",
		Short: "Evaluate task sets under every policy/strategy combination in parallel",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var policies []driver.Policy
			for _, p := range flagPolicies {
				policy, err := driver.ParsePolicy(p)
				if err != nil {
					return err
				}
				policies = append(policies, policy)
			}
			var strategies []deadline.Strategy
			for _, s := range flagStrategies {
				strategy, err := deadline.ParseStrategy(s)
				if err != nil {
					return err
				}
				strategies = append(strategies, strategy)
			}

			sets := make([]*taskset.TaskSet, len(args))
			for i, path := range args {
				ts, err := taskset.Load(path)
				if err != nil {
					return err
				}
				sets[i] = ts
			}

			ctx, cancel := signalContext(newLogger(os.Stderr))
			defer cancel()

			jobs := sweep.Jobs(args, sets, policies, strategies)
			id := "sweep-" + time.Now().Format("20060102-150405")
			st, err := state.Open(flagStateDir).New(id, len(jobs))
			if err != nil {
				return err
			}

			if !flagJSON {
				ui.PrintBanner()
				fmt.Fprintf(os.Stderr, "🚀 %s %s jobs (%d task sets x %d policies x %d strategies)\n",
					ui.BoldCyan("RTHeter:"), ui.Bold(len(jobs)), len(sets), len(policies), len(strategies))
			}

			outcomes, err := sweep.Run(ctx, sweep.Config{
				Workers:       flagWorkers,
				EnginePath:    flagEngine,
				EngineArgs:    flagEngineArgs,
				Precision:     &flagPrecision,
				HorizonFactor: flagHorizonFactor,
				Horizon:       flagHorizon,
				Seed:          flagSeed,
			}, jobs)
			if err != nil {
				st.SetStatus(state.StatusFailed)
				return err
			}
			for i, o := range outcomes {
				if err := st.Record(o.Record(i)); err != nil {
					return err
				}
			}

			status := state.StatusCompleted
			if ctx.Err() != nil {
				status = state.StatusCancelled
			}
			if err := st.SetStatus(status); err != nil {
				return err
			}
			if _, err := st.Archive(); err != nil {
				return err
			}

			rpt := reporter.New(st)
			if flagJSON {
				data, err := rpt.JSON()
				if err != nil {
					return err
				}
				fmt.Println(string(data))
			} else {
				summary := rpt.PrintSummaryReport(os.Stdout)
				if flagSummarise {
					if err := summariseSweep(ctx, flagModel, summary, args); err != nil {
						fmt.Fprintf(os.Stderr, "%s %v\n", ui.Yellow("⚠ summary unavailable:"), err)
					}
				}
			}
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&flagPolicies, "policy", []string{"edf", "rm", "rm-np", "fifo"}, "Policies to evaluate")
	cmd.Flags().StringSliceVar(&flagStrategies, "strategy", []string{"fair"}, "Deadline strategies to evaluate")
	cmd.Flags().IntVar(&flagWorkers, "workers", 0, "Concurrent runs (default: number of CPUs)")
	cmd.Flags().IntVar(&flagPrecision, "precision", deadline.DefaultPrecision, "Decimal digits kept in internal deadlines")
	cmd.Flags().BoolVar(&flagSummarise, "summarise", false, "Ask Claude for a narrative summary (needs ANTHROPIC_API_KEY)")
	cmd.Flags().StringVar(&flagModel, "model", "", "Claude model for --summarise")
	addEngineFlags(cmd)
	return cmd
}

func summariseSweep(ctx context.Context, model, summary string, files []string) error {
	client, err := claude.NewClient("", model)
	if err != nil {
		return err
	}

	analyses := make(map[string]string, len(files))
	for _, path := range files {
		ts, err := taskset.Load(path)
		if err != nil {
			return err
		}
		plan, err := planner.Generate(ts.Tasks, planner.PlanConfig{Name: ts.Name})
		if err != nil {
			return err
		}
		data, err := json.Marshal(plan.Tasks)
		if err != nil {
			return err
		}
		analyses[path] = string(data)
	}

	fmt.Fprintf(os.Stderr, "\n%s\n", ui.Dim("Asking Claude for a summary..."))
	assessment, err := client.SummariseSweep(ctx, summary, analyses, files)
	if err != nil {
		return err
	}

	fmt.Printf("\n%s %s\n", "🧠", ui.BoldCyan("Assessment"))
	fmt.Println(assessment.Summary)
	for _, f := range assessment.Findings {
		who := ui.BoldMagenta(f.TaskSet)
		if f.Policy != "" {
			who += ui.Dim(" (" + f.Policy + ")")
		}
		fmt.Printf("  • %s %s\n", who, f.Observation)
	}
	return nil
}

func statusCmd() *cobra.Command {
	var (
		flagPrevious bool
		flagID       string
	)

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the results of the latest sweep",
		RunE: func(cmd *cobra.Command, args []string) error {
			if flagPrevious && flagID != "" {
				return fmt.Errorf("--previous and --id are mutually exclusive")
			}

			store := state.Open(flagStateDir)
			var st *state.SweepState
			var err error
			switch {
			case flagPrevious:
				st, err = store.LoadPrevious()
			case flagID != "":
				st, err = store.LoadArchived(flagID)
			default:
				if !store.Exists() {
					return fmt.Errorf("no sweep results (no %s/results.json found)", store.Dir())
				}
				st, err = store.Load()
			}
			if err != nil {
				return err
			}

			rpt := reporter.New(st)
			if flagJSON {
				data, err := rpt.JSON()
				if err != nil {
					return err
				}
				fmt.Println(string(data))
				return nil
			}
			rpt.PrintSummaryReport(os.Stdout)
			return nil
		},
	}

	cmd.Flags().BoolVar(&flagPrevious, "previous", false, "Show the most recent archived sweep")
	cmd.Flags().StringVar(&flagID, "id", "", "Show an archived sweep by id")
	return cmd
}

func vizCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "viz FILE",
		Short: "Print the task-set DAGs as Graphviz DOT",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, plan, err := loadPlan(args[0])
			if err != nil {
				return err
			}
			fmt.Println(viz.DOT(plan))
			return nil
		},
	}
	addPlanFlags(cmd)
	return cmd
}

func engineCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "engine",
		Short: "Serve the in-process reference engine over stdin/stdout",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext(newLogger(os.Stderr))
			defer cancel()
			return engine.Serve(ctx, os.Stdin, os.Stdout, simulator.New(simulator.WithSeed(flagSeed)))
		},
	}
	cmd.Flags().Int64Var(&flagSeed, "seed", 1, "Seed for processor execution-time variation")
	return cmd
}

func outputJSON(v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}
