package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/astrosched/astrosched/internal/config"
	"github.com/astrosched/astrosched/internal/device"
	"github.com/astrosched/astrosched/internal/events"
	"github.com/astrosched/astrosched/internal/framestore"
	"github.com/astrosched/astrosched/internal/journal"
	"github.com/astrosched/astrosched/internal/logging"
	"github.com/astrosched/astrosched/internal/monitor"
	"github.com/astrosched/astrosched/internal/ops"
	"github.com/astrosched/astrosched/internal/plan"
	"github.com/astrosched/astrosched/internal/scheduler"
	"github.com/astrosched/astrosched/internal/sequence"
)

func main() {
	// Environment overrides may live in a .env file next to the project
	_ = godotenv.Load()

	root := &cobra.Command{
		Use:   "astrosched",
		Short: "Observatory task scheduler",
		Long: `astrosched runs observation plans against a rig of devices.
Plans are YAML files naming slew, focus, exposure, grade, and archive
steps with dependencies between them; runs are journaled and captured
frames land in the frame store.`,
		SilenceUsage: true,
	}

	root.AddCommand(runCmd(), captureCmd(), validateCmd(), historyCmd(), pruneCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// rig bundles the long-lived collaborators a command wires up: the device
// executor with its drivers, the run journal, the frame store, and the
// event bus.
type rig struct {
	cfg     *config.Config
	log     zerolog.Logger
	logFile *os.File
	bus     *events.Bus
	pm      *device.ProcessManager
	indi    *device.IndiServer
	exec    *device.Executor
	store   journal.Store
	frames  *framestore.Store
}

// buildRig loads configuration and connects everything in it. When toFile
// is set, logs go to a session file under logDir instead of stderr,
// keeping the terminal clean for the monitor.
func buildRig(ctx context.Context, debug, toFile bool, logDir string) (*rig, error) {
	cfg, err := config.LoadDefault()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var (
		log     zerolog.Logger
		logFile *os.File
	)
	if toFile {
		log, logFile, err = logging.File(logDir, debug)
		if err != nil {
			return nil, err
		}
	} else {
		log = logging.Console(debug)
	}

	r := &rig{
		cfg:     cfg,
		log:     log,
		logFile: logFile,
		bus:     events.NewBus(),
		pm:      device.NewProcessManager(),
	}

	if cfg.Indi.Autostart {
		r.indi = device.NewIndiServer(cfg.Indi, r.pm, log)
		if err := r.indi.Start(ctx); err != nil {
			r.Close()
			return nil, fmt.Errorf("starting indi server: %w", err)
		}
	}

	breakers := device.NewBreakerRegistry(cfg.Breaker, log)
	r.exec = device.NewExecutor(cfg.Executor.Workers, device.RetryFromConfig(cfg.Retry), breakers, log)
	r.exec.SetBus(r.bus)
	for name, dc := range cfg.Devices {
		drv, err := device.New(name, dc)
		if err != nil {
			r.Close()
			return nil, fmt.Errorf("device %s: %w", name, err)
		}
		r.exec.RegisterDriver(drv)
	}

	store, err := journal.NewSQLiteStore(ctx, cfg.Journal.Path)
	if err != nil {
		r.Close()
		return nil, fmt.Errorf("opening journal: %w", err)
	}
	r.store = store
	r.frames = framestore.NewStore(cfg.Frames.Root)

	return r, nil
}

// Close releases the rig in dependency order: the executor drains before
// the processes it may be talking to are killed.
func (r *rig) Close() {
	if r.exec != nil {
		if err := r.exec.Close(); err != nil {
			r.log.Warn().Err(err).Msg("executor close")
		}
	}
	if r.indi != nil {
		if err := r.indi.Stop(); err != nil {
			r.log.Warn().Err(err).Msg("indi server stop")
		}
	}
	if r.pm != nil {
		if err := r.pm.KillAll(); err != nil {
			r.log.Warn().Err(err).Msg("killing subprocesses")
		}
	}
	if r.store != nil {
		if err := r.store.Close(); err != nil {
			r.log.Warn().Err(err).Msg("journal close")
		}
	}
	if r.bus != nil {
		r.bus.Close()
	}
	if r.logFile != nil {
		_ = r.logFile.Close()
	}
}

func runCmd() *cobra.Command {
	var (
		watch  bool
		yes    bool
		debug  bool
		logDir string
		keep   string
	)

	cmd := &cobra.Command{
		Use:   "run <plan.yaml>",
		Short: "Execute an observation plan",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			p, err := plan.Load(args[0])
			if err != nil {
				return err
			}
			policy, err := parsePolicy(keep)
			if err != nil {
				return err
			}

			r, err := buildRig(ctx, debug, watch, logDir)
			if err != nil {
				return err
			}
			defer r.Close()

			runnerCfg := sequence.RunnerConfig{
				Exec:     r.exec,
				Settings: r.cfg,
				Frames:   r.frames,
				Journal:  r.store,
				Bus:      r.bus,
				Policy:   policy,
				Log:      r.log,
			}

			if watch {
				// The monitor owns the terminal, so the pre-flight
				// prompt is skipped in watch mode.
				return runWatched(ctx, r, runnerCfg, p)
			}

			if !yes {
				pctx, pcancel := context.WithCancel(ctx)
				prompt := sequence.NewPrompt(1, stdinDecide)
				prompt.Start(pctx)
				defer prompt.Stop()
				defer pcancel()
				runnerCfg.Confirm = prompt
			}

			rep, err := sequence.NewRunner(runnerCfg).Run(ctx, p)
			if errors.Is(err, sequence.ErrRunDeclined) {
				fmt.Println("run declined")
				return nil
			}
			if rep != nil {
				printReport(rep)
			}
			if err != nil {
				return err
			}
			if rep.Failed > 0 {
				return fmt.Errorf("%d of %d tasks failed", rep.Failed, len(rep.Outcomes))
			}
			return nil
		},
	}

	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "Show the live monitor while the plan runs")
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Skip the pre-flight confirmation")
	cmd.Flags().BoolVar(&debug, "debug", false, "Log at debug level")
	cmd.Flags().StringVar(&logDir, "log-dir", ".astrosched/logs", "Log directory used in watch mode")
	cmd.Flags().StringVar(&keep, "keep", "keep-accepted", "Frame policy: keep-accepted, keep-all, or discard-all")

	return cmd
}

// runWatched runs the plan and the monitor together. Closing the monitor
// aborts a run still going; a finished run leaves the monitor up until
// the operator quits.
func runWatched(ctx context.Context, r *rig, runnerCfg sequence.RunnerConfig, p *plan.Plan) error {
	globalPath, projectPath, err := config.DefaultPaths()
	if err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	model := monitor.New(r.bus, r.cfg, globalPath, projectPath)
	prog := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(runCtx))

	var rep *sequence.Report
	var g errgroup.Group
	g.Go(func() error {
		_, err := prog.Run()
		cancel()
		return err
	})
	g.Go(func() error {
		var runErr error
		rep, runErr = sequence.NewRunner(runnerCfg).Run(runCtx, p)
		return runErr
	})

	err = g.Wait()
	if rep != nil {
		printReport(rep)
	}
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, tea.ErrProgramKilled) {
		return err
	}
	if rep != nil && rep.Failed > 0 {
		return fmt.Errorf("%d of %d tasks failed", rep.Failed, len(rep.Outcomes))
	}
	return nil
}

func captureCmd() *cobra.Command {
	var (
		pipeline string
		seconds  float64
		debug    bool
		keep     string
	)

	cmd := &cobra.Command{
		Use:   "capture <target>",
		Short: "Run a configured pipeline against one target",
		Long: `capture schedules the named pipeline's first op for the target and
lets each completed task chain the next op behind it. The default
"capture" pipeline exposes, grades, and archives one frame.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			target := args[0]
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			policy, err := parsePolicy(keep)
			if err != nil {
				return err
			}

			r, err := buildRig(ctx, debug, false, "")
			if err != nil {
				return err
			}
			defer r.Close()

			pcfg, ok := r.cfg.Pipelines[pipeline]
			if !ok {
				return fmt.Errorf("pipeline %q not configured", pipeline)
			}

			runID := journal.NewRunID()
			log := r.log.With().Str("run", runID).Str("pipeline", pipeline).Logger()
			if err := r.store.BeginRun(ctx, &journal.Run{
				ID:        runID,
				Plan:      "pipeline:" + pipeline,
				Status:    journal.RunRunning,
				StartedAt: time.Now(),
			}); err != nil {
				return fmt.Errorf("recording run: %w", err)
			}

			sess, err := r.frames.Begin(runID)
			if err != nil {
				return fmt.Errorf("beginning capture session: %w", err)
			}

			sched := scheduler.New(log)
			sched.SetPollInterval(r.cfg.PollInterval())
			sched.SetBus(r.bus)

			env := ops.Env{Ctx: ctx, Exec: r.exec, Config: r.cfg, Session: sess, Log: log}
			pipe, err := sequence.NewPipeline(pipeline, pcfg, env, nil, sched, log)
			if err != nil {
				return err
			}

			params := map[string]any{"target": target}
			if seconds > 0 {
				params["seconds"] = seconds
			}
			if err := pipe.Launch(slug(target), params); err != nil {
				return err
			}

			log.Info().Str("target", target).Int("chain", pipe.Steps()).Msg("capture started")
			runErr := sched.Run(ctx)

			// Journal the chain after the fact; the pipeline owns the
			// scheduler's completion hook while the run is going.
			outcomes := sched.Outcomes()
			kinds := pipe.Ops()
			var succeeded, failed, cancelled int
			for _, id := range sortedIDs(outcomes) {
				c := outcomes[id]
				rec := &journal.TaskRecord{
					RunID:  runID,
					TaskID: id,
					Name:   id,
					Op:     kinds[id],
					State:  c.State.String(),
				}
				if c.Value != nil {
					rec.Value = fmt.Sprintf("%v", c.Value)
				}
				if c.Err != nil {
					rec.Error = c.Err.Error()
				}
				if err := r.store.SaveTaskRun(context.Background(), rec); err != nil {
					log.Warn().Str("task", id).Err(err).Msg("could not journal task")
				}
				switch c.State {
				case scheduler.CompletionSucceeded:
					succeeded++
				case scheduler.CompletionFailed:
					failed++
				case scheduler.CompletionCancelled:
					cancelled++
				}
			}

			archive, err := r.frames.Finalize(sess, policy)
			if err != nil {
				log.Warn().Err(err).Msg("could not finalize capture session")
			}

			status := journal.RunCompleted
			switch {
			case ctx.Err() != nil:
				status = journal.RunAborted
			case failed > 0 || cancelled > 0 || runErr != nil:
				status = journal.RunFailed
			}
			line := fmt.Sprintf("%d tasks: %d succeeded, %d failed, %d cancelled",
				len(outcomes), succeeded, failed, cancelled)
			if err := r.store.FinishRun(context.Background(), runID, status, line); err != nil {
				log.Warn().Err(err).Msg("could not finish journal run")
			}

			fmt.Printf("capture %s (%s): %s\n", target, runID, line)
			for _, id := range sortedIDs(outcomes) {
				printOutcome(id, outcomes[id])
			}
			if archive != nil && archive.ArchiveDir != "" {
				fmt.Printf("frames archived to %s (%d kept, %d dropped)\n",
					archive.ArchiveDir, len(archive.Archived), archive.Dropped)
			}

			if runErr != nil {
				return runErr
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d tasks failed", failed, len(outcomes))
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&pipeline, "pipeline", "p", "capture", "Configured pipeline to run")
	cmd.Flags().Float64VarP(&seconds, "seconds", "s", 0, "Exposure length, op default when zero")
	cmd.Flags().BoolVar(&debug, "debug", false, "Log at debug level")
	cmd.Flags().StringVar(&keep, "keep", "keep-accepted", "Frame policy: keep-accepted, keep-all, or discard-all")

	return cmd
}

func validateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <plan.yaml>",
		Short: "Check a plan file without running it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := plan.Load(args[0])
			if err != nil {
				return err
			}
			order, err := p.Order()
			if err != nil {
				return err
			}
			fingerprint, err := p.Fingerprint()
			if err != nil {
				return err
			}
			fmt.Printf("plan %s: %d steps, fingerprint %016x\n", p.Name, len(p.Steps), fingerprint)
			fmt.Printf("order: %s\n", strings.Join(order, ", "))
			return nil
		},
	}
}

func historyCmd() *cobra.Command {
	var (
		limit int
		trail string
	)

	cmd := &cobra.Command{
		Use:   "history [run-id]",
		Short: "List journaled runs, or show one run's tasks",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			cfg, err := config.LoadDefault()
			if err != nil {
				return err
			}
			store, err := journal.NewSQLiteStore(ctx, cfg.Journal.Path)
			if err != nil {
				return fmt.Errorf("opening journal: %w", err)
			}
			defer store.Close()

			if len(args) == 0 {
				runs, err := store.ListRuns(ctx, limit)
				if err != nil {
					return err
				}
				if len(runs) == 0 {
					fmt.Println("no runs recorded")
					return nil
				}
				for _, run := range runs {
					fmt.Printf("%s  %-9s %-20s %s  %s\n",
						run.ID, run.Status, run.Plan,
						run.StartedAt.Format("2006-01-02 15:04:05"), run.Report)
				}
				return nil
			}

			runID := args[0]
			run, err := store.GetRun(ctx, runID)
			if err != nil {
				return err
			}
			fmt.Printf("run %s  plan %s  status %s\n", run.ID, run.Plan, run.Status)
			if run.Report != "" {
				fmt.Printf("report: %s\n", run.Report)
			}

			records, err := store.TaskRuns(ctx, runID)
			if err != nil {
				return err
			}
			for _, rec := range records {
				detail := rec.Value
				if rec.Error != "" {
					detail = rec.Error
				}
				needs := ""
				if len(rec.DependsOn) > 0 {
					needs = fmt.Sprintf(" (needs %s)", strings.Join(rec.DependsOn, ", "))
				}
				fmt.Printf("  %-20s %-10s %s%s\n", rec.TaskID, rec.State, detail, needs)
			}

			if trail != "" {
				entries, err := store.History(ctx, runID, trail)
				if err != nil {
					return err
				}
				fmt.Printf("progress of %s:\n", trail)
				for _, e := range entries {
					fmt.Printf("  %s  %-10s %s\n", e.At.Format("15:04:05"), e.Stage, e.Detail)
				}
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "How many runs to list")
	cmd.Flags().StringVar(&trail, "trail", "", "Also print this task's progress history")

	return cmd
}

func pruneCmd() *cobra.Command {
	var days int

	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Remove leftover capture sessions past the retention window",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadDefault()
			if err != nil {
				return err
			}
			if days <= 0 {
				days = cfg.Frames.KeepDays
			}
			removed, err := framestore.NewStore(cfg.Frames.Root).Prune(time.Duration(days) * 24 * time.Hour)
			if err != nil {
				return err
			}
			fmt.Printf("removed %d stale sessions\n", removed)
			return nil
		},
	}

	cmd.Flags().IntVar(&days, "days", 0, "Retention window in days, config value when zero")

	return cmd
}

// stdinDecide asks the operator on the terminal. Anything but y/yes
// declines.
func stdinDecide(ctx context.Context, runID, message string) (bool, error) {
	fmt.Printf("%s [y/N]: ", message)
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return false, err
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes", nil
}

func parsePolicy(s string) (framestore.FinalizePolicy, error) {
	switch s {
	case "keep-accepted", "":
		return framestore.KeepAccepted, nil
	case "keep-all":
		return framestore.KeepAll, nil
	case "discard-all":
		return framestore.DiscardAll, nil
	default:
		return 0, fmt.Errorf("unknown frame policy %q", s)
	}
}

// slug turns a target name into a task id.
func slug(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.ReplaceAll(s, " ", "-")
}

func printReport(rep *sequence.Report) {
	fmt.Printf("run %s (%s): %s in %v\n",
		rep.RunID, rep.Plan, rep.Line(), rep.Duration.Round(time.Millisecond))
	for _, id := range sortedIDs(rep.Outcomes) {
		printOutcome(id, rep.Outcomes[id])
	}
	if rep.Archive != nil && rep.Archive.ArchiveDir != "" {
		fmt.Printf("frames archived to %s (%d kept, %d dropped)\n",
			rep.Archive.ArchiveDir, len(rep.Archive.Archived), rep.Archive.Dropped)
	}
}

func printOutcome(id string, c scheduler.Completion) {
	detail := ""
	switch {
	case c.Err != nil:
		detail = c.Err.Error()
	case c.Value != nil:
		detail = fmt.Sprintf("%v", c.Value)
	}
	fmt.Printf("  %-20s %-10s %s\n", id, c.State, detail)
}

func sortedIDs(outcomes map[string]scheduler.Completion) []string {
	ids := make([]string, 0, len(outcomes))
	for id := range outcomes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
