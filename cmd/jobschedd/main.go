package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"jobsched/internal/app"
	"jobsched/internal/config"
	"jobsched/internal/trigger"
	logx "jobsched/pkg/logx"
)

var cfgPath string

var rootCmd = &cobra.Command{
	Use:   "jobschedd",
	Short: "Job scheduling daemon",
	Long: `jobschedd evaluates job triggers and runs fired jobs on a worker pool.

Examples:
  jobschedd serve --config ./jobsched.yaml
  jobschedd check-config --config ./jobsched.yaml
  jobschedd next "0 9 * * MON-FRI" -n 3 --tz Europe/Berlin`,
	SilenceUsage: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the scheduler until SIGINT or SIGTERM",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

var checkCmd = &cobra.Command{
	Use:   "check-config",
	Short: "Validate the config file and exit",
	Args:  cobra.NoArgs,
	RunE:  runCheck,
}

var nextCmd = &cobra.Command{
	Use:   "next <schedule>",
	Short: "Preview upcoming fire times of a schedule",
	Args:  cobra.ExactArgs(1),
	RunE:  runNext,
}

var (
	nextCount int
	nextTZ    string
	stopGrace time.Duration
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "./jobsched.yaml", "path to config file (json, yaml or toml)")
	serveCmd.Flags().DurationVar(&stopGrace, "stop-timeout", 10*time.Second, "upper bound for graceful shutdown")
	nextCmd.Flags().IntVarP(&nextCount, "count", "n", 5, "number of fire times to print")
	nextCmd.Flags().StringVar(&nextTZ, "tz", "", "IANA timezone for cron schedules (default: local)")

	rootCmd.AddCommand(serveCmd, checkCmd, nextCmd)
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	a, err := app.NewApp(cfgPath)
	if err != nil {
		logx.NewConsole("INFO").Error("startup failed", logx.Err(err))
		return err
	}

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigs)

	if err := a.Start(cmd.Context()); err != nil {
		_ = a.Stop(context.Background(), app.StopFatalError)
		return err
	}

	reason := app.StopUnknown
	select {
	case s := <-sigs:
		reason = app.StopSIGINT
		if s == syscall.SIGTERM {
			reason = app.StopSIGTERM
		}
	case <-a.Done():
		reason = app.StopFatalError
	}
	fatal := a.Err()

	ctx, cancel := context.WithTimeout(context.Background(), stopGrace)
	defer cancel()
	if err := a.Stop(ctx, reason); err != nil {
		return errors.Join(fatal, err)
	}
	return fatal
}

func runCheck(cmd *cobra.Command, _ []string) error {
	cfg, err := config.NewManager(cfgPath).Load()
	if err != nil {
		return fmt.Errorf("%s: %w", cfgPath, err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s: ok (%d declared jobs)\n", cfgPath, len(cfg.Jobs))
	return nil
}

func runNext(cmd *cobra.Command, args []string) error {
	loc, err := config.SchedulerConfig{Timezone: nextTZ}.Location()
	if err != nil {
		return err
	}
	now := time.Now()
	tr, err := trigger.Parse(args[0], trigger.BuildOptions{Location: loc, Now: now})
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s\n", tr)
	times := trigger.FireTimes(tr, now.Add(-time.Nanosecond), nextCount)
	if len(times) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "  (never fires)")
		return nil
	}
	for _, t := range times {
		fmt.Fprintf(cmd.OutOrStdout(), "  %s\n", t.In(loc).Format(time.RFC3339))
	}
	return nil
}
