package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/vigilhq/vigil/internal/watch"
)

func newWatchCmd() *cobra.Command {
	var (
		apiKey     string
		interval   time.Duration
		timeout    time.Duration
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "watch <target>",
		Short: "Continuously audit a remote API",
		Long: `Audit a target on a fixed interval until interrupted. Status transitions
(healthy -> degraded, degraded -> healthy, ...) are highlighted as they happen.`,
		Example: `  vigil watch https://api.example.com
  vigil watch https://api.example.com --interval 30s --api-key vgl_abc123`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(args[0], apiKey, interval, timeout, jsonOutput)
		},
	}

	cmd.Flags().StringVar(&apiKey, "api-key", "", "Credential to send with probes")
	cmd.Flags().DurationVar(&interval, "interval", 60*time.Second, "Time between audits")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "Per-request timeout (default 5s)")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Emit one JSON report per line instead of the summary")

	return cmd
}

func runWatch(target, apiKey string, interval, timeout time.Duration, jsonOutput bool) error {
	auditor, cleanup, err := newAuditorFromFlags(target, apiKey, timeout)
	if err != nil {
		return err
	}
	defer cleanup()

	reportFn := func(obs watch.Observation) {
		if jsonOutput {
			b, err := json.Marshal(obs.Report)
			if err != nil {
				return
			}
			fmt.Println(string(b))
			return
		}

		report := obs.Report
		line := fmt.Sprintf("[%s] %s %-8s %.2fms",
			report.Timestamp().Format("15:04:05"),
			passMark(report.IsHealthy()),
			report.Status(),
			report.ResponseTime(),
		)
		if obs.Transition {
			line += fmt.Sprintf("  (was %s)", obs.Previous)
		}
		if msg := report.ErrorMessage(); msg != "" {
			line += "  " + msg
		}
		fmt.Println(line)
	}

	logger := newLogger(false)
	w := watch.New(auditor, interval, reportFn, logger)

	if !jsonOutput {
		fmt.Printf("Watching %s every %s (Ctrl-C to stop)\n\n", auditor.TargetURL(), interval)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	w.Run(ctx)
	return nil
}
