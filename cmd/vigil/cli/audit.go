package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/vigilhq/vigil/internal/audit"
	"github.com/vigilhq/vigil/internal/cache"
)

func newAuditCmd() *cobra.Command {
	var (
		apiKey     string
		checkName  string
		timeout    time.Duration
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "audit <target>",
		Short: "Audit the integrity of a remote API",
		Long: `Probe a remote API and report on its health, version, latency,
authentication, and dependencies. The command exits non-zero when the target
is not fully healthy, so it can gate deploys and CI pipelines.`,
		Example: `  vigil audit https://api.example.com
  vigil audit https://api.example.com --api-key vgl_abc123
  vigil audit https://api.example.com --check performance --json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAudit(args[0], apiKey, checkName, timeout, jsonOutput)
		},
	}

	cmd.Flags().StringVar(&apiKey, "api-key", "", "Credential to send with probes (enables the authentication check)")
	cmd.Flags().StringVar(&checkName, "check", "", "Run a single check: health, version, performance, authentication, or dependencies")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "Per-request timeout (default 5s)")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output the report as JSON")

	return cmd
}

func runAudit(target, apiKey, checkName string, timeout time.Duration, jsonOutput bool) error {
	auditor, cleanup, err := newAuditorFromFlags(target, apiKey, timeout)
	if err != nil {
		return err
	}
	defer cleanup()

	ctx := context.Background()

	if checkName != "" {
		return runSingleCheck(ctx, auditor, apiKey, checkName, jsonOutput)
	}

	report := auditor.Audit(ctx)

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(report); err != nil {
			return err
		}
	} else {
		printReport(auditor.TargetURL(), report)
	}

	if !report.IsHealthy() {
		return fmt.Errorf("target is %s", report.Status())
	}
	return nil
}

func runSingleCheck(ctx context.Context, auditor *audit.Auditor, apiKey, checkName string, jsonOutput bool) error {
	var check audit.Check
	switch checkName {
	case audit.CheckHealth:
		check = auditor.CheckHealth(ctx)
	case audit.CheckVersion:
		check = auditor.CheckVersion(ctx)
	case audit.CheckPerformance:
		check = auditor.CheckPerformance(ctx)
	case audit.CheckAuthentication:
		if apiKey == "" {
			return fmt.Errorf("the authentication check requires --api-key")
		}
		check = auditor.CheckAuthentication(ctx, apiKey)
	case audit.CheckDependencies:
		check = auditor.CheckDependencies(ctx)
	default:
		return fmt.Errorf("unknown check %q (valid: health, version, performance, authentication, dependencies)", checkName)
	}

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(check); err != nil {
			return err
		}
	} else {
		fmt.Printf("%s %-16s %s (%.2fms)\n", passMark(check.Passed), check.Name, check.Message, check.Duration)
	}

	if !check.Passed {
		return fmt.Errorf("check %q failed", checkName)
	}
	return nil
}

func printReport(target string, report *audit.AuditReport) {
	fmt.Printf("Auditing %s\n\n", target)

	for _, check := range report.Checks() {
		fmt.Printf("%s %-16s %s (%.2fms)\n", passMark(check.Passed), check.Name, check.Message, check.Duration)
	}

	fmt.Println()
	version := report.Version()
	if version == "" {
		version = "unknown"
	}
	fmt.Printf("Status: %s | Version: %s | %.2fms\n", report.Status(), version, report.ResponseTime())
}

func passMark(passed bool) string {
	if passed {
		return "✓"
	}
	return "✗"
}

// newAuditorFromFlags builds an auditor honoring the shared config: a Redis
// cache when cache.redis.addr is set, otherwise in-process memory. The
// returned cleanup closes the Redis connection.
func newAuditorFromFlags(target, apiKey string, timeout time.Duration) (*audit.Auditor, func(), error) {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	cleanup := func() {}

	options := []audit.Option{audit.WithLogger(logger)}
	if apiKey != "" {
		options = append(options, audit.WithCredential(apiKey))
	}
	if timeout > 0 {
		options = append(options, audit.WithRequestTimeout(timeout))
	}
	if endpoints := viper.GetStringSlice("audit.auth_endpoints"); len(endpoints) > 0 {
		options = append(options, audit.WithAuthFallbackEndpoints(endpoints))
	}
	if endpoints := viper.GetStringSlice("audit.dependency_endpoints"); len(endpoints) > 0 {
		options = append(options, audit.WithDependencyFallbackEndpoints(endpoints))
	}

	if addr := viper.GetString("cache.redis.addr"); addr != "" {
		prefix := viper.GetString("cache.redis.prefix")
		if prefix == "" {
			prefix = "vigil"
		}
		rc, err := cache.NewRedis(context.Background(),
			addr,
			viper.GetString("cache.redis.password"),
			viper.GetInt("cache.redis.db"),
			prefix,
		)
		if err != nil {
			return nil, nil, fmt.Errorf("connect redis cache: %w", err)
		}
		cleanup = func() { rc.Close() }
		options = append(options, audit.WithCache(rc))
	}

	auditor, err := audit.NewAuditor(target, options...)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	return auditor, cleanup, nil
}
