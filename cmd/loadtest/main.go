package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"flash-sale-reservation-service/internal/tools/common"
	"flash-sale-reservation-service/internal/tools/loadgen"
	"flash-sale-reservation-service/internal/tools/ui"
)

func main() {
	cfg := loadgen.Config{}
	var ci bool

	root := &cobra.Command{
		Use:           "flash-sale-loadtest",
		Short:         "Generate synthetic flash sale traffic against a running instance",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			title := fmt.Sprintf("loadtest %s @ %d rps", cfg.Profile, cfg.RPS)
			runFn := func(ctx context.Context) ([]string, error) {
				res, err := loadgen.Run(ctx, cfg)
				if err != nil {
					return nil, err
				}
				details := []string{
					fmt.Sprintf("total=%d failures=%d", res.TotalRequests, res.Failures),
					fmt.Sprintf("p50=%s p95=%s", res.P50, res.P95),
				}
				for class, count := range res.StatusClasses {
					details = append(details, fmt.Sprintf("%s=%d", class, count))
				}
				return details, nil
			}

			var details []string
			var err error
			if ci {
				ctx, cancel := context.WithTimeout(cmd.Context(), cfg.Duration+time.Minute)
				defer cancel()
				details, err = runFn(ctx)
				common.PrintCIResult(err == nil, title, details, err)
			} else {
				details, err = ui.Run(title, runFn)
				_ = details
			}
			return err
		},
	}

	root.Flags().StringVar(&cfg.BaseURL, "base-url", "http://localhost:8080", "API base URL")
	root.Flags().StringVar(&cfg.Profile, "profile", "mixed", "traffic profile: auth, sales, reserve or mixed")
	root.Flags().DurationVar(&cfg.Duration, "duration", 30*time.Second, "how long to run")
	root.Flags().IntVar(&cfg.RPS, "rps", 20, "target requests per second")
	root.Flags().IntVar(&cfg.Concurrency, "concurrency", 8, "worker goroutines")
	root.Flags().Int64Var(&cfg.Seed, "seed", 42, "random seed for the request mix")
	root.Flags().BoolVar(&ci, "ci", false, "non-interactive machine-readable output")

	if err := root.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
