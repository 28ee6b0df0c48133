// Command chainsyncd is the daemon's operator CLI: one-shot sync/status/
// mempool inspection commands plus the mining loop driver (spec.md §6).
package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"chainsyncd/internal/app"
)

func main() {
	rootCmd := &cobra.Command{Use: "chainsyncd"}
	rootCmd.AddCommand(
		syncCmd(),
		statusCmd(),
		mempoolCmd(),
		syncMempoolCmd(),
		enhancedMempoolCmd(),
		mineCmd(),
		mineSimpleCmd(),
		mineOnceCmd(),
	)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func build() (*app.App, error) {
	selfHostPort, _ := os.Hostname()
	return app.Build(selfHostPort)
}

func syncCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "run one C->D->E->F->G->H replication round",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := build()
			if err != nil {
				return err
			}
			defer a.Store.Close()
			res, err := a.Scheduler.RunRound(context.Background())
			if err != nil {
				return err
			}
			a.Logger.WithField("result", fmt.Sprintf("%+v", res)).Info("sync round complete")
			return nil
		},
	}
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "print local tip height and the currently best-ranked peer",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := build()
			if err != nil {
				return err
			}
			defer a.Store.Close()
			ctx := context.Background()

			height, ok, err := a.Store.MaxHeight(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("local_tip: height=%d has_blocks=%v\n", height, ok)

			best, err := a.Selector.Best(ctx)
			if err != nil {
				fmt.Printf("best_peer: none (%v)\n", err)
				return nil
			}
			fmt.Printf("best_peer: base=%s height=%d latency_ms=%d\n", best.BaseURL, best.Height, best.LatencyMS)
			return nil
		},
	}
}

func mempoolCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mempool",
		Short: "print mempool entry counts by status",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := build()
			if err != nil {
				return err
			}
			defer a.Store.Close()
			summary, err := a.Store.MempoolStatusSummary(context.Background())
			if err != nil {
				return err
			}
			for status, n := range summary {
				fmt.Printf("%s: %d\n", status, n)
			}
			return nil
		},
	}
}

func syncMempoolCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync-mempool",
		Short: "pull pending mempool entries from the best peer",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := build()
			if err != nil {
				return err
			}
			defer a.Store.Close()
			ctx := context.Background()
			best, err := a.Selector.Best(ctx)
			if err != nil {
				return err
			}
			n, err := a.Aux.SyncMempool(ctx, best.BaseURL)
			if err != nil {
				return err
			}
			fmt.Printf("pulled %d mempool entries from %s\n", n, best.BaseURL)
			return nil
		},
	}
}

func enhancedMempoolCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "enhanced-mempool",
		Short: "pull mempool entries from the best peer, then run the janitor sweep",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := build()
			if err != nil {
				return err
			}
			defer a.Store.Close()
			ctx := context.Background()

			best, err := a.Selector.Best(ctx)
			if err == nil {
				if n, err := a.Aux.SyncMempool(ctx, best.BaseURL); err == nil {
					fmt.Printf("pulled %d mempool entries from %s\n", n, best.BaseURL)
				} else {
					a.Logger.WithField("err", err).Warn("mempool pull failed, proceeding to janitor sweep anyway")
				}
			} else {
				a.Logger.WithField("err", err).Warn("no peer available for mempool pull")
			}

			res, err := a.Janitor.Sweep(ctx, time.Now())
			if err != nil {
				return err
			}
			fmt.Printf("janitor: %+v\n", res)
			return nil
		},
	}
}

// parseMiningArgs applies optional [interval_s] [max_tx] positional overrides
// onto the loaded config, matching spec.md §6's `mine [interval_s] [max_tx]`
// and `mine-simple [interval_s] [max_tx]` forms.
func parseMiningArgs(a *app.App, args []string) error {
	if len(args) > 0 {
		v, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("interval_s: %w", err)
		}
		a.Config.MiningIntervalS = v
	}
	if len(args) > 1 {
		v, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("max_tx: %w", err)
		}
		a.Config.MiningMaxTx = v
	}
	return nil
}

// runMiningLoop drives Tick on a fixed cadence until interrupted. The state
// machine's own slot/interval gating (spec.md §4.I) decides whether any
// given tick actually mines; this just supplies the wall-clock cadence
// spec.md §5 describes ("mining leader check every 5s").
func runMiningLoop(a *app.App) error {
	ctx := context.Background()
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		state, err := a.Mining.Tick(ctx)
		if err != nil {
			a.Logger.WithField("err", err).Warn("mining tick reported an error")
		} else {
			a.Logger.WithField("state", state).Debug("mining tick")
		}
		<-ticker.C
	}
}

func mineCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mine [interval_s] [max_tx]",
		Short: "run the full PoS mining loop (leader election, sync guard, broadcast)",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := build()
			if err != nil {
				return err
			}
			defer a.Store.Close()
			if err := parseMiningArgs(a, args); err != nil {
				return err
			}
			return runMiningLoop(a)
		},
	}
}

func mineSimpleCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mine-simple [interval_s] [max_tx]",
		Short: "run the mining loop (alias of mine, kept for operator muscle memory)",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := build()
			if err != nil {
				return err
			}
			defer a.Store.Close()
			if err := parseMiningArgs(a, args); err != nil {
				return err
			}
			return runMiningLoop(a)
		},
	}
}

func mineOnceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mine-once",
		Short: "run a single mining tick and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := build()
			if err != nil {
				return err
			}
			defer a.Store.Close()
			state, err := a.Mining.Tick(context.Background())
			if err != nil {
				return err
			}
			fmt.Printf("state: %s\n", state)
			return nil
		},
	}
}
