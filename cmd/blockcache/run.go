package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/tuannm99/blockcache/internal"
	"github.com/tuannm99/blockcache/internal/bcache"
	"github.com/tuannm99/blockcache/internal/workload"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one or all access patterns",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true

		cfg, err := internal.LoadConfig(configPath)
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("cache") {
			cfg.Cache.Enabled, _ = cmd.Flags().GetBool("cache")
		}
		if cmd.Flags().Changed("capacity") {
			cfg.Cache.Capacity, _ = cmd.Flags().GetInt("capacity")
		}
		if err := cfg.Validate(); err != nil {
			return err
		}

		logger := cfg.NewLogger(os.Stderr)
		slog.SetDefault(logger)

		patternName, _ := cmd.Flags().GetString("pattern")
		workers, _ := cmd.Flags().GetInt("workers")
		seed, _ := cmd.Flags().GetUint64("seed")
		dump, _ := cmd.Flags().GetBool("dump")

		patterns := workload.All
		if patternName != "all" {
			p, err := workload.ParsePattern(patternName)
			if err != nil {
				return err
			}
			patterns = []workload.Pattern{p}
		}

		st, err := internal.OpenStack(cfg, logger)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		mode := "[Cache Disabled]"
		if st.Cache != nil {
			mode = "[Cache Enabled]"
			// Start cold, like a freshly mounted device.
			st.Cache.Flush()
		}

		opts := workload.Options{BlockSize: cfg.Cache.BlockSize, Seed: seed}
		for _, p := range patterns {
			results, err := workload.RunParallel(st.Target(), p, workers, opts)
			if err != nil {
				return fmt.Errorf("%s: %w", p, err)
			}
			printResults(out, mode, results)
		}

		if err := st.Close(); err != nil {
			return fmt.Errorf("sync cache: %w", err)
		}
		printDevice(out, st)
		if dump && st.Cache != nil {
			printSlots(out, st.Cache.Slots())
		}
		return nil
	},
}

func init() {
	runCmd.Flags().StringP("pattern", "p", "all", "random, localized, mixed, adversary or all")
	runCmd.Flags().Bool("cache", true, "put the cache in front of the device")
	runCmd.Flags().Int("capacity", 0, "override cache.capacity")
	runCmd.Flags().IntP("workers", "w", 1, "concurrent clients, each on its own block range")
	runCmd.Flags().Uint64("seed", 1, "seed for the random patterns")
	runCmd.Flags().Bool("dump", false, "print the slot table after the run")
	rootCmd.AddCommand(runCmd)
}

func printResults(w io.Writer, mode string, results []workload.Result) {
	for _, r := range results {
		fmt.Fprintf(w, "%s[%s] elapsed=%s avg read=%s avg write=%s (%d reads, %d writes)\n",
			mode, r.Pattern, r.Elapsed, r.AvgRead, r.AvgWrite, r.Reads, r.Writes)
	}
}

func printDevice(w io.Writer, st *internal.Stack) {
	if st.Mem != nil {
		fmt.Fprintf(w, "device: %d raw reads, %d raw writes\n", st.Mem.Reads(), st.Mem.Writes())
	}
	if st.Faulty != nil {
		fmt.Fprintf(w, "faults: %d reads, %d writes failed\n", st.Faulty.ReadFails(), st.Faulty.WriteFails())
	}
	if st.Cache == nil {
		return
	}
	s := st.Cache.Stats()
	fmt.Fprintf(w, "cache: hits=%d misses=%d ratio=%.3f evictions=%d write-backs=%d sync-escapes=%d\n",
		s.Hits, s.Misses, s.HitRatio(), s.Evictions, s.WriteBacks, s.SyncEscapes)
}

func printSlots(w io.Writer, slots []bcache.SlotInfo) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SLOT\tBLOCK\tREF\tDIRTY")
	for _, s := range slots {
		block := "free"
		if s.Used {
			block = fmt.Sprint(s.BlockID)
		}
		fmt.Fprintf(tw, "%d\t%s\t%t\t%t\n", s.Index, block, s.Referenced, s.Dirty)
	}
	_ = tw.Flush()
}
