package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/cbdata/internal/source"
)

var sourcesCmd = &cobra.Command{
	Use:   "sources",
	Short: "Inspect and reset upstream source health",
}

var sourcesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List configured sources and their health",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		st, err := initStore(ctx, cfg)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		reg := source.FromConfig(cfg.Sources)
		reg.Load(ctx, st)
		formatSources(os.Stdout, reg.All())
		return nil
	},
}

var sourcesResetCmd = &cobra.Command{
	Use:   "reset [source-id...]",
	Short: "Clear error counters and reactivate sources (all when none given)",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		st, err := initStore(ctx, cfg)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		reg := source.FromConfig(cfg.Sources)
		reg.Load(ctx, st)
		if err := resetSources(reg, args); err != nil {
			return err
		}
		if err := reg.Save(ctx, st); err != nil {
			return eris.Wrap(err, "sources reset")
		}
		formatSources(os.Stdout, reg.All())
		return nil
	},
}

var sourcesMaintenanceCmd = &cobra.Command{
	Use:   "maintenance <source-id...>",
	Short: "Take sources out of rotation until they are reset",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		st, err := initStore(ctx, cfg)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		reg := source.FromConfig(cfg.Sources)
		reg.Load(ctx, st)
		if err := setMaintenance(reg, args); err != nil {
			return err
		}
		if err := reg.Save(ctx, st); err != nil {
			return eris.Wrap(err, "sources maintenance")
		}
		formatSources(os.Stdout, reg.All())
		return nil
	},
}

func init() {
	sourcesCmd.AddCommand(sourcesListCmd)
	sourcesCmd.AddCommand(sourcesResetCmd)
	sourcesCmd.AddCommand(sourcesMaintenanceCmd)
	rootCmd.AddCommand(sourcesCmd)
}

// resetSources resets the named sources, or every source when ids is empty.
// Sources in maintenance are left alone unless named.
func resetSources(reg *source.Registry, ids []string) error {
	if len(ids) == 0 {
		for _, s := range reg.All() {
			if s.Status == source.StatusMaintenance {
				continue
			}
			ids = append(ids, s.ID)
		}
	}
	for _, id := range ids {
		if err := reg.Reset(id); err != nil {
			return err
		}
	}
	return nil
}

// setMaintenance puts every named source into maintenance.
func setMaintenance(reg *source.Registry, ids []string) error {
	for _, id := range ids {
		if err := reg.SetStatus(id, source.StatusMaintenance); err != nil {
			return err
		}
	}
	return nil
}

// formatSources writes a tabular list of sources to out.
func formatSources(out io.Writer, sources []source.Source) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tPRIORITY\tSTATUS\tERRORS\tLAST_SUCCESS\tLAST_ERROR")
	_, _ = fmt.Fprintln(w, "--\t--------\t------\t------\t------------\t----------")
	for _, s := range sources {
		last := "-"
		if s.LastSuccess != nil {
			last = s.LastSuccess.Local().Format(time.DateTime)
		}
		lastErr := s.LastError
		if len(lastErr) > 40 {
			lastErr = lastErr[:37] + "..."
		}
		_, _ = fmt.Fprintf(w, "%s\t%d\t%s\t%d/%d\t%s\t%s\n",
			s.ID, s.Priority, s.Status, s.ErrorCount, s.MaxRetries, last, lastErr)
	}
	_ = w.Flush()
}
