package cli

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/eden-portal/eden/internal/app/ledger"
	"github.com/eden-portal/eden/internal/domain"
)

func init() {
	rootCmd.AddCommand(ledgerCmd)
	ledgerCmd.AddCommand(ledgerBuildingCmd)
	ledgerCmd.AddCommand(ledgerFlatCmd)
	ledgerCmd.PersistentFlags().String("from", "", "Start date YYYY-MM-DD (inclusive)")
	ledgerCmd.PersistentFlags().String("to", "", "End date YYYY-MM-DD (exclusive)")

	rootCmd.AddCommand(duesCmd)
	duesCmd.AddCommand(duesGenerateCmd)
	duesCmd.AddCommand(duesReportCmd)
	duesReportCmd.Flags().String("month", "", "Month YYYY-MM (default all months)")

	rootCmd.AddCommand(backupCmd)
	backupCmd.AddCommand(backupExportCmd)
	backupCmd.AddCommand(backupImportCmd)
	backupExportCmd.Flags().StringP("output", "o", "", "Write to file instead of stdout")

	rootCmd.AddCommand(restorePointCmd)
}

// ─── ledger ─────────────────────────────────────────────────────────────────

var ledgerCmd = &cobra.Command{
	Use:   "ledger",
	Short: "Print running-balance ledgers",
}

var ledgerBuildingCmd = &cobra.Command{
	Use:   "building",
	Short: "Building cash ledger: confirmed payments against paid expenses",
	RunE: func(cmd *cobra.Command, args []string) error {
		rng, err := rangeFlags(cmd)
		if err != nil {
			return err
		}
		sup, err := openOffline()
		if err != nil {
			return err
		}
		defer sup.Close()
		reg := sup.Registry()
		printLedger(os.Stdout, ledger.Building(reg.Payments.Get(), reg.Expenses.Get(), rng))
		return nil
	},
}

var ledgerFlatCmd = &cobra.Command{
	Use:   "flat FLAT_ID",
	Short: "A flat's statement: dues charged against payments received",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rng, err := rangeFlags(cmd)
		if err != nil {
			return err
		}
		sup, err := openOffline()
		if err != nil {
			return err
		}
		defer sup.Close()
		reg := sup.Registry()
		flats := reg.Flats.Get()
		i := domain.FindFlat(flats, args[0])
		if i < 0 {
			return fmt.Errorf("%s: %w", args[0], domain.ErrFlatNotFound)
		}
		printLedger(os.Stdout, ledger.Flat(flats[i], reg.Payments.Get(), rng))
		return nil
	},
}

func rangeFlags(cmd *cobra.Command) (ledger.Range, error) {
	var rng ledger.Range
	for name, dst := range map[string]*time.Time{"from": &rng.From, "to": &rng.To} {
		v, _ := cmd.Flags().GetString(name)
		if v == "" {
			continue
		}
		t, err := time.Parse("2006-01-02", v)
		if err != nil {
			return rng, fmt.Errorf("--%s: want YYYY-MM-DD", name)
		}
		*dst = t
	}
	return rng, nil
}

func printLedger(w io.Writer, l ledger.Ledger) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "DATE\tID\tDESCRIPTION\tDEBIT\tCREDIT\tBALANCE\t")
	fmt.Fprintf(tw, "\t\tOpening balance\t\t\t%s\t\n", humanize.Comma(l.Opening))
	for _, r := range l.Rows {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t\n",
			r.Date.Format("2006-01-02"), r.ID, r.Label,
			amountCell(r.Debit), amountCell(r.Credit), humanize.Comma(r.Balance))
	}
	fmt.Fprintf(tw, "\t\tTotals\t%s\t%s\t%s\t\n",
		humanize.Comma(l.TotalDebit), humanize.Comma(l.TotalCredit), humanize.Comma(l.Closing))
	tw.Flush()
}

func amountCell(v int64) string {
	if v == 0 {
		return "-"
	}
	return humanize.Comma(v)
}

// ─── dues ───────────────────────────────────────────────────────────────────

var duesCmd = &cobra.Command{
	Use:   "dues",
	Short: "Monthly maintenance dues",
}

var duesGenerateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Add this month's dues and recurring expenses now",
	Long: `Run the monthly automation once. Flats that already carry this month's
due are skipped, and recurring expenses are filed only on the month's
first run.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		sup, err := openOffline()
		if err != nil {
			return err
		}
		defer sup.Close()
		run, err := sup.Registry().GenerateMonthlyDues(time.Now())
		if err != nil {
			return err
		}
		if run.AlreadyRan && run.DuesCreated == 0 {
			fmt.Fprintf(os.Stdout, "Dues for %s are already generated.\n", run.Month)
			return nil
		}
		fmt.Fprintf(os.Stdout, "✅ %s: %d dues, %d recurring expenses\n",
			run.Month, run.DuesCreated, run.ExpensesCreated)
		return nil
	},
}

var duesReportCmd = &cobra.Command{
	Use:   "report",
	Short: "Collection summary across flats",
	RunE: func(cmd *cobra.Command, args []string) error {
		month, _ := cmd.Flags().GetString("month")
		if month != "" {
			if _, err := time.Parse("2006-01", month); err != nil {
				return fmt.Errorf("--month: want YYYY-MM")
			}
		}
		sup, err := openOffline()
		if err != nil {
			return err
		}
		defer sup.Close()
		rep := ledger.Report(sup.Registry().Flats.Get(), month)

		label := rep.Month
		if label == "" {
			label = "all months"
		}
		fmt.Fprintf(os.Stdout, "Dues report (%s), %d flats\n", label, rep.Flats)
		fmt.Fprintf(os.Stdout, "  Billed:      %s\n", domain.FormatPKR(rep.Billed))
		fmt.Fprintf(os.Stdout, "  Collected:   %s (%s%%)\n", domain.FormatPKR(rep.Collected), rep.CollectionRate.StringFixed(2))
		fmt.Fprintf(os.Stdout, "  Outstanding: %s\n", domain.FormatPKR(rep.Outstanding))
		if len(rep.Defaulters) > 0 {
			fmt.Fprintf(os.Stdout, "  Defaulters:  %v\n", rep.Defaulters)
		}
		return nil
	},
}

// ─── backup ─────────────────────────────────────────────────────────────────

var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Export or import a JSON snapshot of every slice",
}

var backupExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write a snapshot of the local state",
	RunE: func(cmd *cobra.Command, args []string) error {
		sup, err := openOffline()
		if err != nil {
			return err
		}
		defer sup.Close()
		snap, err := sup.Registry().Export()
		if err != nil {
			return err
		}
		out, _ := cmd.Flags().GetString("output")
		if out == "" {
			_, err = os.Stdout.Write(snap)
			return err
		}
		if err := os.WriteFile(out, snap, 0600); err != nil {
			return fmt.Errorf("write snapshot: %w", err)
		}
		fmt.Fprintf(os.Stderr, "✅ Snapshot written to %s (%s)\n", out, humanize.Bytes(uint64(len(snap))))
		return nil
	},
}

var backupImportCmd = &cobra.Command{
	Use:   "import FILE",
	Short: "Apply a snapshot to the local state",
	Long: `Apply a snapshot produced by 'eden backup export'. Each slice is
validated on its own; fields that fail are reported and the rest are
still applied. Missing and null fields are left unchanged.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("read snapshot: %w", err)
		}
		sup, err := openOffline()
		if err != nil {
			return err
		}
		defer sup.Close()
		applied, err := sup.Registry().Import(data)
		fmt.Fprintf(os.Stdout, "Applied %d slices\n", len(applied))
		return err
	},
}

// ─── restore-point ──────────────────────────────────────────────────────────

var restorePointCmd = &cobra.Command{
	Use:   "restore-point",
	Short: "Snapshot the current state as the crash restore point",
	RunE: func(cmd *cobra.Command, args []string) error {
		sup, err := openOffline()
		if err != nil {
			return err
		}
		defer sup.Close()
		if err := sup.CreateRestorePoint(); err != nil {
			return err
		}
		fmt.Fprintln(os.Stdout, "✅ Restore point created")
		return nil
	},
}
