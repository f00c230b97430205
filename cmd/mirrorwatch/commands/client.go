package commands

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/tangthinker/mirrorwatch/internal/backup"
	"github.com/tangthinker/mirrorwatch/internal/ipc"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the daemon's coordinator state",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		st, err := c.Status()
		if err != nil {
			return err
		}
		printStatus(st)
		return nil
	},
}

var triggerCmd = &cobra.Command{
	Use:   "trigger [payload]",
	Short: "Inject a change event as if one had arrived from the source",
	Long: `Trigger feeds a synthetic change event into the running daemon. It is
debounced like any other event, so the backup starts one quiet period after
the last event.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		payload := ""
		if len(args) == 1 {
			payload = args[0]
		}
		st, err := c.Trigger(payload)
		if err != nil {
			return err
		}
		fmt.Println("Event accepted")
		printStatus(st)
		return nil
	},
}

var historyLimit int

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recent backup runs",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		runs, err := c.History(historyLimit)
		if err != nil {
			return err
		}
		printRuns(runs)
		return nil
	},
}

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 10, "number of runs to show (0 for all)")
}

func printStatus(st ipc.Status) {
	format := "%-16s %s\n"
	fmt.Printf(format, "STATE", st.State)
	fmt.Printf(format, "SOURCE", st.Source)
	fmt.Printf(format, "READY", fmt.Sprint(st.Ready))
	fmt.Printf(format, "QUIET PERIOD", st.QuietPeriod)
	fmt.Printf(format, "PENDING EVENTS", fmt.Sprint(st.PendingEvents))
	fmt.Printf(format, "LAST EVENT", formatTime(st.LastEvent))
	fmt.Printf(format, "DEBOUNCED RUNS", fmt.Sprint(st.Runs))
}

func printRuns(runs []backup.Run) {
	if len(runs) == 0 {
		fmt.Println("No backup runs recorded")
		return
	}

	format := "%-8s\t%-10s\t%-25s\t%-10s\t%-8s\t%-12s\n"
	fmt.Printf(format, "ID", "TRIGGER", "STARTED", "DURATION", "FILES", "RESULT")
	for _, r := range runs {
		result := "ok"
		if !r.Success() {
			result = "failed"
		}
		fmt.Printf(format,
			shortID(r.ID),
			r.Trigger,
			formatTime(r.StartedAt),
			r.Duration().Round(time.Millisecond),
			fmt.Sprint(r.Files),
			result,
		)
		if !r.Success() {
			fmt.Printf("  Error: %s\n", r.Err)
		}
	}
}

func shortID(id string) string {
	if i := strings.IndexByte(id, '-'); i > 0 {
		return id[:i]
	}
	return id
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format(time.RFC3339)
}
