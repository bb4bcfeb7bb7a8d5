package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/face-checkin/internal/database"
)

var attendanceCmd = &cobra.Command{
	Use:   "attendance",
	Short: "Query recorded attendance",
}

var attendanceListCmd = &cobra.Command{
	Use:   "list",
	Short: "List attendance records, newest first",
	Long: `List attendance records, newest first.

Examples:
  face-checkin attendance list --event PHYS-101
  face-checkin attendance list --since 2026-09-01 --limit 500 --json`,
	Args: cobra.NoArgs,
	RunE: runAttendanceList,
}

func init() {
	rootCmd.AddCommand(attendanceCmd)
	attendanceCmd.AddCommand(attendanceListCmd)

	attendanceListCmd.Flags().String("identity", "", "Only records of this identity ID")
	attendanceListCmd.Flags().String("event", "", "Only records of this event reference")
	attendanceListCmd.Flags().String("since", "", "Only records at or after this time (RFC 3339 or YYYY-MM-DD)")
	attendanceListCmd.Flags().Int("limit", 100, "Maximum number of records (0 = all)")
	attendanceListCmd.Flags().Bool("json", false, "Output as JSON")
}

// parseSinceFlag accepts RFC 3339 timestamps and plain dates in local time.
func parseSinceFlag(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t, nil
	}
	t, err := time.ParseInLocation(time.DateOnly, value, time.Local)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid --since %q: expected RFC 3339 or YYYY-MM-DD", value)
	}
	return t, nil
}

type attendanceOutput struct {
	ID         int64     `json:"id"`
	IdentityID string    `json:"identity_id"`
	Name       string    `json:"name"`
	EventRef   string    `json:"event_ref,omitempty"`
	Score      float64   `json:"score"`
	Metric     string    `json:"metric"`
	RecordedAt time.Time `json:"recorded_at"`
}

func runAttendanceList(cmd *cobra.Command, args []string) error {
	since, err := parseSinceFlag(mustGetString(cmd, "since"))
	if err != nil {
		return err
	}
	limit := mustGetInt(cmd, "limit")
	if limit < 0 {
		return fmt.Errorf("invalid --limit %d", limit)
	}
	filter := database.AttendanceFilter{
		IdentityID: mustGetString(cmd, "identity"),
		EventRef:   mustGetString(cmd, "event"),
		Since:      since,
		Limit:      limit,
	}
	jsonOutput := mustGetBool(cmd, "json")

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	closeBackend, err := openBackend(cfg)
	if err != nil {
		return err
	}
	defer closeBackend()

	ctx := context.Background()
	reader, err := database.GetAttendanceReader(ctx)
	if err != nil {
		return err
	}
	records, err := reader.ListAttendance(ctx, filter)
	if err != nil {
		return fmt.Errorf("listing attendance: %w", err)
	}

	if jsonOutput {
		out := make([]attendanceOutput, len(records))
		for i, r := range records {
			out[i] = attendanceOutput{
				ID:         r.ID,
				IdentityID: r.IdentityID,
				Name:       r.Name,
				EventRef:   r.EventRef,
				Score:      r.Score,
				Metric:     r.Metric,
				RecordedAt: r.RecordedAt,
			}
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}

	if len(records) == 0 {
		fmt.Println("No attendance records")
		return nil
	}
	fmt.Printf("%-6s  %-19s  %-30s  %-12s  %s\n", "ID", "RECORDED", "NAME", "EVENT", "SCORE")
	for _, r := range records {
		fmt.Printf("%-6d  %-19s  %-30s  %-12s  %.4f (%s)\n",
			r.ID, r.RecordedAt.Local().Format(time.DateTime), r.Name, r.EventRef, r.Score, r.Metric)
	}
	fmt.Printf("\nShown: %d records\n", len(records))
	return nil
}
