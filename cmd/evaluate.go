package cmd

import (
	"cmp"
	"encoding/json"
	"fmt"
	"os"
	"slices"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/kozaktomas/face-checkin/internal/camera"
	"github.com/kozaktomas/face-checkin/internal/quality"
)

var evaluateCmd = &cobra.Command{
	Use:   "evaluate <recording>",
	Short: "Run the quality gate over a recorded landmark stream",
	Long: `Evaluate every frame of a JSONL recording with the configured quality
thresholds and summarize why frames were rejected. Useful for tuning a
threshold profile against footage from a real terminal.

Examples:
  face-checkin evaluate session.jsonl
  THRESHOLDS_PROFILE=strict face-checkin evaluate session.jsonl --json`,
	Args: cobra.ExactArgs(1),
	RunE: runEvaluate,
}

func init() {
	rootCmd.AddCommand(evaluateCmd)

	evaluateCmd.Flags().Bool("json", false, "Output as JSON")
	evaluateCmd.Flags().Bool("require-open-eyes", false, "Also require open eyes")
}

// ReasonCount is the number of frames rejected for one reason.
type ReasonCount struct {
	Reason quality.Reason `json:"reason"`
	Frames int            `json:"frames"`
}

// EvaluationSummary aggregates gate reports over a recording.
type EvaluationSummary struct {
	Profile     string        `json:"profile"`
	Frames      int           `json:"frames"`
	Valid       int           `json:"valid"`
	LongestRun  int           `json:"longest_valid_run"`
	WouldFire   bool          `json:"would_capture"`
	Rejections  []ReasonCount `json:"rejections"`
	Violations  int           `json:"contract_violations"`
	NeededTicks int           `json:"countdown_ticks"`
}

// summarize folds reports in frame order. A capture needs as many consecutive
// valid frames as there are countdown ticks when frames arrive once per tick.
func summarize(reports []quality.Report, ticks int) EvaluationSummary {
	s := EvaluationSummary{Frames: len(reports), NeededTicks: ticks}
	counts := make(map[quality.Reason]int)
	run := 0
	for _, r := range reports {
		if r.Violation != quality.ViolationNone {
			s.Violations++
		}
		if r.Valid {
			s.Valid++
			run++
			s.LongestRun = max(s.LongestRun, run)
			continue
		}
		run = 0
		counts[r.Reason]++
	}
	for reason, n := range counts {
		s.Rejections = append(s.Rejections, ReasonCount{Reason: reason, Frames: n})
	}
	slices.SortFunc(s.Rejections, func(a, b ReasonCount) int {
		if c := cmp.Compare(b.Frames, a.Frames); c != 0 {
			return c
		}
		return cmp.Compare(a.Reason, b.Reason)
	})
	s.WouldFire = ticks > 0 && s.LongestRun >= ticks
	return s
}

func runEvaluate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	jsonOutput := mustGetBool(cmd, "json")

	rec, err := camera.LoadRecording(args[0])
	if err != nil {
		return err
	}

	qcfg := cfg.Thresholds.Quality
	if mustGetBool(cmd, "require-open-eyes") {
		qcfg.RequireOpenEyes = true
	}
	gate := quality.NewGate(qcfg)

	var bar *progressbar.ProgressBar
	if !jsonOutput {
		bar = progressbar.NewOptions(len(rec.Frames),
			progressbar.OptionSetDescription("Evaluating frames"),
			progressbar.OptionShowCount(),
			progressbar.OptionShowIts(),
			progressbar.OptionSetItsString("frames"),
			progressbar.OptionShowElapsedTimeOnFinish(),
			progressbar.OptionFullWidth(),
		)
	}

	reports := make([]quality.Report, 0, len(rec.Frames))
	for _, f := range rec.Frames {
		reports = append(reports, gate.Evaluate(f.Frame(), f.Detections))
		if bar != nil {
			_ = bar.Add(1)
		}
	}
	if bar != nil {
		_ = bar.Finish()
		fmt.Println()
	}

	summary := summarize(reports, cfg.Thresholds.Capture.CountdownTicks)
	summary.Profile = cfg.Thresholds.Profile

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(summary)
	}

	fmt.Printf("Profile:            %s\n", summary.Profile)
	fmt.Printf("Frames:             %d\n", summary.Frames)
	if summary.Frames > 0 {
		fmt.Printf("Valid:              %d (%.1f%%)\n", summary.Valid, 100*float64(summary.Valid)/float64(summary.Frames))
	}
	fmt.Printf("Longest valid run:  %d (countdown needs %d)\n", summary.LongestRun, summary.NeededTicks)
	if summary.WouldFire {
		fmt.Println("Capture:            yes")
	} else {
		fmt.Println("Capture:            no")
	}
	if summary.Violations > 0 {
		fmt.Printf("Contract violations: %d\n", summary.Violations)
	}
	if len(summary.Rejections) > 0 {
		fmt.Println("\nRejected frames:")
		for _, rc := range summary.Rejections {
			fmt.Printf("  %-18s %d\n", rc.Reason, rc.Frames)
		}
	}
	return nil
}
