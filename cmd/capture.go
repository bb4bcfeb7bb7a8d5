package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/kozaktomas/face-checkin/internal/camera"
	"github.com/kozaktomas/face-checkin/internal/capture"
	"github.com/kozaktomas/face-checkin/internal/checkin"
	"github.com/kozaktomas/face-checkin/internal/config"
	"github.com/kozaktomas/face-checkin/internal/database"
	"github.com/kozaktomas/face-checkin/internal/detector"
	"github.com/kozaktomas/face-checkin/internal/landmark"
)

var checkinCmd = &cobra.Command{
	Use:   "checkin",
	Short: "Check in one person at the terminal",
	Long: `Run one check-in session against a webcam or a recorded landmark stream.

Guidance is printed while the face is validated. After the countdown the
snapshot is held for review: confirm it, retake it or cancel the session.

Examples:
  face-checkin checkin --event PHYS-101
  face-checkin checkin --replay session.jsonl --yes`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runCapture(cmd, checkin.ModeCheckin)
	},
}

var enrollCmd = &cobra.Command{
	Use:   "enroll",
	Short: "Enroll a face template for a person",
	Long: `Run one enrollment session. The confirmed snapshot is stored as a new
template of the identity given by --identity, or of a new identity named --name.

Examples:
  face-checkin enroll --name "Jana Nováková"
  face-checkin enroll --identity 7f0c... --replay jana.jsonl --yes`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runCapture(cmd, checkin.ModeEnroll)
	},
}

func init() {
	rootCmd.AddCommand(checkinCmd)
	rootCmd.AddCommand(enrollCmd)

	for _, c := range []*cobra.Command{checkinCmd, enrollCmd} {
		c.Flags().String("replay", "", "Replay a recorded JSONL landmark stream instead of the webcam")
		c.Flags().Duration("interval", 0, "Delay between replayed frames (default: as fast as the session reads)")
		c.Flags().Bool("loop", false, "Restart the replay when it ends")
		c.Flags().String("device", "", "Webcam device (overrides CAMERA_DEVICE)")
		c.Flags().String("detector-url", "", "Landmark detector URL (overrides DETECTOR_URL)")
		c.Flags().String("record", "", "Write frames and detections to a JSONL recording")
		c.Flags().String("lang", "", "Guidance language, e.g. en or cs")
		c.Flags().Bool("yes", false, "Confirm the first snapshot without asking")
		c.Flags().Duration("timeout", 0, "Give up after this long (0 = no limit)")
	}
	checkinCmd.Flags().String("event", "", "Event reference recorded with the attendance, e.g. a course code")
	enrollCmd.Flags().String("name", "", "Display name of a new identity")
	enrollCmd.Flags().String("identity", "", "Existing identity ID to add a template to")
}

// reviewDecision is the operator's answer to a snapshot under review.
type reviewDecision int

const (
	decisionConfirm reviewDecision = iota
	decisionRetake
	decisionCancel
)

// parseDecision maps an answer to a decision. An empty answer confirms.
func parseDecision(answer string) (reviewDecision, bool) {
	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "", "y", "yes":
		return decisionConfirm, true
	case "r", "retake":
		return decisionRetake, true
	case "c", "n", "no", "cancel", "q":
		return decisionCancel, true
	}
	return 0, false
}

// askDecision prompts until a valid answer is read. EOF cancels.
func askDecision(readLine func() (string, error), out io.Writer) reviewDecision {
	for {
		fmt.Fprint(out, "Use this snapshot? [Y]es / [r]etake / [c]ancel: ")
		line, err := readLine()
		if d, ok := parseDecision(line); ok && (err == nil || line != "") {
			return d
		}
		if err != nil {
			fmt.Fprintln(out)
			return decisionCancel
		}
		fmt.Fprintf(out, "Unknown answer %q\n", strings.TrimSpace(line))
	}
}

// recordingDetector writes every detected frame to w before returning the detections.
func recordingDetector(det landmark.Detector, w *camera.RecordingWriter) landmark.Detector {
	return landmark.DetectorFunc(func(ctx context.Context, frame landmark.Frame) ([]landmark.Detection, error) {
		detections, err := det.Detect(ctx, frame)
		if err != nil {
			return nil, err
		}
		if err := w.Write(frame, detections, frame.Luminance); err != nil {
			log.WithError(err).Warn("Failed to write recording")
		}
		return detections, nil
	})
}

// openSource opens the replay or webcam source with a matching detector.
// The returned func releases everything opened here.
func openSource(cmd *cobra.Command, cfg *config.Config) (camera.Source, landmark.Detector, func(), error) {
	var (
		src camera.Source
		det landmark.Detector
	)
	if path := mustGetString(cmd, "replay"); path != "" {
		rec, err := camera.LoadRecording(path)
		if err != nil {
			return nil, nil, nil, err
		}
		if len(rec.Frames) == 0 {
			return nil, nil, nil, fmt.Errorf("recording %s has no frames", path)
		}
		src = camera.NewReplaySource(rec, camera.ReplayOptions{
			Interval: mustGetDuration(cmd, "interval"),
			Loop:     mustGetBool(cmd, "loop"),
		})
		det = rec.Detector()
		fmt.Printf("Replaying %d frames from %s\n", len(rec.Frames), path)
	} else {
		url := mustGetString(cmd, "detector-url")
		if url == "" {
			url = cfg.Detector.URL
		}
		if url == "" {
			return nil, nil, nil, errors.New("live capture requires a landmark detector: set DETECTOR_URL or --detector-url")
		}
		device := mustGetString(cmd, "device")
		if device == "" {
			device = cfg.Camera.Device
		}
		src = camera.NewWebcam(device, cfg.Camera.Width, cfg.Camera.Height)
		det = detector.NewHTTPDetector(url, cfg.Detector.Timeout)
		fmt.Printf("Using camera %s with detector %s\n", device, url)
	}

	closers := []func() error{src.Close}
	if path := mustGetString(cmd, "record"); path != "" {
		f, err := os.Create(path) //nolint:gosec // path is from the command line
		if err != nil {
			src.Close()
			return nil, nil, nil, fmt.Errorf("creating recording: %w", err)
		}
		det = recordingDetector(det, camera.NewRecordingWriter(f))
		closers = append(closers, f.Close)
		fmt.Printf("Recording frames to %s\n", path)
	}

	return src, det, func() {
		for _, c := range closers {
			if err := c(); err != nil {
				log.WithError(err).Debug("Close failed")
			}
		}
	}, nil
}

func sessionOptions(cmd *cobra.Command, mode checkin.Mode) checkin.SessionOptions {
	opts := checkin.SessionOptions{Mode: mode}
	if lang := mustGetString(cmd, "lang"); lang != "" {
		opts.Languages = []string{lang}
	}
	switch mode {
	case checkin.ModeCheckin:
		opts.EventRef = mustGetString(cmd, "event")
	case checkin.ModeEnroll:
		opts.Name = mustGetString(cmd, "name")
		opts.IdentityID = mustGetString(cmd, "identity")
	}
	return opts
}

func runCapture(cmd *cobra.Command, mode checkin.Mode) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	opts := sessionOptions(cmd, mode)
	if mode == checkin.ModeEnroll && opts.Name == "" && opts.IdentityID == "" {
		return errors.New("enrollment requires --name or --identity")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if timeout := mustGetDuration(cmd, "timeout"); timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	closeBackend, err := openBackend(cfg)
	if err != nil {
		return err
	}
	defer closeBackend()

	gallery, err := database.GetGalleryReader(ctx)
	if err != nil {
		return err
	}
	idx := initTemplateIndex(ctx, cfg, gallery)
	defer saveTemplateIndex()

	svc, closeSvc, err := newService(ctx, cfg, idx)
	if err != nil {
		return err
	}
	defer closeSvc()

	src, det, closeSource, err := openSource(cmd, cfg)
	if err != nil {
		return err
	}
	defer closeSource()

	sess, err := svc.NewSession(ctx, opts)
	if err != nil {
		return err
	}
	if err := sess.Attach(src, det); err != nil {
		return err
	}

	events := sess.AddListener()
	errc := make(chan error, 1)
	go func() {
		errc <- sess.Run(ctx)
	}()

	c := &terminalSession{
		session: sess,
		in:      bufio.NewReader(os.Stdin),
		out:     os.Stdout,
		yes:     mustGetBool(cmd, "yes"),
	}
	c.follow(ctx, events)

	err = <-errc
	switch {
	case errors.Is(err, checkin.ErrSourceEnded):
		return errors.New("the recording ended before a snapshot was confirmed")
	case errors.Is(err, context.DeadlineExceeded):
		return errors.New("timed out before a snapshot was confirmed")
	case errors.Is(err, context.Canceled):
		fmt.Println("Cancelled")
		return nil
	case err != nil:
		return err
	}
	return c.err
}

// terminalSession drives a session from the console.
type terminalSession struct {
	session *checkin.Session
	in      *bufio.Reader
	out     io.Writer
	yes     bool

	lastMessage string
	err         error
}

// follow prints guidance until the event stream closes.
func (c *terminalSession) follow(ctx context.Context, events <-chan checkin.Event) {
	for ev := range events {
		switch ev.Type {
		case checkin.EventOutcome:
			// Printed from the command result.
		case string(capture.EventState):
			if st, ok := ev.Data.(capture.Event); ok && st.State == capture.StateReviewing {
				c.review(ctx)
				continue
			}
			c.say(ev.Message)
		default:
			c.say(ev.Message)
		}
	}
}

func (c *terminalSession) say(msg string) {
	if msg == "" || msg == c.lastMessage {
		return
	}
	c.lastMessage = msg
	fmt.Fprintln(c.out, msg)
}

// review asks the operator about the captured snapshot and applies the answer.
func (c *terminalSession) review(ctx context.Context) {
	decision := decisionConfirm
	if !c.yes {
		decision = askDecision(func() (string, error) { return c.readLine(ctx) }, c.out)
	}

	switch decision {
	case decisionRetake:
		c.lastMessage = ""
		if err := c.session.Retake(ctx); err != nil {
			c.fail(ctx, err)
		}
	case decisionCancel:
		if ctx.Err() != nil {
			return
		}
		if err := c.session.Cancel(ctx); err != nil {
			log.WithError(err).Warn("Failed to cancel session")
		}
	case decisionConfirm:
		out, err := c.session.Confirm(ctx)
		for errors.Is(err, checkin.ErrSubmitFailed) && !c.yes && c.askRetry(ctx, err) {
			out, err = c.session.RetryRecord(ctx)
		}
		c.printOutcome(out)
		if err != nil {
			c.fail(ctx, err)
		}
	}
}

// readLine reads one answer. An interrupt while waiting ends the read.
func (c *terminalSession) readLine(ctx context.Context) (string, error) {
	type result struct {
		line string
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		line, err := c.in.ReadString('\n')
		ch <- result{line, err}
	}()
	select {
	case r := <-ch:
		return r.line, r.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (c *terminalSession) askRetry(ctx context.Context, err error) bool {
	fmt.Fprintf(c.out, "Saving failed: %v\nRetry? [Y/n]: ", err)
	line, readErr := c.readLine(ctx)
	if readErr != nil && line == "" {
		return false
	}
	d, ok := parseDecision(line)
	return ok && d == decisionConfirm
}

// fail remembers err and ends the session.
func (c *terminalSession) fail(ctx context.Context, err error) {
	c.err = err
	if cancelErr := c.session.Cancel(ctx); cancelErr != nil {
		log.WithError(cancelErr).Warn("Failed to cancel session")
	}
}

func (c *terminalSession) printOutcome(out *checkin.Outcome) {
	if out == nil {
		return
	}
	fmt.Fprintln(c.out)
	fmt.Fprintln(c.out, out.Message)
	if out.Match != nil {
		fmt.Fprintf(c.out, "  Score:     %.4f (%s, threshold %.4f, %d compared)\n",
			out.Match.Score, out.Match.Metric, out.Match.Threshold, out.Match.Compared)
	}
	if out.IdentityID != "" {
		fmt.Fprintf(c.out, "  Identity:  %s (%s)\n", out.Name, out.IdentityID)
	}
	if out.RecordID != 0 {
		fmt.Fprintf(c.out, "  Record:    #%d\n", out.RecordID)
	}
	if out.TemplateID != "" {
		fmt.Fprintf(c.out, "  Template:  %s\n", out.TemplateID)
	}
	if out.Degenerate {
		fmt.Fprintln(c.out, "  Warning:   eye landmarks coincided, features were not scaled")
	}
}
