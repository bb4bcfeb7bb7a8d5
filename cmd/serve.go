package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/kozaktomas/face-checkin/internal/database"
	"github.com/kozaktomas/face-checkin/internal/detector"
	"github.com/kozaktomas/face-checkin/internal/landmark"
	"github.com/kozaktomas/face-checkin/internal/web"
	"github.com/kozaktomas/face-checkin/internal/web/handlers"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the web server",
	Long: `Start the Face Check-in API server.
Kiosk front-ends create capture sessions, stream frames with landmarks (or raw
images when a landmark detector is configured) and follow guidance over SSE.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().Int("port", 0, "Port to listen on (overrides WEB_PORT)")
	serveCmd.Flags().String("host", "", "Host to bind to (overrides WEB_HOST)")
}

// saveTemplateIndex persists the template index during shutdown.
func saveTemplateIndex() {
	rebuilder := database.GetIndexRebuilder()
	if rebuilder == nil {
		return
	}
	if err := rebuilder.SaveIndex(); err != nil {
		fmt.Printf("Warning: failed to save template index: %v\n", err)
		return
	}
	fmt.Println("Template index saved to disk")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if port := mustGetInt(cmd, "port"); port > 0 {
		cfg.Web.Port = port
	}
	if host := mustGetString(cmd, "host"); host != "" {
		cfg.Web.Host = host
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	closeBackend, err := openBackend(cfg)
	if err != nil {
		return err
	}
	defer closeBackend()
	fmt.Printf("Using %s backend\n", database.BackendName())

	gallery, err := database.GetGalleryReader(ctx)
	if err != nil {
		return err
	}
	idx := initTemplateIndex(ctx, cfg, gallery)

	svc, closeSvc, err := newService(ctx, cfg, idx)
	if err != nil {
		return err
	}
	defer closeSvc()

	var det landmark.Detector
	if cfg.Detector.URL != "" {
		det = detector.NewHTTPDetector(cfg.Detector.URL, cfg.Detector.Timeout)
		fmt.Printf("Landmark detection enabled (%s)\n", cfg.Detector.URL)
	}
	var remover handlers.TemplateRemover
	if idx != nil {
		remover = idx.Index
	}

	server := web.NewServer(cfg, svc, det, remover)

	errc := make(chan error, 1)
	go func() {
		errc <- server.Start()
	}()

	fmt.Printf("Starting Face Check-in API on http://%s:%d\n", cfg.Web.Host, cfg.Web.Port)
	fmt.Println("Press Ctrl+C to stop")

	select {
	case err := <-errc:
		if err != nil {
			return fmt.Errorf("starting server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	fmt.Println("\nShutting down...")
	saveTemplateIndex()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("Error during shutdown")
	}
	return nil
}
