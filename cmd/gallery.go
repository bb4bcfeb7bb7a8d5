package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/schollz/progressbar/v3"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/kozaktomas/face-checkin/internal/camera"
	"github.com/kozaktomas/face-checkin/internal/config"
	"github.com/kozaktomas/face-checkin/internal/database"
	"github.com/kozaktomas/face-checkin/internal/facematch"
	"github.com/kozaktomas/face-checkin/internal/landmark"
	"github.com/kozaktomas/face-checkin/internal/quality"
)

var galleryCmd = &cobra.Command{
	Use:   "gallery",
	Short: "Manage enrolled identities and templates",
}

var galleryListCmd = &cobra.Command{
	Use:   "list",
	Short: "List enrolled identities",
	Args:  cobra.NoArgs,
	RunE:  runGalleryList,
}

var galleryImportCmd = &cobra.Command{
	Use:   "import <recording>...",
	Short: "Enroll templates from recorded landmark streams",
	Long: `Enroll one template per recording. The first frame that passes the quality
gate is normalized and stored. Without --name or --identity the identity name
is taken from the file name, and an existing identity with the same normalized
name receives the template.

Examples:
  face-checkin gallery import jana_novakova.jsonl petr_svoboda.jsonl
  face-checkin gallery import --name "Jana Nováková" jana-*.jsonl`,
	Args: cobra.MinimumNArgs(1),
	RunE: runGalleryImport,
}

var galleryDeleteCmd = &cobra.Command{
	Use:   "delete <identity-id>",
	Short: "Delete an identity and its templates",
	Args:  cobra.ExactArgs(1),
	RunE:  runGalleryDelete,
}

var galleryReindexCmd = &cobra.Command{
	Use:   "reindex",
	Short: "Rebuild the template HNSW index",
	Args:  cobra.NoArgs,
	RunE:  runGalleryReindex,
}

func init() {
	rootCmd.AddCommand(galleryCmd)
	galleryCmd.AddCommand(galleryListCmd, galleryImportCmd, galleryDeleteCmd, galleryReindexCmd)

	galleryListCmd.Flags().Bool("json", false, "Output as JSON")
	galleryImportCmd.Flags().String("name", "", "Identity name for all recordings")
	galleryImportCmd.Flags().String("identity", "", "Existing identity ID for all recordings")
}

// withGallery opens the backend and the template index for a gallery command.
func withGallery(cfg *config.Config, fn func(ctx context.Context, gallery database.GalleryWriter, idx *database.IndexedGallery) error) error {
	closeBackend, err := openBackend(cfg)
	if err != nil {
		return err
	}
	defer closeBackend()

	ctx := context.Background()
	gallery, err := database.GetGalleryWriter(ctx)
	if err != nil {
		return err
	}
	idx := &database.IndexedGallery{
		Index:   database.NewTemplateIndex(cfg.Thresholds.Match.Metric),
		Gallery: gallery,
		Path:    cfg.Database.HNSWIndexPath,
	}
	return fn(ctx, gallery, idx)
}

type identityOutput struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	TemplateCount int       `json:"template_count"`
	CreatedAt     time.Time `json:"created_at"`
}

func runGalleryList(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	jsonOutput := mustGetBool(cmd, "json")
	return withGallery(cfg, func(ctx context.Context, gallery database.GalleryWriter, _ *database.IndexedGallery) error {
		identities, err := gallery.ListIdentities(ctx)
		if err != nil {
			return fmt.Errorf("listing identities: %w", err)
		}

		if jsonOutput {
			out := make([]identityOutput, len(identities))
			for i, id := range identities {
				out[i] = identityOutput{ID: id.ID, Name: id.Name, TemplateCount: id.TemplateCount, CreatedAt: id.CreatedAt}
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(out)
		}

		if len(identities) == 0 {
			fmt.Println("No identities enrolled")
			return nil
		}
		fmt.Printf("%-36s  %-30s  %9s  %s\n", "ID", "NAME", "TEMPLATES", "CREATED")
		for _, id := range identities {
			fmt.Printf("%-36s  %-30s  %9d  %s\n", id.ID, id.Name, id.TemplateCount, id.CreatedAt.Format(time.DateOnly))
		}
		fmt.Printf("\nTotal: %d identities\n", len(identities))
		return nil
	})
}

// firstValidFace returns the face of the first frame that passes the gate.
func firstValidFace(gate *quality.Gate, rec *camera.Recording) (landmark.Detection, uint64, bool) {
	for _, f := range rec.Frames {
		report := gate.Evaluate(f.Frame(), f.Detections)
		if report.Valid && report.Face != nil {
			return *report.Face, f.Seq, true
		}
	}
	return landmark.Detection{}, 0, false
}

// nameFromPath turns "jana_novakova.jsonl" into "jana novakova".
func nameFromPath(path string) string {
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	base = strings.NewReplacer("_", " ", "-", " ").Replace(base)
	return strings.Join(strings.Fields(base), " ")
}

// importIdentity resolves the identity a recording is enrolled under.
func importIdentity(ctx context.Context, gallery database.GalleryReader, identityID, name string) (database.Identity, error) {
	if identityID != "" {
		existing, err := gallery.GetIdentity(ctx, identityID)
		if err != nil {
			return database.Identity{}, fmt.Errorf("identity %s: %w", identityID, err)
		}
		return *existing, nil
	}
	existing, err := gallery.FindIdentityByName(ctx, name)
	switch {
	case err == nil:
		return *existing, nil
	case !errors.Is(err, database.ErrIdentityNotFound):
		return database.Identity{}, fmt.Errorf("looking up %q: %w", name, err)
	}
	return database.NewIdentity(uuid.NewString(), name), nil
}

func runGalleryImport(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	name := mustGetString(cmd, "name")
	identityID := mustGetString(cmd, "identity")

	return withGallery(cfg, func(ctx context.Context, gallery database.GalleryWriter, idx *database.IndexedGallery) error {
		if _, err := idx.LoadOrRebuild(ctx); err != nil {
			log.WithError(err).Warn("Failed to load template index")
		}

		gate := quality.NewGate(cfg.Thresholds.Quality)
		normalizer := facematch.NewNormalizer(cfg.Thresholds.Quality.Layout, nil)

		bar := progressbar.NewOptions(len(args),
			progressbar.OptionSetDescription("Enrolling"),
			progressbar.OptionShowCount(),
			progressbar.OptionShowIts(),
			progressbar.OptionSetItsString("recordings"),
			progressbar.OptionShowElapsedTimeOnFinish(),
			progressbar.OptionSetPredictTime(true),
			progressbar.OptionFullWidth(),
		)

		var enrolled, skipped int
		var failures []string
		for _, path := range args {
			_ = bar.Add(1)

			rec, err := camera.LoadRecording(path)
			if err != nil {
				failures = append(failures, fmt.Sprintf("%s: %v", path, err))
				continue
			}
			face, seq, ok := firstValidFace(gate, rec)
			if !ok {
				skipped++
				failures = append(failures, path+": no frame passed the quality gate")
				continue
			}
			vec, degenerate := normalizer.Normalize(face.Landmarks)
			if degenerate {
				skipped++
				failures = append(failures, path+": eye landmarks coincide")
				continue
			}

			personName := name
			if personName == "" {
				personName = nameFromPath(path)
			}
			identity, err := importIdentity(ctx, gallery, identityID, personName)
			if err != nil {
				failures = append(failures, fmt.Sprintf("%s: %v", path, err))
				continue
			}
			tmpl, err := gallery.Enroll(ctx, identity, database.EnrolledTemplate{
				Vector: vec.Float32(),
				Dim:    len(vec),
			})
			if err != nil {
				failures = append(failures, fmt.Sprintf("%s: %v", path, err))
				continue
			}
			if err := idx.Index.Add(*tmpl); err != nil {
				log.WithError(err).WithField("template_id", tmpl.ID).Warn("Failed to index template")
			}
			enrolled++
			log.WithFields(log.Fields{
				"file":     path,
				"frame":    seq,
				"identity": identity.ID,
				"template": tmpl.ID,
			}).Debug("Template enrolled")
		}
		_ = bar.Finish()
		fmt.Println()

		if err := idx.SaveIndex(); err != nil {
			fmt.Printf("Warning: failed to save template index: %v\n", err)
		}

		fmt.Printf("Enrolled: %d, skipped: %d, failed: %d\n", enrolled, skipped, len(failures)-skipped)
		for _, f := range failures {
			fmt.Printf("  %s\n", f)
		}
		if enrolled == 0 {
			return errors.New("no templates enrolled")
		}
		return nil
	})
}

func runGalleryDelete(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	return withGallery(cfg, func(ctx context.Context, gallery database.GalleryWriter, idx *database.IndexedGallery) error {
		deleted, err := gallery.DeleteIdentity(ctx, args[0])
		if err != nil {
			return fmt.Errorf("deleting identity: %w", err)
		}

		if idx.Path != "" {
			if _, err := idx.LoadOrRebuild(ctx); err != nil {
				fmt.Printf("Warning: failed to update template index: %v\n", err)
			}
		}
		fmt.Printf("Deleted identity %s with %d templates\n", args[0], len(deleted))
		return nil
	})
}

func runGalleryReindex(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	return withGallery(cfg, func(ctx context.Context, _ database.GalleryWriter, idx *database.IndexedGallery) error {
		start := time.Now()
		if err := idx.RebuildIndex(ctx); err != nil {
			return err
		}
		if err := idx.SaveIndex(); err != nil {
			return fmt.Errorf("saving index: %w", err)
		}
		fmt.Printf("Indexed %d templates in %s\n", idx.IndexCount(), time.Since(start).Round(time.Millisecond))
		if idx.Path == "" {
			fmt.Println("HNSW_INDEX_PATH is not set, the index was not persisted")
		}
		return nil
	})
}
