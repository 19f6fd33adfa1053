package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/wegman-software/osm2scene-go/internal/building"
	"github.com/wegman-software/osm2scene-go/internal/config"
	"github.com/wegman-software/osm2scene-go/internal/flex"
	"github.com/wegman-software/osm2scene-go/internal/logger"
	"github.com/wegman-software/osm2scene-go/internal/parquet"
	"github.com/wegman-software/osm2scene-go/internal/pipeline"
	"github.com/wegman-software/osm2scene-go/internal/postgis"
	"github.com/wegman-software/osm2scene-go/internal/proj"
	"github.com/wegman-software/osm2scene-go/internal/scene"
	"github.com/wegman-software/osm2scene-go/internal/style"
)

var (
	bboxStr       string
	projectionStr string
)

var buildCmd = &cobra.Command{
	Use:   "build",
	Short: "Load one tile and build its 3D scene",
	Long: `Load the building footprints, imagery and imagery metadata of one tile and
build its scene:

  1. Start the three reads (local files with --geometry, else the mapping API)
  2. Build extruded building meshes and the floor plane once geometry arrives
  3. Fit the imagery to the tile once image and metadata have both settled
  4. Write the scene (msgpack), and optionally OBJ, Parquet and PostGIS

The failure policy decides what happens when a read fails: "settle" builds
the scene without imagery, "stall" waits until the load timeout.`,
	Args: cobra.NoArgs,
	Run:  runBuild,
}

func init() {
	rootCmd.AddCommand(buildCmd)

	f := buildCmd.Flags()
	f.StringVarP(&bboxStr, "bbox", "b", "", "Tile bounds: minlon,minlat,maxlon,maxlat (default "+config.DefaultBBox+")")
	f.StringVar(&cfg.APIBaseURL, "api", cfg.APIBaseURL, "Mapping API base URL")
	f.StringVar(&cfg.GeometryFile, "geometry", "", "Local footprint file (GeoJSON or OSM PBF)")
	f.StringVar(&cfg.ImageFile, "image", "", "Local imagery file (PNG or JPEG)")
	f.StringVar(&cfg.MetadataFile, "metadata", "", "Local imagery metadata file (JSON)")
	f.StringVar(&cfg.CacheDir, "cache-dir", "", "Cache API responses in this directory")
	f.DurationVar(&cfg.FetchTimeout, "fetch-timeout", cfg.FetchTimeout, "Timeout per API request")
	f.IntVar(&cfg.FetchRetries, "fetch-retries", cfg.FetchRetries, "Retries per API request")
	f.StringVarP(&cfg.StyleFile, "style", "S", "", "Style file: YAML filter config or Lua script")
	f.Float64Var(&cfg.MetersPerLevel, "meters-per-level", cfg.MetersPerLevel, "Height of one building level in meters")
	f.StringVarP(&projectionStr, "projection", "E", "4326", "Footprint SRID for PostGIS (4326 or 3857)")
	f.DurationVar(&cfg.TickInterval, "tick", cfg.TickInterval, "Scheduler tick interval")
	f.DurationVar(&cfg.LoadTimeout, "timeout", cfg.LoadTimeout, "Give up when the load has not completed after this long")
	f.StringVar(&cfg.FailurePolicy, "failure-policy", cfg.FailurePolicy, "Gate behaviour on failed reads: settle or stall")
	f.BoolVar(&cfg.WriteOBJ, "obj", cfg.WriteOBJ, "Also write a Wavefront OBJ file")
	f.BoolVar(&cfg.WriteParquet, "parquet", cfg.WriteParquet, "Also write buildings to Parquet")
	f.BoolVar(&cfg.PostGIS, "postgis", cfg.PostGIS, "Also load buildings into PostGIS")
	f.BoolVar(&cfg.DropTable, "drop-existing", cfg.DropTable, "Drop the PostGIS table before loading")
}

func runBuild(cmd *cobra.Command, args []string) {
	log := logger.Get()

	if bboxStr != "" {
		bbox, err := config.ParseBBox(bboxStr)
		if err != nil {
			exitWithError("invalid bbox", err)
		}
		cfg.BBox = bbox
	}

	if cmd.Flags().Changed("projection") {
		srid, err := proj.ParseSRID(projectionStr)
		if err != nil {
			exitWithError("invalid projection", err)
		}
		cfg.Projection = srid
	}

	if err := cfg.Validate(); err != nil {
		exitWithError("invalid configuration", err)
	}

	st, hook, err := loadStyle(cfg.StyleFile, !cmd.Flags().Changed("meters-per-level"))
	if err != nil {
		exitWithError("failed to load style", err)
	}
	if closer, ok := hook.(*flex.Runtime); ok {
		defer closer.Close()
	}

	logFields := []zap.Field{
		zap.Stringer("bbox", *cfg.BBox),
		zap.String("output", cfg.OutputDir),
		zap.String("policy", cfg.FailurePolicy),
		zap.Int("projection", cfg.Projection),
	}
	if cfg.UseLocalFiles() {
		logFields = append(logFields, zap.String("geometry", cfg.GeometryFile))
	} else {
		logFields = append(logFields, zap.String("api", cfg.APIBaseURL))
	}
	if cfg.StyleFile != "" {
		logFields = append(logFields, zap.String("style", cfg.StyleFile))
	}
	log.Info("Starting osm2scene-go build", logFields...)

	coordinator, err := pipeline.NewCoordinator(cfg, st, hook, nil)
	if err != nil {
		exitWithError("failed to create pipeline", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	totalStart := time.Now()
	res, err := coordinator.Run(ctx)
	if err != nil {
		exitWithError("scene load failed", err)
	}

	if err := writeOutputs(ctx, res.Scene); err != nil {
		exitWithError("failed to write scene", err)
	}

	objects, vertices, triangles := res.Scene.Stats()
	log.Info("Build complete",
		zap.Duration("total_time", time.Since(totalStart).Round(time.Millisecond)),
		zap.Int("buildings", res.Buildings.Built),
		zap.Int("skipped", res.Buildings.Skipped),
		zap.Int("failed", res.Buildings.Failed),
		zap.Int("objects", objects),
		zap.Int("vertices", vertices),
		zap.Int("triangles", triangles),
		zap.Bool("textured", res.Scene.Texture != nil),
	)
}

// loadStyle reads a YAML style or a Lua script. A YAML style may name a
// script of its own and, when useStyleHeight is set, supplies the meters per
// level. The hook is nil when no script is used.
func loadStyle(path string, useStyleHeight bool) (*style.Config, building.Hook, error) {
	if path == "" {
		return style.DefaultConfig(), nil, nil
	}

	st := style.DefaultConfig()
	script := path
	if !strings.EqualFold(filepath.Ext(path), ".lua") {
		var err error
		if st, err = style.LoadConfig(path); err != nil {
			return nil, nil, err
		}
		if useStyleHeight && st.MetersPerLevel > 0 {
			cfg.MetersPerLevel = st.MetersPerLevel
		}
		script = st.Script
	}
	if script == "" {
		return st, nil, nil
	}

	rt := flex.NewRuntime(cfg.MetersPerLevel)
	if err := rt.LoadFile(script); err != nil {
		rt.Close()
		return nil, nil, err
	}
	logger.Get().Info("Using Lua style", zap.String("script", script))
	return st, rt, nil
}

// writeOutputs writes the scene file and every enabled export in parallel
func writeOutputs(ctx context.Context, s *scene.Scene) error {
	log := logger.Get()

	if err := os.MkdirAll(cfg.OutputDir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := scene.SaveFile(cfg.ScenePath(), s); err != nil {
			return err
		}
		log.Info("Wrote scene", zap.String("path", cfg.ScenePath()))
		return nil
	})

	if cfg.WriteOBJ {
		g.Go(func() error {
			if err := scene.WriteOBJFile(cfg.OBJPath(), s); err != nil {
				return err
			}
			log.Info("Wrote OBJ", zap.String("path", cfg.OBJPath()))
			return nil
		})
	}

	if cfg.WriteParquet {
		g.Go(func() error {
			n, err := parquet.WriteSceneFile(cfg.ParquetPath(), s)
			if err != nil {
				return err
			}
			log.Info("Wrote Parquet", zap.String("path", cfg.ParquetPath()), zap.Int("rows", n))
			return nil
		})
	}

	if cfg.PostGIS {
		g.Go(func() error {
			loader, err := postgis.NewLoader(gctx, cfg)
			if err != nil {
				return err
			}
			defer loader.Close()

			n, err := loader.Load(gctx, s)
			if err != nil {
				return err
			}
			log.Info("Loaded PostGIS", zap.String("table", cfg.DBSchema+"."+cfg.DBTable), zap.Int64("rows", n))
			return nil
		})
	}

	return g.Wait()
}
