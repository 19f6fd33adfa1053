package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/wegman-software/osm2scene-go/internal/building"
	"github.com/wegman-software/osm2scene-go/internal/config"
	"github.com/wegman-software/osm2scene-go/internal/geom"
	"github.com/wegman-software/osm2scene-go/internal/logger"
	"github.com/wegman-software/osm2scene-go/internal/parquet"
	"github.com/wegman-software/osm2scene-go/internal/pipeline"
	"github.com/wegman-software/osm2scene-go/internal/scene"
	"github.com/wegman-software/osm2scene-go/internal/source"
	"github.com/wegman-software/osm2scene-go/internal/style"
)

var extractParquet string

var extractCmd = &cobra.Command{
	Use:   "extract <footprints.geojson|input.osm.pbf>",
	Short: "Build building meshes from a footprint file without imagery",
	Long: `Parse a GeoJSON or OSM PBF footprint file and build its building meshes
offline, without the scheduler or any imagery. Useful to check a style or a
data extract before a full build.

Without --bbox every building is kept and the tile is the bounds of all
footprints.`,
	Args: cobra.ExactArgs(1),
	Run:  runExtract,
}

func init() {
	rootCmd.AddCommand(extractCmd)

	extractCmd.Flags().StringVarP(&bboxStr, "bbox", "b", "", "Keep only buildings in minlon,minlat,maxlon,maxlat")
	extractCmd.Flags().StringVarP(&cfg.StyleFile, "style", "S", "", "Style file: YAML filter config or Lua script")
	extractCmd.Flags().Float64Var(&cfg.MetersPerLevel, "meters-per-level", cfg.MetersPerLevel, "Height of one building level in meters")
	extractCmd.Flags().StringVar(&extractParquet, "parquet", "", "Write the buildings to this Parquet file")
}

func runExtract(cmd *cobra.Command, args []string) {
	path := args[0]
	log := logger.Get()
	ctx := context.Background()

	var bbox *config.BBox
	if bboxStr != "" {
		var err error
		if bbox, err = config.ParseBBox(bboxStr); err != nil {
			exitWithError("invalid bbox", err)
		}
	}

	st, hook, err := loadStyle(cfg.StyleFile, !cmd.Flags().Changed("meters-per-level"))
	if err != nil {
		exitWithError("failed to load style", err)
	}
	if closer, ok := hook.(interface{ Close() }); ok {
		defer closer.Close()
	}

	start := time.Now()
	data, err := os.ReadFile(path)
	if err != nil {
		exitWithError("failed to read footprints", err)
	}
	log.Info("Starting extraction",
		zap.String("input", path),
		zap.String("size", pipeline.FormatBytes(int64(len(data)))))

	features, err := source.ParseBuildings(ctx, path, data, bbox, style.NewFilter(st.Buildings))
	if err != nil {
		exitWithError("failed to parse footprints", err)
	}

	tileBox, tile, err := extractTile(bbox, features)
	if err != nil {
		exitWithError("no tile", err)
	}

	p := building.New(building.Options{
		MetersPerLevel: cfg.MetersPerLevel,
		Material:       st.Materials.Building,
		Hook:           hook,
	})
	objs, stats := p.Process(features, tile)

	if extractParquet != "" {
		s := scene.New(tileBox, tile)
		s.AddBuildings(objs...)
		n, err := parquet.WriteSceneFile(extractParquet, s)
		if err != nil {
			exitWithError("failed to write Parquet", err)
		}
		log.Info("Wrote Parquet", zap.String("path", extractParquet), zap.Int("rows", n))
	}

	elapsed := time.Since(start)
	log.Info("Extraction complete",
		zap.Duration("duration", elapsed.Round(time.Millisecond)),
		zap.Int("features", stats.Features),
		zap.Int("built", stats.Built),
		zap.Int("skipped", stats.Skipped),
		zap.Int("failed", stats.Failed),
		zap.Int("vertices", stats.Vertices),
		zap.Int("triangles", stats.Triangles),
		zap.String("rate", pipeline.FormatThroughput(stats.Features, elapsed)),
	)
}

// extractTile returns the tile to build against: bbox when given, else the
// bounds of every footprint
func extractTile(bbox *config.BBox, features []*source.BuildingFeature) (config.BBox, geom.AABB, error) {
	if bbox != nil && bbox.IsSet {
		return *bbox, building.TileAABB(*bbox), nil
	}

	out := config.BBox{IsSet: true, MinLon: 180, MinLat: 90, MaxLon: -180, MaxLat: -90}
	found := false
	for _, f := range features {
		for _, g := range f.OuterRing() {
			out.MinLon, out.MaxLon = min(out.MinLon, g.Lon), max(out.MaxLon, g.Lon)
			out.MinLat, out.MaxLat = min(out.MinLat, g.Lat), max(out.MaxLat, g.Lat)
			found = true
		}
	}
	if !found {
		return config.BBox{}, geom.AABB{}, fmt.Errorf("no building footprints found")
	}
	return out, building.TileAABB(out), nil
}
