package cmd

import (
	"context"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/wegman-software/osm2scene-go/internal/logger"
	"github.com/wegman-software/osm2scene-go/internal/proj"
	"github.com/wegman-software/osm2scene-go/internal/scene"
)

var exportCmd = &cobra.Command{
	Use:   "export <scene.msgpack.zst>",
	Short: "Re-export a saved scene to OBJ, Parquet or PostGIS",
	Long: `Load a scene written by build and write it again, for example to load it
into PostGIS later or to refresh the OBJ file. The scene file itself is
rewritten to the output directory.`,
	Args: cobra.ExactArgs(1),
	Run:  runExport,
}

func init() {
	rootCmd.AddCommand(exportCmd)

	exportCmd.Flags().StringVarP(&projectionStr, "projection", "E", "4326", "Footprint SRID for PostGIS (4326 or 3857)")
	exportCmd.Flags().BoolVar(&cfg.WriteOBJ, "obj", cfg.WriteOBJ, "Write a Wavefront OBJ file")
	exportCmd.Flags().BoolVar(&cfg.WriteParquet, "parquet", cfg.WriteParquet, "Write buildings to Parquet")
	exportCmd.Flags().BoolVar(&cfg.PostGIS, "postgis", cfg.PostGIS, "Load buildings into PostGIS")
	exportCmd.Flags().BoolVar(&cfg.DropTable, "drop-existing", cfg.DropTable, "Drop the PostGIS table before loading")
}

func runExport(cmd *cobra.Command, args []string) {
	log := logger.Get()
	start := time.Now()

	if cmd.Flags().Changed("projection") {
		srid, err := proj.ParseSRID(projectionStr)
		if err != nil {
			exitWithError("invalid projection", err)
		}
		cfg.Projection = srid
	}

	s, err := scene.LoadFile(args[0])
	if err != nil {
		exitWithError("failed to load scene", err)
	}
	cfg.BBox = &s.Tile

	if err := writeOutputs(context.Background(), s); err != nil {
		exitWithError("failed to export scene", err)
	}

	objects, vertices, triangles := s.Stats()
	log.Info("Export complete",
		zap.String("input", args[0]),
		zap.Stringer("bbox", s.Tile),
		zap.Int("objects", objects),
		zap.Int("vertices", vertices),
		zap.Int("triangles", triangles),
		zap.Duration("duration", time.Since(start).Round(time.Millisecond)),
	)
}
