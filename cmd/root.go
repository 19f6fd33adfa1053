package cmd

import (
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/wegman-software/osm2scene-go/internal/config"
	"github.com/wegman-software/osm2scene-go/internal/logger"
)

// Environment variables read after .env is loaded
const (
	envDBPassword = "OSM2SCENE_DB_PASSWORD"
	envAPIBaseURL = "OSM2SCENE_API_URL"
)

var (
	cfg        = config.DefaultConfig()
	configFile string
	envFile    string
)

var rootCmd = &cobra.Command{
	Use:   "osm2scene-go",
	Short: "Build 3D building scenes from OSM footprints",
	Long: `osm2scene-go turns the building footprints of one map tile into a 3D scene.

Features:
  - Footprints from GeoJSON or OSM PBF, read locally or from a mapping API
  - Extruded, flat-shaded building meshes on a textured floor plane
  - Imagery fitted to the tile from its metadata
  - Lua or YAML styles to pick buildings and override heights
  - Scene output as compressed msgpack, Wavefront OBJ, Parquet and PostGIS`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// A missing .env is fine
		_ = godotenv.Load(envFile)

		if configFile != "" {
			if err := loadConfigFile(cmd.Flags(), configFile); err != nil {
				return err
			}
		}
		if cfg.DBPassword == "" {
			cfg.DBPassword = os.Getenv(envDBPassword)
		}
		if v := os.Getenv(envAPIBaseURL); v != "" && !cmd.Flags().Changed("api") {
			cfg.APIBaseURL = v
		}

		logger.Init(logger.Options{Debug: cfg.Verbose, File: cfg.LogFile})
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logger.Sync()
	},
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "YAML config file (flags override its values)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Dotenv file with secrets such as "+envDBPassword)
	rootCmd.PersistentFlags().BoolVarP(&cfg.Verbose, "verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().StringVarP(&cfg.OutputDir, "output-dir", "o", cfg.OutputDir, "Directory for scene output")

	// Logging and metrics flags
	rootCmd.PersistentFlags().StringVar(&cfg.LogFile, "log-file", "", "Path to log file for persistent logging (JSON format)")
	rootCmd.PersistentFlags().DurationVar(&cfg.MetricsInterval, "metrics-interval", 30*time.Second, "Interval for system metrics logging (0 disables)")

	// Database flags (persistent so they're available to all subcommands)
	rootCmd.PersistentFlags().StringVar(&cfg.DBHost, "db-host", cfg.DBHost, "PostgreSQL host")
	rootCmd.PersistentFlags().IntVar(&cfg.DBPort, "db-port", cfg.DBPort, "PostgreSQL port")
	rootCmd.PersistentFlags().StringVarP(&cfg.DBName, "db-name", "d", cfg.DBName, "PostgreSQL database name")
	rootCmd.PersistentFlags().StringVarP(&cfg.DBUser, "db-user", "U", cfg.DBUser, "PostgreSQL user")
	rootCmd.PersistentFlags().StringVarP(&cfg.DBPassword, "db-password", "W", cfg.DBPassword, "PostgreSQL password (or "+envDBPassword+")")
	rootCmd.PersistentFlags().StringVar(&cfg.DBSchema, "db-schema", cfg.DBSchema, "PostgreSQL schema")
	rootCmd.PersistentFlags().StringVar(&cfg.DBTable, "db-table", cfg.DBTable, "PostgreSQL table for buildings")
}

// loadConfigFile merges path into cfg, then re-applies every flag set on
// the command line so flags win over the file.
func loadConfigFile(flags *pflag.FlagSet, path string) error {
	changed := map[string]string{}
	flags.Visit(func(f *pflag.Flag) {
		changed[f.Name] = f.Value.String()
	})

	if err := cfg.LoadFile(path); err != nil {
		return err
	}

	for name, value := range changed {
		if err := flags.Set(name, value); err != nil {
			return err
		}
	}
	return nil
}

func exitWithError(msg string, err error) {
	log := logger.Get()
	if err != nil {
		log.Error(msg, zap.Error(err))
	} else {
		log.Error(msg)
	}
	logger.Sync()
	os.Exit(1)
}
