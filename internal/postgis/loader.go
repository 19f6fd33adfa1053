// Package postgis loads the buildings of a scene into a PostGIS table: the
// footprint as a polygon and the extruded mesh as a TIN Z.
package postgis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/wegman-software/osm2scene-go/internal/config"
	"github.com/wegman-software/osm2scene-go/internal/logger"
	"github.com/wegman-software/osm2scene-go/internal/scene"
	"github.com/wegman-software/osm2scene-go/internal/wkb"
)

// Columns is the COPY column order of the building table
var Columns = []string{
	"id", "source_id", "name", "material", "levels", "height", "tags", "footprint", "mesh",
}

// Loader loads scene buildings into PostgreSQL
type Loader struct {
	cfg  *config.Config
	pool *pgxpool.Pool
}

// NewLoader connects to PostgreSQL
func NewLoader(ctx context.Context, cfg *config.Config) (*Loader, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}
	poolConfig.MaxConns = 2

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}

	return &Loader{cfg: cfg, pool: pool}, nil
}

// Close closes all database connections
func (l *Loader) Close() error {
	l.pool.Close()
	return nil
}

func (l *Loader) tableName() string {
	return pgx.Identifier{l.cfg.DBSchema, l.cfg.DBTable}.Sanitize()
}

// EnsureSchema creates the PostGIS extension and schema if needed
func (l *Loader) EnsureSchema(ctx context.Context) error {
	if _, err := l.pool.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS postgis"); err != nil {
		return fmt.Errorf("failed to create PostGIS extension: %w", err)
	}

	if l.cfg.DBSchema != "public" {
		schema := pgx.Identifier{l.cfg.DBSchema}.Sanitize()
		if _, err := l.pool.Exec(ctx, "CREATE SCHEMA IF NOT EXISTS "+schema); err != nil {
			return fmt.Errorf("failed to create schema: %w", err)
		}
	}

	return nil
}

// PrepareTable creates the building table, or empties it
func (l *Loader) PrepareTable(ctx context.Context) error {
	table := l.tableName()

	if l.cfg.DropTable {
		if _, err := l.pool.Exec(ctx, fmt.Sprintf("DROP TABLE IF EXISTS %s CASCADE", table)); err != nil {
			return fmt.Errorf("failed to drop table: %w", err)
		}
	}

	if _, err := l.pool.Exec(ctx, CreateTableSQL(table, l.cfg.Projection)); err != nil {
		return fmt.Errorf("failed to create table: %w", err)
	}

	if _, err := l.pool.Exec(ctx, fmt.Sprintf("TRUNCATE %s", table)); err != nil {
		return fmt.Errorf("failed to truncate table: %w", err)
	}
	return nil
}

// CreateTableSQL returns the DDL of the building table
func CreateTableSQL(table string, srid int) string {
	if srid == 0 {
		srid = wkb.SRID4326
	}
	return fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			source_id TEXT NOT NULL,
			name TEXT,
			material TEXT,
			levels INTEGER,
			height DOUBLE PRECISION,
			tags JSONB,
			footprint GEOMETRY(Polygon, %d),
			mesh GEOMETRY(TinZ, %d)
		)
	`, table, srid, wkb.SRID3857)
}

// LoadScene copies every building of s into the table
func (l *Loader) LoadScene(ctx context.Context, s *scene.Scene) (int64, error) {
	log := logger.Get()
	start := time.Now()

	src := NewRowSource(s, l.cfg.Projection)
	count, err := l.pool.CopyFrom(ctx, pgx.Identifier{l.cfg.DBSchema, l.cfg.DBTable}, Columns, src)
	if err != nil {
		return 0, fmt.Errorf("COPY failed: %w", err)
	}

	log.Info("Buildings loaded",
		zap.String("table", l.cfg.DBTable),
		zap.Int64("rows", count),
		zap.Duration("elapsed", time.Since(start)))
	return count, nil
}

// CreateIndexes creates spatial indexes and analyzes the table
func (l *Loader) CreateIndexes(ctx context.Context) error {
	log := logger.Get()
	table := l.tableName()

	log.Info("Creating indexes", zap.String("table", l.cfg.DBTable))

	for _, col := range []string{"footprint", "mesh"} {
		idx := pgx.Identifier{fmt.Sprintf("%s_%s_idx", l.cfg.DBTable, col)}.Sanitize()
		stmt := fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s USING GIST (%s)", idx, table, col)
		if _, err := l.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create GIST index on %s: %w", col, err)
		}
	}

	if _, err := l.pool.Exec(ctx, fmt.Sprintf("ANALYZE %s", table)); err != nil {
		return fmt.Errorf("failed to analyze table: %w", err)
	}
	return nil
}

// Load runs the whole export: schema, table, copy, indexes
func (l *Loader) Load(ctx context.Context, s *scene.Scene) (int64, error) {
	if err := l.EnsureSchema(ctx); err != nil {
		return 0, err
	}
	if err := l.PrepareTable(ctx); err != nil {
		return 0, err
	}
	n, err := l.LoadScene(ctx, s)
	if err != nil {
		return 0, err
	}
	return n, l.CreateIndexes(ctx)
}

// RowSource implements pgx.CopyFromSource over the buildings of a scene.
// Meshes are placed in absolute Web Mercator meters using the tile center.
type RowSource struct {
	objects   []*scene.Object
	origin    r3.Vec
	footprint *wkb.Encoder
	mesh      *wkb.Encoder
	pos       int
	current   []any
}

// NewRowSource creates a row source; srid is the footprint projection
func NewRowSource(s *scene.Scene, srid int) *RowSource {
	c := s.TileBounds.Center()
	return &RowSource{
		objects:   s.Buildings,
		origin:    r3.Vec{X: c.X, Z: c.Z},
		footprint: wkb.NewEncoderWithSRID(1024, srid),
		mesh:      wkb.NewEncoder(4096),
		pos:       -1,
	}
}

func (r *RowSource) Next() bool {
	r.pos++
	if r.pos >= len(r.objects) {
		return false
	}
	r.current = r.row(r.objects[r.pos])
	return true
}

func (r *RowSource) Values() ([]any, error) {
	return r.current, nil
}

func (r *RowSource) Err() error {
	return nil
}

func (r *RowSource) row(o *scene.Object) []any {
	// The encoders reuse their buffers, so the rows keep copies
	var footprint, mesh []byte
	if b := r.footprint.EncodeFootprint(o.Footprint); b != nil {
		footprint = append([]byte(nil), b...)
	}
	if b := r.mesh.EncodeTIN(o.Mesh, r3.Add(r.origin, o.Offset)); b != nil {
		mesh = append([]byte(nil), b...)
	}

	return []any{
		o.ID,
		o.SourceID,
		o.Name,
		o.Material,
		int32(o.Levels),
		o.Height,
		tagsJSON(o.Tags),
		footprint,
		mesh,
	}
}

func tagsJSON(tags map[string]string) string {
	if len(tags) == 0 {
		return "{}"
	}
	b, err := json.Marshal(tags)
	if err != nil {
		return "{}"
	}
	return string(b)
}
