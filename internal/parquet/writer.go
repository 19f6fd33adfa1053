// Package parquet exports the building table of a scene to GeoParquet-style
// files: one row per building with its footprint as WKB.
package parquet

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/apache/arrow/go/v14/arrow"
	"github.com/apache/arrow/go/v14/arrow/array"
	"github.com/apache/arrow/go/v14/arrow/memory"
	"github.com/apache/arrow/go/v14/parquet"
	"github.com/apache/arrow/go/v14/parquet/compress"
	"github.com/apache/arrow/go/v14/parquet/pqarrow"

	"github.com/wegman-software/osm2scene-go/internal/scene"
	"github.com/wegman-software/osm2scene-go/internal/wkb"
)

// DefaultBatchSize is the number of rows buffered before a record batch is written
const DefaultBatchSize = 10000

// Column indexes in BuildingSchema
const (
	colID = iota
	colName
	colSourceID
	colMaterial
	colLevels
	colHeight
	colOffsetX
	colOffsetZ
	colVertices
	colTriangles
	colTags
	colFootprint
)

// BuildingSchema is the Arrow schema of the building table
var BuildingSchema = arrow.NewSchema([]arrow.Field{
	{Name: "id", Type: arrow.BinaryTypes.String, Nullable: false},
	{Name: "name", Type: arrow.BinaryTypes.String, Nullable: false},
	{Name: "source_id", Type: arrow.BinaryTypes.String, Nullable: false},
	{Name: "material", Type: arrow.BinaryTypes.String, Nullable: false},
	{Name: "levels", Type: arrow.PrimitiveTypes.Int32, Nullable: false},
	{Name: "height", Type: arrow.PrimitiveTypes.Float64, Nullable: false},
	{Name: "offset_x", Type: arrow.PrimitiveTypes.Float64, Nullable: false},
	{Name: "offset_z", Type: arrow.PrimitiveTypes.Float64, Nullable: false},
	{Name: "vertices", Type: arrow.PrimitiveTypes.Int32, Nullable: false},
	{Name: "triangles", Type: arrow.PrimitiveTypes.Int32, Nullable: false},
	{Name: "tags", Type: arrow.BinaryTypes.String, Nullable: false},
	{Name: "footprint_wkb", Type: arrow.BinaryTypes.Binary, Nullable: true},
}, nil)

// TagsToJSON converts tags to a JSON object string
func TagsToJSON(tags map[string]string) string {
	if len(tags) == 0 {
		return "{}"
	}
	b, err := json.Marshal(tags)
	if err != nil {
		return "{}"
	}
	return string(b)
}

// BuildingWriter writes building rows to a zstd-compressed Parquet file
type BuildingWriter struct {
	file      *os.File
	writer    *pqarrow.FileWriter
	builder   *array.RecordBuilder
	encoder   *wkb.Encoder
	batchSize int
	count     int
	total     int
}

// NewBuildingWriter creates a building Parquet writer
func NewBuildingWriter(path string, batchSize int) (*BuildingWriter, error) {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}

	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}

	writerProps := parquet.NewWriterProperties(
		parquet.WithCompression(compress.Codecs.Zstd),
		parquet.WithDictionaryDefault(false),
	)

	writer, err := pqarrow.NewFileWriter(BuildingSchema, f, writerProps, pqarrow.DefaultWriterProps())
	if err != nil {
		f.Close()
		return nil, err
	}

	return &BuildingWriter{
		file:      f,
		writer:    writer,
		builder:   array.NewRecordBuilder(memory.DefaultAllocator, BuildingSchema),
		encoder:   wkb.NewEncoder(1024),
		batchSize: batchSize,
	}, nil
}

// Write appends one building row
func (w *BuildingWriter) Write(o *scene.Object) error {
	b := w.builder
	b.Field(colID).(*array.StringBuilder).Append(o.ID)
	b.Field(colName).(*array.StringBuilder).Append(o.Name)
	b.Field(colSourceID).(*array.StringBuilder).Append(o.SourceID)
	b.Field(colMaterial).(*array.StringBuilder).Append(o.Material)
	b.Field(colLevels).(*array.Int32Builder).Append(int32(o.Levels))
	b.Field(colHeight).(*array.Float64Builder).Append(o.Height)
	b.Field(colOffsetX).(*array.Float64Builder).Append(o.Offset.X)
	b.Field(colOffsetZ).(*array.Float64Builder).Append(o.Offset.Z)

	var verts, tris int
	if o.Mesh != nil {
		verts, tris = len(o.Mesh.Vertices), len(o.Mesh.Triangles)
	}
	b.Field(colVertices).(*array.Int32Builder).Append(int32(verts))
	b.Field(colTriangles).(*array.Int32Builder).Append(int32(tris))
	b.Field(colTags).(*array.StringBuilder).Append(TagsToJSON(o.Tags))

	fp := b.Field(colFootprint).(*array.BinaryBuilder)
	if geom := w.encoder.EncodeFootprint(o.Footprint); geom != nil {
		fp.Append(geom)
	} else {
		fp.AppendNull()
	}

	w.count++
	w.total++
	if w.count >= w.batchSize {
		return w.flush()
	}
	return nil
}

// WriteScene writes every building of s
func (w *BuildingWriter) WriteScene(s *scene.Scene) error {
	for _, o := range s.Buildings {
		if err := w.Write(o); err != nil {
			return fmt.Errorf("failed to write building %s: %w", o.ID, err)
		}
	}
	return nil
}

// Count returns the number of rows written
func (w *BuildingWriter) Count() int {
	return w.total
}

func (w *BuildingWriter) flush() error {
	if w.count == 0 {
		return nil
	}
	rec := w.builder.NewRecord()
	defer rec.Release()
	err := w.writer.Write(rec)
	w.count = 0
	return err
}

// Close flushes pending rows and closes the file
func (w *BuildingWriter) Close() error {
	defer w.builder.Release()
	if err := w.flush(); err != nil {
		w.writer.Close()
		return err
	}
	if err := w.writer.Close(); err != nil {
		w.file.Close()
		return err
	}
	if err := w.file.Close(); err != nil && !errors.Is(err, os.ErrClosed) {
		return err
	}
	return nil
}

// WriteSceneFile writes the buildings of s to path
func WriteSceneFile(path string, s *scene.Scene) (int, error) {
	w, err := NewBuildingWriter(path, DefaultBatchSize)
	if err != nil {
		return 0, err
	}
	if err := w.WriteScene(s); err != nil {
		w.Close()
		return 0, err
	}
	if err := w.Close(); err != nil {
		return 0, err
	}
	return w.Count(), nil
}
