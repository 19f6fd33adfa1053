// Package pipeline runs one gated scene load: it starts the geometry, image
// and metadata reads, builds meshes when the geometry arrives, fits the
// imagery once both image inputs have settled and finishes when everything
// has.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/wegman-software/osm2scene-go/internal/building"
	"github.com/wegman-software/osm2scene-go/internal/config"
	"github.com/wegman-software/osm2scene-go/internal/fetch"
	"github.com/wegman-software/osm2scene-go/internal/logger"
	"github.com/wegman-software/osm2scene-go/internal/metrics"
	"github.com/wegman-software/osm2scene-go/internal/scene"
	"github.com/wegman-software/osm2scene-go/internal/sched"
	"github.com/wegman-software/osm2scene-go/internal/source"
	"github.com/wegman-software/osm2scene-go/internal/style"
)

// Gate and task names
const (
	TaskGeometry = "geometry"
	TaskImage    = "image"
	TaskMetadata = "metadata"

	GateImageData  = "Image Data Loading"
	GateAllLoading = "All Loading"
)

// Sources are the three inputs of a load
type Sources struct {
	Geometry sched.Operation
	Image    sched.Operation
	Metadata sched.Operation
	// GeometryName helps detect the footprint format (file name or URL)
	GeometryName string
}

// Result is the outcome of a load
type Result struct {
	Scene     *scene.Scene
	Buildings building.Stats
	// ImageErr is set when the imagery could not be fitted; the scene then
	// has no texture
	ImageErr error
	Ticks    int
	Elapsed  time.Duration
}

// Coordinator orchestrates a scene load
type Coordinator struct {
	cfg      *config.Config
	style    *style.Config
	hook     building.Hook
	reporter Reporter
	fetcher  *fetch.Fetcher
}

// NewCoordinator creates a coordinator. A nil style uses the default
// building style and a nil reporter logs progress.
func NewCoordinator(cfg *config.Config, st *style.Config, hook building.Hook, reporter Reporter) (*Coordinator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if _, err := sched.ParseFailurePolicy(cfg.FailurePolicy); err != nil {
		return nil, err
	}
	if st == nil {
		st = style.DefaultConfig()
	}
	if reporter == nil {
		reporter = NewLogReporter(logger.Get())
	}

	opts := fetch.DefaultOptions()
	opts.CacheDir = cfg.CacheDir
	if cfg.FetchTimeout > 0 {
		opts.Timeout = cfg.FetchTimeout
	}
	if cfg.FetchRetries > 0 {
		opts.MaxRetries = cfg.FetchRetries
	}
	if cfg.RetryDelay > 0 {
		opts.RetryDelay = cfg.RetryDelay
	}

	return &Coordinator{
		cfg:      cfg,
		style:    st,
		hook:     hook,
		reporter: reporter,
		fetcher:  fetch.NewFetcher(opts),
	}, nil
}

// Open starts reading the three inputs, from local files when configured
// and from the mapping API otherwise
func (c *Coordinator) Open(ctx context.Context) Sources {
	log := logger.Get()

	if c.cfg.UseLocalFiles() {
		log.Info("Reading local inputs",
			zap.String("geometry", c.cfg.GeometryFile),
			zap.String("image", c.cfg.ImageFile),
			zap.String("metadata", c.cfg.MetadataFile))
		return Sources{
			Geometry:     fetch.ReadFile(ctx, c.cfg.GeometryFile),
			Image:        fetch.ReadFile(ctx, c.cfg.ImageFile),
			Metadata:     fetch.ReadFile(ctx, c.cfg.MetadataFile),
			GeometryName: c.cfg.GeometryFile,
		}
	}

	endpoint := fetch.NewEndpoint(c.cfg.APIBaseURL)
	tile := *c.cfg.BBox
	log.Info("Fetching tile", zap.String("api", endpoint.BaseURL), zap.Stringer("bbox", tile))
	return Sources{
		Geometry:     c.fetcher.Start(ctx, endpoint.GeometryURL(tile)),
		Image:        c.fetcher.Start(ctx, endpoint.ImageURL(tile)),
		Metadata:     c.fetcher.Start(ctx, endpoint.MetadataURL(tile)),
		GeometryName: endpoint.GeometryURL(tile),
	}
}

// Run opens the inputs and loads them, sampling system metrics alongside
// when a metrics interval is configured
func (c *Coordinator) Run(ctx context.Context) (*Result, error) {
	log := logger.Get()

	g, gctx := errgroup.WithContext(ctx)
	loadCtx, cancelLoad := context.WithCancel(gctx)
	defer cancelLoad()

	var result *Result
	g.Go(func() error {
		// Stops the metrics sampler once the load is over
		defer cancelLoad()
		var err error
		result, err = c.Load(loadCtx, c.Open(loadCtx))
		return err
	})

	if c.cfg.MetricsInterval > 0 {
		var probe metrics.Probe
		if lr, ok := c.reporter.(*LogReporter); ok {
			probe = func() []zap.Field { return []zap.Field{zap.Int("progress", lr.Percent())} }
		}
		collector := metrics.NewCollector(c.cfg.MetricsInterval, log, probe)
		g.Go(func() error { return collector.Start(loadCtx) })
		log.Info("System metrics collection started", zap.Duration("interval", c.cfg.MetricsInterval))
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return result, nil
}

// Load drives a scheduler over src until every gate has fired, the load
// timeout passes or ctx is done. The tick loop runs on the calling
// goroutine; task callbacks and gate continuations run inside it.
func (c *Coordinator) Load(ctx context.Context, src Sources) (*Result, error) {
	log := logger.Get()
	start := time.Now()

	policy, err := sched.ParseFailurePolicy(c.cfg.FailurePolicy)
	if err != nil {
		return nil, err
	}
	tile := *c.cfg.BBox
	bounds := building.TileAABB(tile)
	res := &Result{Scene: scene.New(tile, bounds)}
	s := sched.New(policy)

	c.reporter.Report(ProgressStarted, "load started")

	geometry := s.Start(TaskGeometry, src.Geometry, func(payload []byte) error {
		return c.buildGeometry(ctx, src.GeometryName, payload, res)
	})
	image := s.Start(TaskImage, src.Image, nil)
	metadata := s.Start(TaskMetadata, src.Metadata, nil)

	imageGate, err := s.WhenDone(GateImageData, func([]sched.Dependency) (any, error) {
		return c.fitImage(image, metadata, res.Scene)
	}, image, metadata)
	if err != nil {
		return nil, err
	}

	if _, err := s.WhenDone(GateAllLoading, func(deps []sched.Dependency) (any, error) {
		c.reporter.Report(ProgressDone, "done")
		return res.Scene, nil
	}, imageGate, geometry); err != nil {
		return nil, err
	}

	runCtx := ctx
	if c.cfg.LoadTimeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, c.cfg.LoadTimeout)
		defer cancel()
	}

	runErr := s.Run(runCtx, c.cfg.TickInterval)
	res.Ticks, _ = s.Stats()
	res.Elapsed = time.Since(start)

	if runErr != nil {
		tasks, gates := s.Pending()
		return nil, fmt.Errorf("load did not complete (%d tasks, %d gates pending, policy %s): %w",
			tasks, gates, s.Policy(), runErr)
	}
	if err := geometry.Err(); err != nil {
		return nil, fmt.Errorf("geometry load failed (%s): %w", sourceOf(src.Geometry), err)
	}
	if err := imageGate.Err(); err != nil {
		res.ImageErr = err
		log.Warn("Scene has no imagery",
			zap.String("image", sourceOf(src.Image)),
			zap.String("metadata", sourceOf(src.Metadata)),
			zap.Error(err))
	}

	objects, vertices, triangles := res.Scene.Stats()
	log.Info("Scene loaded",
		zap.Int("objects", objects),
		zap.Int("vertices", vertices),
		zap.Int("triangles", triangles),
		zap.Bool("textured", res.Scene.Texture != nil),
		zap.Int("ticks", res.Ticks),
		zap.Duration("duration", res.Elapsed.Round(time.Millisecond)))
	return res, nil
}

// sourceOf names where op reads from, when it knows
func sourceOf(op sched.Operation) string {
	if s, ok := op.(interface{ Source() string }); ok {
		return s.Source()
	}
	return "unknown"
}

// buildGeometry is the geometry task's success callback
func (c *Coordinator) buildGeometry(ctx context.Context, name string, payload []byte, res *Result) error {
	log := logger.Get()
	c.reporter.Report(ProgressGeometryLoaded, "geometry loaded")
	log.Debug("Geometry received", zap.String("size", FormatBytes(int64(len(payload)))))

	features, err := source.ParseBuildings(ctx, name, payload, c.cfg.BBox, style.NewFilter(c.style.Buildings))
	if err != nil {
		return err
	}

	c.reporter.Report(ProgressBuildingsStart, "building meshes")
	start := time.Now()
	p := building.New(building.Options{
		MetersPerLevel: c.cfg.MetersPerLevel,
		Material:       c.style.Materials.Building,
		Hook:           c.hook,
		Progress: func(done, total int) {
			c.reporter.Report(BuildingPercent(done, total), "building meshes")
		},
	})
	objs, stats := p.Process(features, res.Scene.TileBounds)
	res.Scene.AddBuildings(objs...)
	res.Buildings = stats
	log.Debug("Buildings built", zap.String("rate", FormatThroughput(stats.Built, time.Since(start))))

	floor, err := building.FloorPlane(res.Scene.TileBounds, c.style.Materials.Floor)
	if err != nil {
		return fmt.Errorf("floor plane: %w", err)
	}
	res.Scene.Floor = floor
	c.reporter.Report(ProgressFloor, "floor built")
	return nil
}

// fitImage is the image data gate's continuation. Under SettleOnFailure it
// also runs when a read failed, and reports that failure.
func (c *Coordinator) fitImage(image, metadata *sched.Task, sc *scene.Scene) (any, error) {
	log := logger.Get()

	var errs []error
	for _, t := range []*sched.Task{image, metadata} {
		if err := t.Err(); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	meta, err := source.ParseMetadata(metadata.Payload())
	if err != nil {
		return nil, err
	}
	imgCfg, format, err := source.DecodeImageConfig(image.Payload())
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}
	if meta.ImageWidth == 0 || meta.ImageHeight == 0 {
		meta.ImageWidth, meta.ImageHeight = imgCfg.Width, imgCfg.Height
	}

	fit, err := source.FitImage(meta, *c.cfg.BBox)
	if err != nil {
		return nil, err
	}
	if c.cfg.CenterDriftWarn > 0 && fit.CenterDrift > c.cfg.CenterDriftWarn {
		log.Warn("Imagery center differs from tile center",
			zap.Float64("drift_m", fit.CenterDrift),
			zap.Float64("threshold_m", c.cfg.CenterDriftWarn))
	}

	sc.Texture = &scene.Texture{
		Format: format,
		Width:  imgCfg.Width,
		Height: imgCfg.Height,
		Data:   image.Payload(),
		Fit:    &fit,
	}
	projector := scene.DefaultProjector()
	sc.Projector = &projector

	log.Info("Imagery fitted",
		zap.String("format", format),
		zap.Int("crop_x", fit.CropX),
		zap.Int("crop_y", fit.CropY),
		zap.Int("crop_width", fit.CropWidth),
		zap.Int("crop_height", fit.CropHeight),
		zap.Float64("aspect", fit.Aspect))
	return fit, nil
}
