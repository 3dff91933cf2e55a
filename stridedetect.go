// Package stridedetect turns an architecture diagram into a STRIDE threat report.
//
// A run detects diagram components (processes, data stores, external entities,
// ...) with an object-detection backend, draws the detections onto a copy of
// the image, and cross-references every detected component against a static
// threat database:
//
//	cfg := config.Default()
//	cfg.ImagePath = "diagram.png"
//
//	visionClient, err := stridedetect.NewClient(cfg)
//	if err != nil {
//		log.Fatal(err)
//	}
//	pipeline, err := stridedetect.New(cfg, visionClient)
//	if err != nil {
//		log.Fatal(err)
//	}
//	result, err := pipeline.Run(context.Background())
//
// The components are:
//
//  1. Threat database (pkg/threatdb): ordered component -> threats mapping
//  2. Detector (pkg/detection): backend call, names table, score/area filters
//  3. Report builder and sink (pkg/report): report lines, text file, console echo
//  4. Processing (pkg/processing): image loading, model payload, annotation overlay
//
// Backends live in pkg/ollama, pkg/llamacpp and pkg/replay.
package stridedetect

import (
	"context"
	"image"
	"io"

	"github.com/fatih/color"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/menta2k/stride-detect/internal/config"
	"github.com/menta2k/stride-detect/internal/utils"
	"github.com/menta2k/stride-detect/pkg/analyzer"
	"github.com/menta2k/stride-detect/pkg/client"
	"github.com/menta2k/stride-detect/pkg/cropper"
	"github.com/menta2k/stride-detect/pkg/detection"
	"github.com/menta2k/stride-detect/pkg/llamacpp"
	"github.com/menta2k/stride-detect/pkg/ollama"
	"github.com/menta2k/stride-detect/pkg/processing"
	"github.com/menta2k/stride-detect/pkg/replay"
	"github.com/menta2k/stride-detect/pkg/report"
	"github.com/menta2k/stride-detect/pkg/threatdb"
	"github.com/menta2k/stride-detect/pkg/types"
)

// Version of stride-detect
const Version = "1.0.0"

// Pipeline runs detection and reporting for a single image
type Pipeline struct {
	cfg       config.Config
	client    client.VisionClient
	processor *processing.Processor
	logger    *zap.SugaredLogger
	console   io.Writer
}

// Option customizes a Pipeline
type Option func(*Pipeline)

// WithLogger sets the progress logger
func WithLogger(logger *zap.SugaredLogger) Option {
	return func(p *Pipeline) {
		p.logger = logger
	}
}

// WithConsole sets where the report is echoed; nil disables the echo
func WithConsole(w io.Writer) Option {
	return func(p *Pipeline) {
		p.console = w
	}
}

// Result describes what a run produced
type Result struct {
	Image       analyzer.ImageInfo
	Detections  *types.DetectionResult
	Lines       []types.ReportLine
	ImagePath   string
	ReportPath  string
	SummaryPath string
}

// NewClient creates the vision client selected by cfg.Backend
func NewClient(cfg *config.Config) (client.VisionClient, error) {
	switch cfg.Backend {
	case config.BackendOllama:
		c, err := ollama.NewClient(cfg.ResolvedURL())
		return c, errors.Wrap(err, "failed to create Ollama client")
	case config.BackendLlamaCpp:
		c, err := llamacpp.NewClient(cfg.ResolvedURL())
		return c, errors.Wrap(err, "failed to create llama.cpp client")
	case config.BackendReplay:
		c, err := replay.NewClient(cfg.Model)
		return c, errors.Wrap(err, "failed to create replay client")
	default:
		return nil, errors.Errorf("unknown backend: %s (use 'ollama', 'llamacpp' or 'replay')", cfg.Backend)
	}
}

// New creates a pipeline for a validated copy of cfg
func New(cfg *config.Config, visionClient client.VisionClient, opts ...Option) (*Pipeline, error) {
	if cfg == nil {
		return nil, errors.New("config is nil")
	}
	if visionClient == nil {
		return nil, errors.New("vision client is nil")
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid config")
	}

	p := &Pipeline{
		cfg:       *cfg,
		client:    visionClient,
		processor: processing.NewProcessor(),
		logger:    zap.NewNop().Sugar(),
		console:   color.Output,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Run loads the threat database, detects components, writes the annotated image and writes the report.
// Database and labels are loaded first so a bad input fails before the backend is called.
func (p *Pipeline) Run(ctx context.Context) (*Result, error) {
	cfg := p.cfg

	db, err := threatdb.Load(cfg.DatabasePath)
	if err != nil {
		return nil, err
	}
	p.logger.Debugw("threat database loaded", "path", cfg.DatabasePath, "components", db.Len())

	labels, err := detection.LoadLabels(cfg.LabelsPath)
	if err != nil {
		return nil, err
	}
	p.logger.Debugw("labels loaded", "path", cfg.LabelsPath, "classes", len(labels))

	img, err := p.processor.LoadImageSmart(ctx, cfg.ImagePath)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to load image %s", cfg.ImagePath)
	}
	img, err = p.narrow(img)
	if err != nil {
		return nil, err
	}

	inspector := analyzer.NewWithConfig(analyzer.Config{MinImageSize: cfg.MinImageSize})
	if err := inspector.ValidateImage(img); err != nil {
		return nil, errors.Wrapf(err, "invalid image %s", cfg.ImagePath)
	}
	info := inspector.GetImageInfo(img)
	p.logger.Infow("image loaded", "path", cfg.ImagePath, "width", info.Width, "height", info.Height,
		"aspect", info.AspectRatio)

	detector := detection.NewDetector(p.client, labels, detection.Config{
		Model:       cfg.Model,
		Confidence:  cfg.Confidence,
		MinArea:     cfg.MinArea,
		SendFormat:  cfg.SendFormat,
		SendSize:    cfg.SendSize,
		SendQuality: cfg.SendQuality,
	})
	detections, err := detector.Detect(ctx, img)
	if err != nil {
		return nil, err
	}
	p.logger.Infow("detection finished", "backend", cfg.Backend, "model", cfg.Model, "detections", len(detections.Detections))
	for i, d := range detections.Detections {
		p.logger.Debugw("detection", "index", i, "component", detections.NameOf(d), "class", d.ClassID,
			"confidence", d.Confidence, "box", d.Box)
	}

	annotated := p.processor.AnnotateDetections(img, detections)
	if err := utils.EnsureParentDir(cfg.OutputImage); err != nil {
		return nil, errors.Wrapf(err, "failed to create directory for %s", cfg.OutputImage)
	}
	if err := p.processor.SaveImage(annotated, cfg.OutputImage, cfg.ResolvedOutputFormat(), cfg.OutputQuality, false); err != nil {
		return nil, err
	}
	p.logger.Infow("annotated image written", "path", cfg.OutputImage)

	lines := report.NewBuilder(db).Build(detections)

	sink := report.NewSinkWithWriter(cfg.ReportPath, p.console)
	if err := sink.Write(lines); err != nil {
		return nil, err
	}
	p.logger.Infow("report written", "path", cfg.ReportPath, "lines", len(lines))

	result := &Result{
		Image:      info,
		Detections: detections,
		Lines:      lines,
		ImagePath:  cfg.OutputImage,
		ReportPath: cfg.ReportPath,
	}

	if cfg.SummaryPath != "" {
		summary := report.NewSummary(cfg.ImagePath, detections, lines)
		if err := report.WriteSummary(cfg.SummaryPath, summary); err != nil {
			return nil, err
		}
		result.SummaryPath = cfg.SummaryPath
		p.logger.Infow("summary written", "path", cfg.SummaryPath, "unmapped", summary.Unmapped)
	}

	if cfg.Show {
		if err := p.processor.Show(cfg.OutputImage); err != nil {
			p.logger.Warnw("could not open image viewer", "error", err)
		}
	}

	return result, nil
}

// narrow crops img to the configured region, then trims blank margins when enabled
func (p *Pipeline) narrow(img image.Image) (image.Image, error) {
	c := cropper.NewWithConfig(cropper.CropConfig{
		EdgeThreshold: 0.08,
		PaddingRatio:  0.02,
		MinSize:       max(p.cfg.MinImageSize, 1),
	})

	region, err := cropper.ParseRegion(p.cfg.Region)
	if err != nil {
		return nil, err
	}
	if region != (types.Box{}) {
		img, err = c.CropToRegion(img, region)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to crop %s", p.cfg.ImagePath)
		}
		p.logger.Infow("cropped to region", "region", p.cfg.Region, "width", img.Bounds().Dx(), "height", img.Bounds().Dy())
	}

	if p.cfg.Trim {
		before := img.Bounds()
		img = c.Trim(img)
		p.logger.Debugw("trimmed margins", "from", before.Size(), "to", img.Bounds().Size())
	}
	return img, nil
}

// GetVersion returns the library version
func GetVersion() string {
	return Version
}
