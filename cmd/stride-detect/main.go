package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	stridedetect "github.com/menta2k/stride-detect"
	"github.com/menta2k/stride-detect/internal/config"
	"github.com/menta2k/stride-detect/internal/logging"
	"github.com/menta2k/stride-detect/internal/utils"
)

func main() {
	var configPath string
	var backend, url, model, labels string
	var db, in, out, outFmt, reportPath, summaryPath string
	var conf, minArea float64
	var minSize, outQ int
	var sendFmt string
	var sendSize, sendQ int
	var region string
	var trim, show, debug, version bool

	defaults := config.Default()

	flag.StringVar(&configPath, "config", "", "JSON config file (default: "+config.GetConfigPath()+" when present)")

	flag.StringVar(&backend, "backend", defaults.Backend, "backend to use: ollama, llamacpp or replay")
	flag.StringVar(&url, "url", "", "server URL (defaults: ollama=http://localhost:11435/api/chat, llamacpp=http://localhost:8080)")
	flag.StringVar(&model, "model", defaults.Model, "model name (replay: detections JSON file)")
	flag.StringVar(&labels, "labels", defaults.LabelsPath, "class names file, one per line")
	flag.Float64Var(&conf, "conf", defaults.Confidence, "minimum detection confidence (0..1)")
	flag.Float64Var(&minArea, "min-area", defaults.MinArea, "minimum normalized box area (0..1), 0=off")

	flag.StringVar(&db, "db", defaults.DatabasePath, "STRIDE threat database (JSON)")
	flag.StringVar(&in, "image", defaults.ImagePath, "input diagram path or URL (jpg/png/webp)")
	flag.IntVar(&minSize, "min-size", defaults.MinImageSize, "minimum image side in pixels")
	flag.StringVar(&region, "region", "", "analyze only this normalized region: x,y,w,h")
	flag.BoolVar(&trim, "trim", false, "crop blank margins before detection")

	flag.StringVar(&out, "out", defaults.OutputImage, "annotated image path")
	flag.StringVar(&outFmt, "outfmt", "", "annotated image format: jpg|png|webp (default: from -out extension)")
	flag.IntVar(&outQ, "outq", defaults.OutputQuality, "annotated image quality (for jpg/webp)")
	flag.StringVar(&reportPath, "report", defaults.ReportPath, "threat report path")
	flag.StringVar(&summaryPath, "summary", "", "optional JSON summary path")

	flag.StringVar(&sendFmt, "sendfmt", defaults.SendFormat, "format sent to the model: jpg|png")
	flag.IntVar(&sendSize, "sendsize", defaults.SendSize, "max long side sent to the model (px), 0=original")
	flag.IntVar(&sendQ, "sendq", defaults.SendQuality, "JPEG quality for image sent to the model (1-100)")

	flag.BoolVar(&show, "show", false, "open the annotated image in the system viewer")
	flag.BoolVar(&debug, "debug", false, "verbose logging")
	flag.BoolVar(&version, "version", false, "print version and exit")

	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: %s [-image diagram.png] [-db stride.json] [-backend ollama|llamacpp|replay] [flags]\n", filepath.Base(os.Args[0]))
		flag.PrintDefaults()
	}
	flag.Parse()

	if version {
		fmt.Println(stridedetect.GetVersion())
		return
	}

	cfg := defaults
	if configPath == "" && utils.FileExists(config.GetConfigPath()) {
		configPath = config.GetConfigPath()
	}
	if configPath != "" {
		loaded, err := config.LoadFromFile(configPath)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(2)
		}
		cfg = loaded
	}

	envFile := config.LoadEnvFile(".env")
	if err := cfg.ApplyEnv(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	// Only flags given on the command line override the config file and environment.
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "backend":
			cfg.Backend = backend
		case "url":
			cfg.URL = url
		case "model":
			cfg.Model = model
		case "labels":
			cfg.LabelsPath = labels
		case "conf":
			cfg.Confidence = conf
		case "min-area":
			cfg.MinArea = minArea
		case "db":
			cfg.DatabasePath = db
		case "image":
			cfg.ImagePath = in
		case "min-size":
			cfg.MinImageSize = minSize
		case "region":
			cfg.Region = region
		case "trim":
			cfg.Trim = trim
		case "out":
			cfg.OutputImage = out
		case "outfmt":
			cfg.OutputFormat = outFmt
		case "outq":
			cfg.OutputQuality = outQ
		case "report":
			cfg.ReportPath = reportPath
		case "summary":
			cfg.SummaryPath = summaryPath
		case "sendfmt":
			cfg.SendFormat = sendFmt
		case "sendsize":
			cfg.SendSize = sendSize
		case "sendq":
			cfg.SendQuality = sendQ
		case "show":
			cfg.Show = show
		case "debug":
			cfg.Debug = debug
		}
	})

	logger := logging.New(cfg.Debug)
	defer func() { _ = logger.Sync() }()

	if configPath != "" {
		logger.Debugw("config file loaded", "path", configPath)
	}
	if envFile != "" {
		logger.Debugw("env file loaded", "path", envFile)
	}

	if err := cfg.Validate(); err != nil {
		logger.Errorw("invalid configuration", "error", err)
		os.Exit(2)
	}

	visionClient, err := stridedetect.NewClient(cfg)
	if err != nil {
		logger.Errorw("backend setup failed", "backend", cfg.Backend, "error", err)
		os.Exit(1)
	}

	pipeline, err := stridedetect.New(cfg, visionClient, stridedetect.WithLogger(logger))
	if err != nil {
		logger.Errorw("pipeline setup failed", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	result, err := pipeline.Run(ctx)
	if err != nil {
		logger.Errorw("run failed", "error", err)
		stop()
		os.Exit(1)
	}

	logger.Infow("done", "detections", len(result.Detections.Detections), "report", result.ReportPath,
		"image", result.ImagePath)
}
