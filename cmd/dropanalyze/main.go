// Command dropanalyze calibrates on a reference frame and fits the
// Young-Laplace drop shape to every frame of a recording.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"pendant-drop/internal/analysis"
	"pendant-drop/internal/app"
	"pendant-drop/internal/calibrate"
	"pendant-drop/internal/config"
	"pendant-drop/internal/frame"
	"pendant-drop/internal/logger"
	"pendant-drop/internal/metrics"
	"pendant-drop/internal/version"

	jsoniter "github.com/json-iterator/go"
	"github.com/rs/zerolog"
)

func main() {
	videoPath := flag.String("video", "", "Video file to analyse")
	framesDir := flag.String("frames", "", "Directory of still frames to analyse instead of a video")
	configPath := flag.String("config", "", "Settings file (defaults when empty)")
	envFile := flag.String("env", ".env", "Environment file with DROP_* overrides")
	calFrame := flag.Int("calibration-frame", -1, "Reference frame (default start + calibration offset)")
	start := flag.Int("start", -1, "First frame (default from settings)")
	end := flag.Int("end", -1, "Last frame, 0 for the end of the source (default from settings)")
	jsonOut := flag.Bool("json", false, "Print one JSON object per frame")
	watch := flag.Bool("watch", false, "Reload crop and edge settings from -config while running")
	metricsAddr := flag.String("metrics", "", "Serve Prometheus metrics on this address")
	writeConfig := flag.String("write-config", "", "Write the effective settings to this file and exit")
	showVersion := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String("dropanalyze"))
		return
	}

	if err := config.LoadEnv(*envFile); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load %s: %v\n", *envFile, err)
		os.Exit(1)
	}

	cfg := config.Default()
	if *configPath != "" {
		var err error
		cfg, err = config.Load(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to load settings: %v\n", err)
			os.Exit(1)
		}
	}
	if err := cfg.ApplyEnv(); err != nil {
		fmt.Fprintf(os.Stderr, "Bad environment override: %v\n", err)
		os.Exit(1)
	}
	if *start >= 0 {
		cfg.Run.StartFrame = *start
	}
	if *end >= 0 {
		cfg.Run.EndFrame = *end
	}
	if *metricsAddr != "" {
		cfg.Metrics.Addr = *metricsAddr
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid settings: %v\n", err)
		os.Exit(1)
	}

	if *writeConfig != "" {
		if err := cfg.Save(*writeConfig); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to write settings: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Settings written to %s\n", *writeConfig)
		return
	}

	if (*videoPath == "") == (*framesDir == "") {
		fmt.Println("Usage: dropanalyze (-video <file> | -frames <dir>) [-config settings.json] [-json] [-watch] [-metrics :9100]")
		os.Exit(1)
	}
	if *watch && *configPath == "" {
		fmt.Fprintln(os.Stderr, "-watch needs -config")
		os.Exit(1)
	}

	log, logCloser, err := logger.Stderr(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to set up logging: %v\n", err)
		os.Exit(1)
	}
	defer logCloser.Close()

	if err := run(cfg, log, options{
		videoPath:  *videoPath,
		framesDir:  *framesDir,
		configPath: *configPath,
		calFrame:   *calFrame,
		jsonOut:    *jsonOut,
		watch:      *watch,
	}); err != nil {
		log.Error().Err(err).Msg("analysis failed")
		logCloser.Close()
		os.Exit(1)
	}
}

type options struct {
	videoPath  string
	framesDir  string
	configPath string
	calFrame   int
	jsonOut    bool
	watch      bool
}

func run(cfg *config.Config, log zerolog.Logger, opts options) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var (
		src frame.Source
		err error
	)
	if opts.videoPath != "" {
		src, err = frame.OpenVideo(opts.videoPath)
	} else {
		src, err = frame.OpenImageDir(opts.framesDir)
	}
	if err != nil {
		return err
	}
	defer src.Close()
	log.Info().Int("frames", src.Len()).Msg("source opened")

	var m *metrics.Metrics
	if cfg.Metrics.Addr != "" {
		m = metrics.New()
		go func() {
			if err := m.Serve(ctx, cfg.Metrics.Addr); err != nil {
				log.Error().Err(err).Str("addr", cfg.Metrics.Addr).Msg("metrics server stopped")
			}
		}()
		log.Info().Str("addr", cfg.Metrics.Addr).Msg("serving metrics")
	}

	store := app.NewParamStore(cfg.Crop, cfg.Edge)
	store.On(app.EventCropChanged, func(s app.Snapshot) {
		log.Info().Int("revision", s.Revision).Stringer("crop", s.Crop).Msg("crop changed")
	})
	store.On(app.EventEdgeChanged, func(s app.Snapshot) {
		log.Info().Int("revision", s.Revision).
			Int("filter_size", s.Edge.FilterSize).
			Float64("canny_low", s.Edge.CannyLow).
			Float64("canny_high", s.Edge.CannyHigh).
			Msg("edge settings changed")
	})
	if opts.watch {
		w, err := app.NewParamWatcher(opts.configPath, store, 500*time.Millisecond, log)
		if err != nil {
			return err
		}
		w.Start()
		defer w.Stop()
	}

	calIndex := opts.calFrame
	if calIndex < 0 {
		calIndex = cfg.Run.CalibrationFrame()
	}
	cal, err := calibrate.Calibrate(src, calIndex, cfg.Crop, cfg.CalibrationEdge, log)
	if err != nil {
		return err
	}

	a := analysis.New(store,
		analysis.WithLogger(log),
		analysis.WithMetrics(m),
		analysis.WithConstants(cfg.Physics),
		analysis.WithFitOptions(cfg.Fit.Options()),
		analysis.WithInitialBond(cfg.Fit.InitialBond),
		analysis.WithProgressInterval(cfg.Run.ProgressInterval),
		analysis.WithFrameRange(cfg.Run.StartFrame, cfg.Run.EndFrame),
	)

	emit := tableWriter(os.Stdout)
	if opts.jsonOut {
		emit = jsonWriter(os.Stdout, log)
	}

	sum, err := a.Run(ctx, src, cal, emit)
	if err != nil {
		return err
	}
	if !opts.jsonOut {
		fmt.Printf("\nProcessed %d of %d frames (%d skipped, %d not converged) in %s\n",
			sum.Processed, sum.Frames, sum.Skipped, sum.NonConverged, sum.Duration.Round(time.Millisecond))
	}
	return nil
}

func jsonWriter(w io.Writer, log zerolog.Logger) func(analysis.FrameResult) {
	enc := jsoniter.ConfigCompatibleWithStandardLibrary.NewEncoder(w)
	return func(r analysis.FrameResult) {
		if err := enc.Encode(r); err != nil {
			log.Error().Err(err).Int("frame", r.Frame).Msg("failed to write result")
		}
	}
}

func tableWriter(w io.Writer) func(analysis.FrameResult) {
	fmt.Fprintf(w, "%6s %8s %9s %9s %9s %8s %6s %5s %14s %14s\n",
		"frame", "points", "R0 px", "apex x", "apex y", "bond", "evals", "conv", "gamma N/m", "volume m3")
	return func(r analysis.FrameResult) {
		if r.Skipped() {
			fmt.Fprintf(w, "%6d %8d  skipped: %s\n", r.Frame, r.EdgePoints, r.Skip)
			return
		}
		p := r.Fit.Params
		fmt.Fprintf(w, "%6d %8d %9.2f %9.2f %9.2f %8.4f %6d %5v %14.6g %14.6g\n",
			r.Frame, r.EdgePoints, p.ApexRadius, p.ApexX, p.ApexY,
			p.BondNumber, r.Fit.Evaluations, r.Fit.Converged, r.Physics.SurfaceTension, r.Physics.Volume)
	}
}
