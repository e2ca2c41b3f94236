package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/facebookincubator/go-belt/tool/logger"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"go2tv.app/screenrec/capture"
	"go2tv.app/screenrec/config"
	"go2tv.app/screenrec/internal/libav"
	"go2tv.app/screenrec/internal/observability"
	"go2tv.app/screenrec/scale"
	"go2tv.app/screenrec/session"
)

var (
	Root = &cobra.Command{
		Use:           "screenrec",
		Short:         "Record a monitor into a raw video elementary stream",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return setupLogger(cmd)
		},
		RunE: record,
	}

	Record = &cobra.Command{
		Use:   "record",
		Short: "Record a monitor (the default command)",
		Args:  cobra.NoArgs,
		RunE:  record,
	}

	Monitors = &cobra.Command{
		Use:   "monitors",
		Short: "List the monitors the capture backend can see",
		Args:  cobra.NoArgs,
		RunE:  listMonitors,
	}

	LoggerLevel = logger.LevelInfo
)

func init() {
	Root.AddCommand(Record)
	Root.AddCommand(Monitors)

	pf := Root.PersistentFlags()
	pf.Var(&LoggerLevel, "log-level", "logging level (trace, debug, info, warning, error)")
	pf.String("config", "", "YAML configuration file")
	pf.String("backend", capture.BackendAuto, "capture backend: auto, screenshot or portal")

	for _, cmd := range []*cobra.Command{Root, Record} {
		f := cmd.Flags()
		f.StringP("output", "o", "", "output file (default capture_<fps>fps.m4v)")
		f.Int("fps", session.DefaultFPS, "capture and encode frame rate")
		f.Duration("duration", session.DefaultDuration, "recording length")
		f.Int("monitor", 0, "monitor index, see the monitors command")
		f.String("codec", "", "libavcodec encoder name (default mpeg4)")
		f.Int64("bitrate", 0, "target bitrate in bits per second")
		f.String("size", "", "encoded frame size WIDTHxHEIGHT (default 800x240)")
		f.Int("gop", 0, "keyframe interval in frames")
		f.Int("max-b-frames", 0, "maximum consecutive B-frames")
		f.String("scaler", "", "scaling algorithm: lanczos, bicubic, bilinear or nearest")
		f.String("scaler-engine", "", "scaling implementation: native or libav")
		f.Bool("hwaccel", false, "probe hardware encoders before the software codec")
		f.String("metrics-addr", "", "serve Prometheus metrics on this address, e.g. :9090")
	}
}

func setupLogger(cmd *cobra.Command) error {
	ctx := cmd.Context()
	if !cmd.Flags().Changed("log-level") {
		cfg, err := loadConfig(cmd)
		if err == nil && cfg.LogLevel != "" {
			if err := LoggerLevel.Set(cfg.LogLevel); err != nil {
				return fmt.Errorf("log_level: %w", err)
			}
		}
	}
	level := observability.LoggerConfigFromEnv(observability.LoggerConfig{Level: LoggerLevel}).Level
	l := logger.FromCtx(ctx).WithLevel(level)
	ctx = observability.WithLogger(ctx, l)
	cmd.SetContext(ctx)
	libav.InstallLogger(ctx)
	logger.Debugf(ctx, "log-level: %v", level)
	return nil
}

func loadConfig(cmd *cobra.Command) (config.Config, error) {
	return configFromFlags(cmd.Flags())
}

// configFromFlags layers the config file, the environment and the flags set
// on the command line, in that order.
func configFromFlags(flags *pflag.FlagSet) (config.Config, error) {
	cfg := config.Defaults()
	if path, _ := flags.GetString("config"); path != "" {
		var err error
		if cfg, err = config.LoadFromFile(path); err != nil {
			return cfg, err
		}
	}
	cfg = cfg.ApplyEnv()

	if flags.Changed("backend") {
		cfg.Backend, _ = flags.GetString("backend")
	}
	if flags.Lookup("fps") == nil {
		return cfg, nil
	}
	if flags.Changed("output") {
		cfg.Output, _ = flags.GetString("output")
	}
	if flags.Changed("fps") {
		cfg.FPS, _ = flags.GetInt("fps")
	}
	if flags.Changed("duration") {
		cfg.Duration, _ = flags.GetDuration("duration")
	}
	if flags.Changed("monitor") {
		cfg.Monitor, _ = flags.GetInt("monitor")
	}
	if flags.Changed("codec") {
		cfg.Encoder.Codec, _ = flags.GetString("codec")
	}
	if flags.Changed("bitrate") {
		cfg.Encoder.BitRate, _ = flags.GetInt64("bitrate")
	}
	if flags.Changed("size") {
		cfg.Encoder.Size, _ = flags.GetString("size")
	}
	if flags.Changed("gop") {
		cfg.Encoder.GOPSize, _ = flags.GetInt("gop")
	}
	if flags.Changed("max-b-frames") {
		cfg.Encoder.MaxBFrames, _ = flags.GetInt("max-b-frames")
	}
	if flags.Changed("scaler") {
		cfg.Scaler.Algorithm, _ = flags.GetString("scaler")
	}
	if flags.Changed("scaler-engine") {
		cfg.Scaler.Engine, _ = flags.GetString("scaler-engine")
	}
	if flags.Changed("hwaccel") {
		cfg.Encoder.HWAccel, _ = flags.GetBool("hwaccel")
	}
	if flags.Changed("metrics-addr") {
		cfg.MetricsAddr, _ = flags.GetString("metrics-addr")
	}
	return cfg, nil
}

func scaleEngine(name string) scale.Engine {
	if name == config.ScalerEngineLibav {
		return libav.ScaleEngine{}
	}
	return scale.NativeEngine{}
}

func record(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if cfg, err = cfg.Normalize(); err != nil {
		return err
	}

	src, err := capture.Open(ctx, &capture.Options{Backend: cfg.Backend})
	if err != nil {
		return err
	}
	defer func() {
		if err := src.Close(); err != nil {
			logger.Warnf(ctx, "close capture source: %v", err)
		}
	}()

	monitors, err := src.Monitors(ctx)
	if err != nil {
		return err
	}
	if cfg.Monitor < len(monitors) {
		m := monitors[cfg.Monitor]
		if capped := config.CapFPS(cfg.FPS, m.Width(), m.Height()); capped != cfg.FPS {
			logger.Infof(ctx, "capping frame rate to %d fps for %dx%d capture", capped, m.Width(), m.Height())
			cfg.FPS = capped
		}
	}

	opts, err := cfg.SessionOptions()
	if err != nil {
		return err
	}
	ctrl := session.New(opts, session.Deps{
		Source: src,
		Codecs: libav.Backend{},
		Scaler: scaleEngine(cfg.Scaler.Engine),
	})

	if cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(ctrl.Metrics().Registry(), promhttp.HandlerOpts{}))
		metricsCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		if _, _, err := observability.Serve(metricsCtx, cfg.MetricsAddr, mux); err != nil {
			return fmt.Errorf("metrics listener: %w", err)
		}
	}

	res, err := ctrl.Run(ctx)
	printResult(cmd.OutOrStdout(), opts.OutputPath, res)
	return err
}

func printResult(w io.Writer, path string, res session.Result) {
	if res.Codec == "" {
		return
	}
	fmt.Fprintf(w, "%s: %d frames, %d packets, %s of %s in %s (session %s)\n",
		path, res.Frames, res.Packets, humanize.IBytes(res.Bytes), res.Codec,
		res.Duration.Round(time.Millisecond), res.SessionID)
}

func listMonitors(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	src, err := capture.Open(ctx, &capture.Options{Backend: cfg.Backend})
	if err != nil {
		return err
	}
	defer src.Close()

	monitors, err := src.Monitors(ctx)
	if err != nil {
		return err
	}
	printMonitors(cmd.OutOrStdout(), monitors)
	return nil
}

func printMonitors(w io.Writer, monitors []capture.Monitor) {
	for _, m := range monitors {
		fmt.Fprintf(w, "%d\t%s\t%dx%d+%d+%d\t%s px\n",
			m.Index, m.Name, m.Width(), m.Height(), m.Bounds.Min.X, m.Bounds.Min.Y,
			humanize.Comma(int64(m.Width()*m.Height())))
	}
}
