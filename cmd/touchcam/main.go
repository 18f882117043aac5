// Command touchcam counts ball touches live from a local camera.
package main

import (
	"TouchCounter/capture"
	"TouchCounter/config"
	"TouchCounter/engine"
	"TouchCounter/logger"
	"TouchCounter/touch"
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"gocv.io/x/gocv"
)

const (
	flagConfig    = "config"
	flagDevice    = "device"
	flagModel     = "model"
	flagThreshold = "threshold"
	flagPolicy    = "policy"
	flagLabel     = "label"
	flagMinConf   = "min-confidence"
	flagSize      = "size"
	flagNoWindow  = "no-window"

	windowTitle = "Touch Counter"
	keyEsc      = 27
)

func main() {
	app := &cli.App{
		Name:  "touchcam",
		Usage: "count ball touches from a local camera",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  flagConfig,
				Usage: "service config file supplying detector and tracking settings",
			},
			&cli.IntFlag{
				Name:  flagDevice,
				Value: 0,
				Usage: "camera device index",
			},
			&cli.StringFlag{
				Name:  flagModel,
				Usage: "model file, overrides the config",
			},
			&cli.Float64Flag{
				Name:  flagThreshold,
				Value: 5,
				Usage: "centroid displacement in pixels that counts as a touch",
			},
			&cli.StringFlag{
				Name:  flagPolicy,
				Value: string(touch.ResetOnEmpty),
				Usage: "what a frame without the ball does: carry or reset",
			},
			&cli.StringSliceFlag{
				Name:  flagLabel,
				Value: cli.NewStringSlice("sports ball"),
				Usage: "detector class treated as the ball, repeatable",
			},
			&cli.Float64Flag{
				Name:  flagMinConf,
				Value: touch.DefaultMinConfidence,
			},
			&cli.IntFlag{
				Name:  flagSize,
				Value: 640,
				Usage: "square size frames are resized to before detection, 0 keeps the camera size",
			},
			&cli.BoolFlag{
				Name:  flagNoWindow,
				Usage: "do not open a preview window",
			},
		},
		Action: run,
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// settings merges the optional config file with the flags. Without a config
// file the flag defaults apply; with one, only flags given explicitly win.
func settings(c *cli.Context) (config.Config, error) {
	cfg := config.Default()
	fromFile := c.IsSet(flagConfig)
	if fromFile {
		var err error
		if cfg, err = config.Load(c.String(flagConfig)); err != nil {
			return cfg, err
		}
	}
	override := func(name string) bool { return !fromFile || c.IsSet(name) }

	if override(flagThreshold) {
		cfg.Tracking.MovementThreshold = c.Float64(flagThreshold)
	}
	if override(flagPolicy) {
		cfg.Tracking.EmptyFramePolicy = touch.EmptyFramePolicy(c.String(flagPolicy))
	}
	if override(flagLabel) {
		cfg.Tracking.AllowedLabels = c.StringSlice(flagLabel)
	}
	if override(flagMinConf) {
		cfg.Tracking.MinConfidence = c.Float64(flagMinConf)
	}
	if c.IsSet(flagModel) {
		cfg.Detector.ModelPath = c.String(flagModel)
	}
	cfg.Detector.Backend = config.BackendGocv
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func run(c *cli.Context) error {
	cfg, err := settings(c)
	if err != nil {
		return err
	}
	if err := logger.Init(logger.Options{Development: cfg.Log.Development, Level: cfg.Log.Level}); err != nil {
		return errors.Wrap(err, "init logger")
	}
	defer logger.Sync()

	sess, err := touch.NewSession(touch.DefaultSessionID, cfg.Tracking)
	if err != nil {
		return err
	}
	det, err := engine.New(cfg.Detector)
	if err != nil {
		return err
	}
	defer det.Close()
	yolo, ok := det.(*engine.Yolo)
	if !ok {
		return errors.New("live capture needs the gocv backend")
	}

	cam := capture.NewCamera(c.Int(flagDevice), capture.DefaultWidth, capture.DefaultHeight)
	if err := cam.Open(); err != nil {
		return err
	}
	defer cam.Close()

	var show func(gocv.Mat) bool
	if !c.Bool(flagNoWindow) {
		window := gocv.NewWindow(windowTitle)
		defer window.Close()
		show = func(frame gocv.Mat) bool {
			window.IMShow(frame)
			key := window.WaitKey(1)
			return key == 'q' || key == keyEsc
		}
	}

	ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Log().Info("camera started",
		zap.Int("device", c.Int(flagDevice)),
		zap.Float64("threshold", cfg.Tracking.MovementThreshold),
		zap.String("policy", string(cfg.Tracking.EmptyFramePolicy)),
		zap.Strings("labels", cfg.Tracking.AllowedLabels))
	err = countTouches(ctx, cam, yolo.DetectMat, sess, c.Int(flagSize), show)
	logger.Log().Info("camera stopped", zap.Int("touches", sess.Touches()))
	return err
}

// countTouches drives one session from cam until the stream ends, ctx is
// cancelled or show asks to quit. show may be nil.
func countTouches(ctx context.Context, cam capture.Camera, detect func(gocv.Mat) ([]touch.Detection, error), sess *touch.Session, size int, show func(gocv.Mat) bool) error {
	for ctx.Err() == nil {
		frame, err := cam.ReadFrame()
		if errors.Is(err, capture.ErrEndOfStream) {
			return nil
		}
		if err != nil {
			return err
		}
		quit := step(frame, detect, sess, size, show)
		frame.Close()
		if quit {
			return nil
		}
	}
	return nil
}

func step(frame *gocv.Mat, detect func(gocv.Mat) ([]touch.Detection, error), sess *touch.Session, size int, show func(gocv.Mat) bool) bool {
	capture.Resize(frame, size)
	dets, err := detect(*frame)
	if err != nil {
		// a failed inference is not an empty frame; leave the tracker alone
		logger.Log().Warn("detection failed", zap.Error(err))
	} else {
		res := sess.ProcessFrame(dets)
		if res.Step.Counted {
			logger.Log().Info("touch counted",
				zap.Float64("distance", res.Step.Distance),
				zap.Int("touches", res.Touches))
		}
		capture.DrawDetections(frame, res.Accepted)
	}
	capture.DrawTouches(frame, sess.Touches())
	return show != nil && show(*frame)
}
