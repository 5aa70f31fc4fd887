package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"gocv.io/x/gocv"
	"golang.org/x/sync/errgroup"

	"skytracker/capture"
	"skytracker/config"
	"skytracker/input"
	"skytracker/pipeline"
	"skytracker/types"
	"skytracker/ui"
)

const sourceEnv = "SKYTRACKER_SOURCE"

type runOptions struct {
	Source        string
	ClipDir       string
	FrameSkip     int
	Schedule      bool
	ScheduleStart string
	ScheduleEnd   string
	Preview       bool
}

var runOpts runOptions

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Watch a video source and record detections",
	Long: "Runs the capture and analysis pipeline until interrupted. The source is a camera index, " +
		"a file path or a stream URL; it defaults to $" + sourceEnv + ".",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := buildConfig(runOpts)
		if err != nil {
			return err
		}
		return runPipeline(cmd.Context(), cfg, runOpts.Preview)
	},
}

func init() {
	def := config.Default()
	f := runCmd.Flags()
	f.StringVarP(&runOpts.Source, "source", "s", "", "camera index, video file or stream URL")
	f.StringVar(&runOpts.ClipDir, "clip-dir", def.Recording.ClipDir, "directory for recorded clips")
	f.IntVar(&runOpts.FrameSkip, "frame-skip", def.Processing.FrameSkip, "process every Nth frame")
	f.BoolVar(&runOpts.Schedule, "schedule", def.Schedule.Enabled, "only detect inside the daily window")
	f.StringVar(&runOpts.ScheduleStart, "schedule-start", def.Schedule.StartTime, "detection window start (HH:MM)")
	f.StringVar(&runOpts.ScheduleEnd, "schedule-end", def.Schedule.EndTime, "detection window end (HH:MM)")
	f.BoolVar(&runOpts.Preview, "preview", false, "show the annotated video in a window")
	rootCmd.AddCommand(runCmd)
}

func buildConfig(opts runOptions) (config.App, error) {
	cfg := config.Default()
	switch {
	case opts.Source != "":
		cfg.Capture.URL = opts.Source
	case os.Getenv(sourceEnv) != "":
		cfg.Capture.URL = os.Getenv(sourceEnv)
	}
	cfg.Processing.FrameSkip = opts.FrameSkip
	cfg.Recording.ClipDir = opts.ClipDir
	cfg.Recording.DBPath = dbPath
	cfg.Schedule = config.Schedule{Enabled: opts.Schedule, StartTime: opts.ScheduleStart, EndTime: opts.ScheduleEnd}

	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func runPipeline(ctx context.Context, cfg config.App, preview bool) error {
	if err := os.MkdirAll(cfg.Recording.ClipDir, 0o755); err != nil {
		return fmt.Errorf("failed to create clip directory: %w", err)
	}

	source := capture.New(cfg.Capture, capture.WithLogger(logger.With().Str("component", "capture").Logger()))
	pipe := pipeline.New(cfg, source, DB, pipeline.WithLogger(logger.With().Str("component", "pipeline").Logger()))
	subID, events := pipe.Events().Subscribe()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)

	pipe.Start()
	g.Go(func() error {
		logEvents(ctx, events, logger)
		return nil
	})

	var err error
	if preview {
		err = runPreview(ctx, pipe)
		cancel()
	} else {
		<-ctx.Done()
	}

	pipe.Events().Unsubscribe(subID)
	if cerr := pipe.Close(); cerr != nil {
		logger.Warn().Err(cerr).Msg("closing pipeline")
	}
	if werr := g.Wait(); err == nil {
		err = werr
	}
	logger.Info().Msg("shutdown complete")
	return err
}

func logEvents(ctx context.Context, events <-chan types.DetectionEvent, log zerolog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			log.Debug().Int64("event_id", ev.ID).Int("object_id", ev.ObjectID).
				Str("label", string(ev.Label)).Str("clip", ev.ClipPath).Msg("event published")
		}
	}
}

// runPreview shows annotated frames until the window is closed by a key or
// ctx is done.
func runPreview(ctx context.Context, pipe *pipeline.Pipeline) error {
	window := gocv.NewWindow("skytracker")
	defer window.Close()

	state := &input.State{}
	log := logger.With().Str("component", "preview").Logger()
	for ctx.Err() == nil {
		if frame, ok := pipe.DisplayFrame(); ok {
			if pipe.Stats().Recording {
				ui.DrawRecordingStatus(&frame, pipe.ClipElapsed())
			}
			if state.DebugMode {
				ui.DrawDebugLogs(&frame, logRing.Lines())
			}
			ui.DrawHelpText(&frame)
			window.IMShow(frame)
			frame.Close()
		}
		if input.ProcessInput(window.WaitKey(30), state, pipe, log) {
			return nil
		}
	}
	return nil
}
