package ffmpeg

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/floostack/transcoder"
	"github.com/floostack/transcoder/ffmpeg"
	"github.com/riptide-app/riptide/pkg/logger"
)

var log = logger.Get("FFmpeg")

type Config struct {
	FfmpegBinPath  string `yaml:"ffmpeg_bin_path" env:"FFMPEG_BIN_PATH" env-default:"/usr/bin/ffmpeg"`
	FfprobeBinPath string `yaml:"ffprobe_bin_path" env:"FFPROBE_BIN_PATH" env-default:"/usr/bin/ffprobe"`
}

type Progress struct {
	FramesProcessed string
	CurrentTime     string
	CurrentBitrate  string
	Progress        float64
	Speed           string
}

// ConvertCommand wraps a single ffmpeg execution which re-encodes the
// input file in to the container/codec dictated by the output files
// extension (e.g. '.wav' delivery of a downloaded '.m4a' stream).
type ConvertCommand struct {
	inputPath  string
	outputPath string
	config     *Config
}

func NewCmd(input string, output string, config *Config) *ConvertCommand {
	return &ConvertCommand{input, output, config}
}

// Run executes the conversion, reporting transcode progress through the
// updateHandler provided. This method blocks until ffmpeg closes its
// progress channel, or until the context provided is cancelled.
func (cmd *ConvertCommand) Run(ctx context.Context, updateHandler func(*Progress)) error {
	skipVideo := true
	opts := ffmpeg.Options{SkipVideo: &skipVideo}

	trans := ffmpeg.
		New(&ffmpeg.Config{
			ProgressEnabled: true,
			FfmpegBinPath:   cmd.config.FfmpegBinPath,
			FfprobeBinPath:  cmd.config.FfprobeBinPath,
		}).
		Input(cmd.inputPath).
		Output(cmd.outputPath).
		WithContext(&ctx)

	progressChannel, err := trans.Start(transcoder.Options(opts))
	if err != nil {
		return fmt.Errorf("ffmpeg conversion of %s failed to start: %w", filepath.Base(cmd.inputPath), err)
	}

	for {
		prog, ok := <-progressChannel
		if !ok {
			log.Emit(logger.DEBUG, "FFmpeg command has closed progress channel\n")
			return ctx.Err()
		}

		if updateHandler != nil {
			updateHandler(&Progress{
				FramesProcessed: prog.GetFramesProcessed(),
				CurrentTime:     prog.GetCurrentTime(),
				CurrentBitrate:  prog.GetCurrentBitrate(),
				Progress:        prog.GetProgress(),
				Speed:           prog.GetSpeed(),
			})
		}
	}
}
