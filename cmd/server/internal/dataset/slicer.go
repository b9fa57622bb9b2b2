package dataset

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/houzhh15/xtts-webui/cmd/server/internal/orchestrator/dependency"
)

// ClipSampleRate is the sample rate of dataset clips expected by the XTTS trainer.
const ClipSampleRate = 22050

// Slicer cuts [start, end) seconds of src into a mono clip at ClipSampleRate.
type Slicer interface {
	Slice(ctx context.Context, src, dst string, start, end float64) error
}

// FFmpegSlicer implements Slicer with ffmpeg.
type FFmpegSlicer struct {
	executor dependency.DependencyExecutor
}

// NewFFmpegSlicer creates a slicer for the "ffmpeg" command.
func NewFFmpegSlicer(executor dependency.DependencyExecutor) *FFmpegSlicer {
	return &FFmpegSlicer{executor: executor}
}

// Slice runs ffmpeg -ss start -to end and resamples to 22050 Hz mono.
func (s *FFmpegSlicer) Slice(ctx context.Context, src, dst string, start, end float64) error {
	if end <= start {
		return fmt.Errorf("invalid clip bounds %.3f-%.3f", start, end)
	}
	resp, err := s.executor.ExecuteCommand(ctx, dependency.CommandRequest{
		Command: "ffmpeg",
		Args: []string{
			"-y", "-hide_banner", "-loglevel", "error",
			"-i", src,
			"-ss", formatSeconds(start),
			"-to", formatSeconds(end),
			"-ar", strconv.Itoa(ClipSampleRate),
			"-ac", "1",
			dst,
		},
		Timeout: 5 * time.Minute,
	})
	if err != nil {
		return fmt.Errorf("ffmpeg slice failed: %w: %s", err, resp.Stderr)
	}
	return nil
}

func formatSeconds(s float64) string {
	return strconv.FormatFloat(s, 'f', 3, 64)
}
