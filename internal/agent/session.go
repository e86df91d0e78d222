package agent

import (
	"fmt"
	"image"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/resolve-agent/internal/calibration"
	"github.com/xkilldash9x/resolve-agent/internal/vision"
)

// SessionSink receives the artifacts of a run. Implementations must not block
// for long; they are called on the loop goroutine.
type SessionSink interface {
	LogSessionInfo(settings map[string]any, profile *calibration.Profile)
	LogIteration(index int, before, after image.Image, metrics vision.Metrics, raw map[string]any)
	LogActionScreenshot(iteration, actionIdx int, actionType string, img image.Image, phase string)
}

// NopSink discards everything.
type NopSink struct{}

func (NopSink) LogSessionInfo(map[string]any, *calibration.Profile)                        {}
func (NopSink) LogIteration(int, image.Image, image.Image, vision.Metrics, map[string]any) {}
func (NopSink) LogActionScreenshot(int, int, string, image.Image, string)                  {}

// LogSink writes session metadata and image dimensions as structured log lines.
type LogSink struct {
	logger *zap.Logger
	id     string
}

// NewLogSink tags every line with a fresh session id.
func NewLogSink(logger *zap.Logger) *LogSink {
	id := uuid.NewString()
	return &LogSink{logger: logger.Named("session").With(zap.String("session_id", id)), id: id}
}

// ID returns the session id.
func (s *LogSink) ID() string { return s.id }

func (s *LogSink) LogSessionInfo(settings map[string]any, profile *calibration.Profile) {
	fields := []zap.Field{zap.Any("settings", settings)}
	if profile != nil {
		fields = append(fields,
			zap.Any("roi", profile.ROI),
			zap.Int("screen_width", profile.ScreenWidth),
			zap.Int("screen_height", profile.ScreenHeight),
			zap.Strings("targets", profile.TargetNames()))
	}
	s.logger.Info("Session started.", fields...)
}

func (s *LogSink) LogIteration(index int, before, after image.Image, metrics vision.Metrics, raw map[string]any) {
	summary, _ := raw["summary"].(string)
	s.logger.Info("Iteration logged.",
		zap.Int("iteration", index),
		zap.String("before", sizeOf(before)),
		zap.String("after", sizeOf(after)),
		zap.Float64("ssim", metrics.SSIM),
		zap.Float64("histogram", metrics.Histogram),
		zap.Float64("delta_e", metrics.DeltaE),
		zap.Float64("overall", metrics.Overall),
		zap.String("summary", summary),
		zap.Any("response", raw))
}

func (s *LogSink) LogActionScreenshot(iteration, actionIdx int, actionType string, img image.Image, phase string) {
	s.logger.Debug("Action screenshot.",
		zap.Int("iteration", iteration),
		zap.Int("action", actionIdx),
		zap.String("type", actionType),
		zap.String("phase", phase),
		zap.String("size", sizeOf(img)))
}

func sizeOf(img image.Image) string {
	if img == nil {
		return "none"
	}
	b := img.Bounds()
	return fmt.Sprintf("%dx%d", b.Dx(), b.Dy())
}
