package observability

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewLogger builds the process-wide structured logger. Production mode
// emits JSON lines; development mode switches to the console encoder.
func NewLogger(env string) *zap.Logger {
	if env == "development" {
		return zap.Must(zap.NewDevelopment())
	}

	cfg := zap.NewProductionConfig()
	cfg.EncoderConfig.TimeKey = "timestamp"
	cfg.EncoderConfig.EncodeTime = zapcore.RFC3339NanoTimeEncoder
	return zap.Must(cfg.Build())
}
