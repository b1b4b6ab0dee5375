package zapLogger

import (
	"io"
	"os"
	"sync"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	once sync.Once
	Log  = zap.NewNop().Sugar()
)

// Init initializes the process logger writing to stdout and path, and
// returns the opened log file handle. An empty path logs to stdout only.
func Init(path string, debug bool) *os.File {
	var logFile *os.File
	once.Do(func() {
		writers := []zapcore.WriteSyncer{zapcore.AddSync(os.Stdout)}
		if path != "" {
			var err error
			logFile, err = os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
			if err != nil {
				panic("cannot open log file: " + err.Error())
			}
			writers = append(writers, zapcore.AddSync(logFile))
		}

		encoderCfg := zap.NewProductionEncoderConfig()
		encoderCfg.TimeKey = "timestamp"
		encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder

		level := zap.InfoLevel
		if debug {
			level = zap.DebugLevel
		}

		core := zapcore.NewCore(
			zapcore.NewConsoleEncoder(encoderCfg),
			zapcore.NewMultiWriteSyncer(writers...),
			level,
		)

		Log = zap.New(core, zap.AddCaller()).Sugar()
	})
	return logFile
}

// FiberLoggingMiddleware returns Fiber's access logger writing to stdout and
// the given log file, if any.
func FiberLoggingMiddleware(logFile *os.File) fiber.Handler {
	var out io.Writer = os.Stdout
	if logFile != nil {
		out = io.MultiWriter(os.Stdout, logFile)
	}
	return logger.New(logger.Config{
		Output:     out,
		Format:     "${time} | ${status} | ${method} | ${path} | ${latency}\n",
		TimeFormat: "2006-01-02 15:04:05",
		TimeZone:   "Local",
	})
}
