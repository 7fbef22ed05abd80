package logging

import (
	"io"
	"log"
	"os"
	"strings"

	"github.com/pkg/errors"
	jww "github.com/spf13/jwalterweatherman"
)

// ParseLevel maps a LOG_LEVEL value to a jww threshold. Unknown values
// fall back to info.
func ParseLevel(level string) jww.Threshold {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "trace":
		return jww.LevelTrace
	case "debug":
		return jww.LevelDebug
	case "warn", "warning":
		return jww.LevelWarn
	case "error":
		return jww.LevelError
	default:
		return jww.LevelInfo
	}
}

// Init enables jww logging at the given level. When logPath is set, stdout
// output is disabled and log lines are appended to the file instead.
func Init(level, logPath string) error {
	threshold := ParseLevel(level)

	if logPath != "" && logPath != "-" {
		jww.SetStdoutOutput(io.Discard)
		logOutput, err :=
			os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			return errors.Wrapf(err, "open log file %s", logPath)
		}
		jww.SetLogOutput(logOutput)
	}

	// Display microseconds if the threshold is set to TRACE or DEBUG
	if threshold <= jww.LevelDebug {
		jww.SetFlags(log.LstdFlags | log.Lmicroseconds)
	}

	jww.SetStdoutThreshold(threshold)
	jww.SetLogThreshold(threshold)
	jww.INFO.Printf("log level set to: %s", threshold)
	return nil
}
