package app

import (
	"io"
	"os"

	"github.com/charmbracelet/log"
)

// NewLogger builds the root logger. An empty level means info.
func NewLogger(out io.Writer, level string) (*log.Logger, error) {
	if out == nil {
		out = os.Stderr
	}
	lvl := log.InfoLevel
	if level != "" {
		var err error
		if lvl, err = log.ParseLevel(level); err != nil {
			return nil, err
		}
	}
	return log.NewWithOptions(out, log.Options{
		Prefix:          "scripthost",
		ReportTimestamp: true,
		Level:           lvl,
	}), nil
}
