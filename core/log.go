package core

import (
	"io"
	"os"

	"github.com/google/logger"
	"github.com/pkg/errors"
)

// InitLogger sets up the package level logger. Logs go to the configured
// file, or to stderr when there is none.
func InitLogger(cfg LogConfig) (*logger.Logger, error) {
	var out io.Writer = io.Discard
	verbose := cfg.Verbose
	if cfg.File != "" {
		f, err := os.OpenFile(cfg.File, os.O_RDWR|os.O_APPEND|os.O_CREATE, 0644)
		if err != nil {
			return nil, errors.Wrapf(err, "cannot create logfile in given path %s", cfg.File)
		}
		out = f
	} else {
		verbose = true
	}
	return logger.Init("cardmw", verbose, cfg.Syslog, out), nil
}
