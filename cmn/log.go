package cmn

import (
	"os"

	"github.com/rs/zerolog"
)

// Log is the process-wide structured logger. The teacher's own logger
// (`3rdparty/glog`, a fork vendored inside the aistore tree) isn't a
// fetchable module path, so structured logging is adopted from the pack's
// cuemby-warren repo instead, which depends on zerolog directly.
var Log = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()

func SetLogLevel(level string) error {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		return err
	}
	zerolog.SetGlobalLevel(lvl)
	return nil
}
