package ssc

import (
	"fmt"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// ScheduleClear starts a cron scheduler that clears the whole cache on the
// standard five-field schedule spec (e.g. "0 3 * * *").
// Stop the returned scheduler on shutdown.
func (g *Gate) ScheduleClear(spec string) (*cron.Cron, error) {
	cl := cronLogger{log: g.log.With().Str("job", "clear").Logger()}
	c := cron.New(cron.WithChain(cron.Recover(cl)), cron.WithLogger(cl))
	if _, err := c.AddFunc(spec, func() {
		// failures are logged by ClearAll
		_, _ = g.ClearAll()
	}); err != nil {
		return nil, fmt.Errorf("invalid clear schedule %q: %w", spec, err)
	}
	c.Start()
	g.log.Info().Str("schedule", spec).Msg("Scheduled cache clear")
	return c, nil
}

// cronLogger adapts zerolog to cron.Logger.
type cronLogger struct {
	log zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Trace().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
