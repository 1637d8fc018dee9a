// Package logging builds the zerolog loggers this server injects into
// its subsystems, following the same console-writer setup the rest of
// the corpus uses for local/dev output.
package logging

import (
	"io"
	"os"
	"time"

	"github.com/mattn/go-colorable"
	"github.com/rs/zerolog"
)

// New builds a colorized console logger tagged with app and, for every
// key in fields, an additional string field — e.g. New("socketio",
// "component", "dispatcher"). It is never assigned to a package-level
// global; each subsystem receives its own tagged instance at
// construction.
func New(app string, fields ...string) zerolog.Logger {
	var out io.Writer = colorable.NewColorableStdout()
	writer := zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}

	ctx := zerolog.New(writer).With().Timestamp().Str("app", app)
	for i := 0; i+1 < len(fields); i += 2 {
		ctx = ctx.Str(fields[i], fields[i+1])
	}
	return ctx.Logger()
}

// NewPlain builds an uncolorized logger, used for environments (CI,
// file redirection) where colorable's terminal detection would
// otherwise still emit ANSI escapes into a non-terminal stream.
func NewPlain(app string) zerolog.Logger {
	writer := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339, NoColor: true}
	return zerolog.New(writer).With().Timestamp().Str("app", app).Logger()
}
