package app

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/dshills/scripthost/internal/interop"
)

var (
	replyStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("12"))
	errorStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
)

// Serve reads console lines from r and executes each. It returns ErrQuit on
// "stop", nil at end of input, or ctx's error.
func (app *Application) Serve(ctx context.Context, r io.Reader) error {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := app.Exec(ctx, scanner.Text())
		switch {
		case err == nil:
		case errors.Is(err, ErrQuit):
			return err
		default:
			app.printf(errorStyle, "%v", err)
		}
	}
	return scanner.Err()
}

// Exec runs one console line:
//
//	reload               reload every extension
//	stop                 stop the host
//	commands             list registered commands
//	emit <topic> [k=v]   deliver an event to listeners
//	papi <text>          expand placeholders in text
//	<name> [args]        run a registered command
//
// Everything except reload and stop runs on the primary loop.
func (app *Application) Exec(ctx context.Context, line string) error {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil
	}
	name, args := strings.ToLower(fields[0]), fields[1:]

	switch name {
	case "stop":
		return ErrQuit

	case "reload":
		report, err := app.Reload(ctx)
		if err != nil {
			return err
		}
		app.printf(replyStyle, "reloaded: %d loaded, %d failed", len(report.Loaded), len(report.Failed))
		return nil

	case "commands":
		return app.onPrimary(ctx, func(context.Context) error {
			app.printf(replyStyle, "%s", strings.Join(app.hub.Commands.Names(), " "))
			return nil
		})

	case "emit":
		if len(args) == 0 {
			return errors.New("usage: emit <topic> [key=value ...]")
		}
		ev := interop.Event{Topic: args[0], Data: parsePairs(args[1:])}
		return app.onPrimary(ctx, func(ctx context.Context) error {
			return app.hub.Listeners.Emit(ctx, ev)
		})

	case "papi":
		text := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(line), fields[0]))
		return app.onPrimary(ctx, func(ctx context.Context) error {
			app.printf(replyStyle, "%s", app.hub.Placeholders.Resolve(ctx, text))
			return nil
		})
	}

	return app.onPrimary(ctx, func(ctx context.Context) error {
		if !app.hub.Commands.Has(name) {
			return fmt.Errorf("%w: %s", ErrUnknownCommand, name)
		}
		return app.hub.Commands.Execute(ctx, name, args)
	})
}

// parsePairs turns key=value arguments into event data. A bare word maps to "".
func parsePairs(args []string) map[string]string {
	data := make(map[string]string, len(args))
	for _, arg := range args {
		k, v, _ := strings.Cut(arg, "=")
		data[k] = v
	}
	return data
}

func (app *Application) printf(style lipgloss.Style, format string, args ...any) {
	out := app.opts.Stdout
	if out == nil {
		out = os.Stdout
	}
	fmt.Fprintln(out, style.Render(fmt.Sprintf(format, args...)))
}
