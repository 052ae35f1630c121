package build

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/evanw/esbuild/pkg/api"
)

// PluginName is the name the live-reload plugin registers with esbuild.
const PluginName = "livereload"

// Plugin returns an esbuild plugin that fires l.Start when a build begins
// and l.End when it finishes. Failed builds still fire End so the page
// reloads into the bundler's error output.
func Plugin(l *Lifecycle, logger *slog.Logger) api.Plugin {
	if logger == nil {
		logger = slog.Default()
	}
	return api.Plugin{
		Name: PluginName,
		Setup: func(b api.PluginBuild) {
			b.OnStart(func() (api.OnStartResult, error) {
				l.Start()
				return api.OnStartResult{}, nil
			})
			b.OnEnd(func(result *api.BuildResult) (api.OnEndResult, error) {
				if result != nil && len(result.Errors) > 0 {
					logger.Warn("build finished with errors",
						slog.Int("errors", len(result.Errors)),
						slog.String("first", result.Errors[0].Text))
				}
				l.End()
				return api.OnEndResult{}, nil
			})
		},
	}
}

// Options configures an esbuild watch session.
type Options struct {
	EntryPoints []string
	Outdir      string
	// Plugins run before the live-reload plugin.
	Plugins []api.Plugin
	// LogLevel defaults to esbuild's silent level.
	LogLevel api.LogLevel
}

// ErrNoEntryPoints is returned by Watch when there is nothing to build.
var ErrNoEntryPoints = errors.New("no entry points configured")

// Watch bundles opts.EntryPoints into opts.Outdir and rebuilds on every
// source change, driving l through Plugin. It blocks until ctx is
// cancelled, then disposes the build context and returns nil.
func Watch(ctx context.Context, opts Options, l *Lifecycle, logger *slog.Logger) error {
	if len(opts.EntryPoints) == 0 {
		return ErrNoEntryPoints
	}
	if logger == nil {
		logger = slog.Default()
	}
	plugins := append(append([]api.Plugin{}, opts.Plugins...), Plugin(l, logger))
	bctx, ctxErr := api.Context(api.BuildOptions{
		EntryPoints: opts.EntryPoints,
		Bundle:      true,
		Outdir:      opts.Outdir,
		Write:       true,
		LogLevel:    opts.LogLevel,
		Plugins:     plugins,
	})
	if ctxErr != nil {
		return fmt.Errorf("creating esbuild context: %s", formatMessages(ctxErr.Errors))
	}
	defer bctx.Dispose()

	if err := bctx.Watch(api.WatchOptions{}); err != nil {
		return fmt.Errorf("starting esbuild watch: %w", err)
	}
	logger.Info("esbuild watching",
		slog.Any("entryPoints", opts.EntryPoints),
		slog.String("outdir", opts.Outdir))

	<-ctx.Done()
	logger.Info("esbuild watch stopped")
	return nil
}

func formatMessages(msgs []api.Message) string {
	texts := make([]string, 0, len(msgs))
	for _, m := range msgs {
		texts = append(texts, m.Text)
	}
	return strings.Join(texts, "; ")
}
