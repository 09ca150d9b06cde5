// musicmaid indexes the metadata of FLAC and Ogg Opus/Vorbis libraries into
// a database and edits Vorbis comments in place.
//
// Usage:
//
//	musicmaid [--config file] <command> [flags] [args]
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/robfig/cron/v3"
	"github.com/spf13/pflag"

	"musicmaid/internal/health"
	"musicmaid/internal/logging"
	"musicmaid/internal/tagwriter"
	"musicmaid/internal/vorbis"
)

type command struct {
	name    string
	usage   string
	summary string
	run     func(ctx context.Context, app *App, args []string) error
}

var commands = []command{
	{"index", "index <dir> [--workers N] [--schedule CRON]", "index every FLAC and Ogg file below dir", runIndex},
	{"list", "list [--page N] [--page-size N]", "list indexed files", runList},
	{"show", "show <file>", "print the stored index of a file", runShow},
	{"set", "set <file> KEY=VALUE...", "replace comment values and re-index", runSet},
	{"remove", "remove <file> KEY...", "remove comments and re-index", runRemove},
	{"extract-picture", "extract-picture <file> <index> <out>", "write an embedded picture to out", runExtractPicture},
	{"prune-blobs", "prune-blobs [--grace DURATION]", "delete blobs no row references", runPruneBlobs},
	{"health", "health", "check the database and blob spill directory", runHealth},
}

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(argv []string) error {
	var configFile, metricsFile, logLevel string

	flagSet := pflag.NewFlagSet("musicmaid", pflag.ContinueOnError)
	flagSet.SetInterspersed(false)
	flagSet.StringVar(&configFile, "config", "", "path to config file (default: ./config.yaml)")
	flagSet.StringVar(&metricsFile, "metrics-file", "", "write metrics in text format to this file on exit")
	flagSet.StringVar(&logLevel, "log-level", "", "override logging.level (debug, info, warn, error)")
	flagSet.Usage = func() { printHelp(flagSet) }

	if err := flagSet.Parse(argv); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	args := flagSet.Args()
	if len(args) == 0 {
		printHelp(flagSet)
		return errors.New("no command given")
	}

	cmd, ok := lookup(args[0])
	if !ok {
		return fmt.Errorf("unknown command %q", args[0])
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := NewApp(configFile)
	if err != nil {
		return err
	}
	defer app.Close()
	if logLevel != "" {
		if err := app.logger.SetLogLevel(logging.LogLevel(logLevel)); err != nil {
			return err
		}
	}

	err = cmd.run(ctx, app, args[1:])
	if metricsFile != "" {
		if werr := prometheus.WriteToTextfile(metricsFile, app.registry); werr != nil {
			app.logger.Zerolog().Error().Err(werr).Str("path", metricsFile).Msg("Failed to write metrics")
		}
	}
	return err
}

func lookup(name string) (command, bool) {
	for _, c := range commands {
		if c.name == name {
			return c, true
		}
	}
	return command{}, false
}

func printHelp(flagSet *pflag.FlagSet) {
	fmt.Fprintln(os.Stderr, "Usage: musicmaid [flags] <command> [args]")
	fmt.Fprintln(os.Stderr)
	fmt.Fprintln(os.Stderr, "Commands:")
	for _, c := range commands {
		fmt.Fprintf(os.Stderr, "  %-40s %s\n", c.usage, c.summary)
	}
	fmt.Fprintln(os.Stderr)
	fmt.Fprintln(os.Stderr, "Flags:")
	fmt.Fprint(os.Stderr, flagSet.FlagUsages())
}

func runIndex(ctx context.Context, app *App, argv []string) error {
	var workers int
	var schedule string

	flagSet := pflag.NewFlagSet("index", pflag.ContinueOnError)
	flagSet.IntVar(&workers, "workers", 0, "number of files indexed in parallel (default: indexer.workers)")
	flagSet.StringVar(&schedule, "schedule", app.config.Indexer.Schedule, "cron spec; rescan periodically until interrupted")
	if err := flagSet.Parse(argv); err != nil {
		return err
	}
	if flagSet.NArg() != 1 {
		return errors.New("usage: musicmaid index <dir>")
	}
	root := flagSet.Arg(0)
	s := app.Scanner(workers)

	scan := func() error {
		stats, err := s.ScanDirectory(ctx, root)
		if stats != nil {
			fmt.Printf("Scan %s: %d discovered, %d indexed, %d failed, %d removed in %v (%.1f files/s)\n",
				stats.ScanID, stats.Discovered, stats.Indexed, stats.Failed(), stats.Removed,
				stats.Duration.Round(time.Millisecond), stats.FilesPerSecond)
			for _, f := range stats.Failures {
				fmt.Printf("  %s: %s\n", f.Path, f.Error)
			}
		}
		return err
	}

	if schedule == "" {
		return scan()
	}

	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if _, err := c.AddFunc(schedule, func() {
		if err := scan(); err != nil && ctx.Err() == nil {
			app.logger.Zerolog().Error().Err(err).Str("root", root).Msg("Scheduled scan failed")
		}
	}); err != nil {
		return fmt.Errorf("invalid schedule %q: %w", schedule, err)
	}

	app.logger.Zerolog().Info().Str("schedule", schedule).Str("root", root).Msg("Scheduled rescans started")
	if err := scan(); err != nil {
		return err
	}
	c.Start()
	<-ctx.Done()
	<-c.Stop().Done()
	return nil
}

func runList(ctx context.Context, app *App, argv []string) error {
	var page, pageSize int

	flagSet := pflag.NewFlagSet("list", pflag.ContinueOnError)
	flagSet.IntVar(&page, "page", 1, "page number")
	flagSet.IntVar(&pageSize, "page-size", 50, "files per page")
	if err := flagSet.Parse(argv); err != nil {
		return err
	}

	files, meta, err := app.repo.ListFilesPage(ctx, page, pageSize)
	if err != nil {
		return err
	}
	for _, f := range files {
		fmt.Printf("%-10d %s\n", f.FileSize, f.Path)
	}
	fmt.Printf("Page %d of %d (%d files)\n", meta.CurrentPage, meta.TotalPages, meta.TotalCount)
	return nil
}

func runShow(ctx context.Context, app *App, args []string) error {
	if len(args) != 1 {
		return errors.New("usage: musicmaid show <file>")
	}
	idx, values, err := app.writer.LoadIndex(ctx, args[0])
	if err != nil {
		return err
	}

	fmt.Printf("%s (%s, %d bytes, metadata ends at %d, indexed %s)\n", idx.File.Path, idx.File.Format,
		idx.File.FileSize, idx.File.MetadataEnd, idx.File.IndexedAt.Format(time.RFC3339))
	for _, p := range idx.Paddings {
		fmt.Printf("padding   @%-10d %d bytes\n", p.FilePtr, p.ByteSize)
	}
	if idx.Meta != nil {
		fmt.Printf("vendor    @%-10d %s\n", idx.Meta.FilePtr, idx.Meta.Vendor)
	}
	for i, c := range idx.Comments {
		value := values[i]
		if c.BlobHash != nil && len(value) > 80 {
			value = fmt.Sprintf("%s... (%d bytes, blob %s)", value[:80], len(value), *c.BlobHash)
		}
		fmt.Printf("comment   @%-10d %s=%s\n", c.FilePtr, c.Key, value)
	}
	for i, p := range idx.Pictures {
		origin := "block"
		if p.VorbisComment {
			origin = "comment"
		}
		fmt.Printf("picture %d @%-10d %s %dx%d %d bytes (%s)\n", i, p.FilePtr, p.MIME, p.Width, p.Height, p.Size, origin)
	}
	return nil
}

func runSet(ctx context.Context, app *App, args []string) error {
	if len(args) < 2 {
		return errors.New("usage: musicmaid set <file> KEY=VALUE...")
	}

	// Repeated keys set multiple values, in argument order
	var keys []string
	values := make(map[string][]string)
	for _, kv := range args[1:] {
		key, value, ok := strings.Cut(kv, "=")
		if !ok {
			return fmt.Errorf("expected KEY=VALUE, got %q", kv)
		}
		if _, seen := values[key]; !seen {
			keys = append(keys, key)
		}
		values[key] = append(values[key], value)
	}

	result, err := app.writer.Apply(ctx, args[0], func(b *vorbis.Block) error {
		for _, key := range keys {
			if err := b.Set(key, values[key]...); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	printResult(result)
	return nil
}

func runRemove(ctx context.Context, app *App, args []string) error {
	if len(args) < 2 {
		return errors.New("usage: musicmaid remove <file> KEY...")
	}
	result, err := app.writer.RemoveComments(ctx, args[0], args[1:]...)
	if err != nil {
		return err
	}
	printResult(result)
	return nil
}

func runExtractPicture(ctx context.Context, app *App, args []string) error {
	if len(args) != 3 {
		return errors.New("usage: musicmaid extract-picture <file> <index> <out>")
	}
	n, err := strconv.Atoi(args[1])
	if err != nil {
		return fmt.Errorf("invalid picture index %q", args[1])
	}
	data, pic, err := app.writer.ExtractPicture(ctx, args[0], n)
	if err != nil {
		return err
	}
	if err := os.WriteFile(args[2], data, 0644); err != nil {
		return fmt.Errorf("failed to write picture: %w", err)
	}
	fmt.Printf("Wrote %d bytes (%s) to %s\n", len(data), pic.MIME, args[2])
	return nil
}

func runPruneBlobs(ctx context.Context, app *App, argv []string) error {
	var grace time.Duration

	flagSet := pflag.NewFlagSet("prune-blobs", pflag.ContinueOnError)
	flagSet.DurationVar(&grace, "grace", time.Hour, "keep blobs created within this window")
	if err := flagSet.Parse(argv); err != nil {
		return err
	}

	n, err := app.blobs.Prune(ctx, grace)
	if err != nil {
		return err
	}
	fmt.Printf("Pruned %d blobs\n", n)
	return nil
}

func runHealth(ctx context.Context, app *App, args []string) error {
	report := app.Health().Check(ctx)

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(report); err != nil {
		return err
	}
	if report.Status == health.StatusDown {
		return errors.New("unhealthy")
	}
	return nil
}

func printResult(result *tagwriter.WriteResult) {
	if !result.Changed {
		fmt.Println("Unchanged")
		return
	}
	fmt.Printf("Rewrote comment block %s: %d -> %d bytes, %d bytes written\n",
		result.Mode, result.OldSize, result.NewSize, result.BytesWritten)
}
