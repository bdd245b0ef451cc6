package duckframectl

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"strings"

	"github.com/duckmesh/duckframe/internal/config"
	"github.com/duckmesh/duckframe/internal/frame"
)

type Options struct {
	Helper   *frame.Helper
	Defaults config.HelperConfig
	Stdout   io.Writer
	Stderr   io.Writer
}

func Run(ctx context.Context, args []string, defaults Options) int {
	stdout := defaults.Stdout
	if stdout == nil {
		stdout = io.Discard
	}
	stderr := defaults.Stderr
	if stderr == nil {
		stderr = io.Discard
	}
	if defaults.Helper == nil {
		_, _ = fmt.Fprintln(stderr, "dataframe helper is not configured")
		return 1
	}
	helpers := withHelperDefaults(defaults.Defaults)
	helper := *defaults.Helper
	helper.Out = stdout

	fs := flag.NewFlagSet("duckframectl", flag.ContinueOnError)
	fs.SetOutput(stderr)
	inputFormat := fs.String("input-format", string(frame.FormatParquet), "format of the input dataset (parquet, csv, json)")

	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() < 1 {
		writeUsage(stderr)
		return 2
	}
	format, err := frame.ParseFormat(*inputFormat)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "invalid -input-format: %v\n", err)
		return 2
	}

	cmd := command{helper: &helper, defaults: helpers, inputFormat: format, stderr: stderr}
	name := strings.TrimSpace(fs.Arg(0))
	rest := fs.Args()[1:]
	switch name {
	case "schema":
		err = cmd.schema(ctx, rest)
	case "show":
		err = cmd.show(ctx, rest)
	case "prune":
		err = cmd.prune(ctx, rest)
	case "convert":
		err = cmd.convert(ctx, rest)
	default:
		_, _ = fmt.Fprintf(stderr, "unknown command %q\n\n", name)
		writeUsage(stderr)
		return 2
	}

	var usage usageError
	switch {
	case err == nil:
		return 0
	case errors.As(err, &usage):
		_, _ = fmt.Fprintf(stderr, "%s: %v\n", name, err)
		return 2
	case errors.Is(err, flag.ErrHelp):
		return 0
	default:
		_, _ = fmt.Fprintf(stderr, "%s failed: %v\n", name, err)
		return 1
	}
}

type usageError struct {
	msg string
}

func (e usageError) Error() string { return e.msg }

type command struct {
	helper      *frame.Helper
	defaults    config.HelperConfig
	inputFormat frame.Format
	stderr      io.Writer
}

func (c command) flagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(c.stderr)
	return fs
}

func (c command) schema(ctx context.Context, args []string) error {
	fs := c.flagSet("schema")
	if err := parseArgs(fs, args, 1); err != nil {
		return err
	}
	handle, err := c.helper.ReadFormat(ctx, fs.Arg(0), c.inputFormat)
	if err != nil {
		return err
	}
	_, err = c.helper.DescribeSchema(ctx, handle)
	return err
}

func (c command) show(ctx context.Context, args []string) error {
	fs := c.flagSet("show")
	rows := fs.Int("n", c.defaults.PreviewRows, "number of rows to print")
	if err := parseArgs(fs, args, 1); err != nil {
		return err
	}
	handle, err := c.helper.ReadFormat(ctx, fs.Arg(0), c.inputFormat)
	if err != nil {
		return err
	}
	return c.helper.Preview(ctx, handle, *rows)
}

func (c command) prune(ctx context.Context, args []string) error {
	fs := c.flagSet("prune")
	threshold := fs.Float64("threshold", c.defaults.NullThreshold, "drop columns whose null ratio is above this value")
	level := fs.String("level", string(c.defaults.StorageLevel), "storage level used while pruning")
	format := fs.String("format", string(c.defaults.WriteFormat), "output format (parquet, csv, json)")
	mode := fs.String("mode", string(c.defaults.WriteMode), "save mode (overwrite, append, ignore, errorifexists)")
	if err := parseArgs(fs, args, 2); err != nil {
		return err
	}

	source, err := c.helper.ReadFormat(ctx, fs.Arg(0), c.inputFormat)
	if err != nil {
		return err
	}
	if _, err := c.helper.Persist(ctx, source, *level); err != nil {
		return err
	}
	pruned, err := c.helper.PruneSparseColumns(ctx, source, *threshold)
	if err != nil {
		return err
	}
	if _, err := c.helper.DescribeSchema(ctx, pruned); err != nil {
		return err
	}
	if err := c.helper.Write(ctx, pruned, fs.Arg(1), *format, *mode); err != nil {
		return err
	}
	_, err = c.helper.Unpersist(ctx, source)
	return err
}

func (c command) convert(ctx context.Context, args []string) error {
	fs := c.flagSet("convert")
	format := fs.String("format", string(c.defaults.WriteFormat), "output format (parquet, csv, json)")
	mode := fs.String("mode", string(c.defaults.WriteMode), "save mode (overwrite, append, ignore, errorifexists)")
	if err := parseArgs(fs, args, 2); err != nil {
		return err
	}
	handle, err := c.helper.ReadFormat(ctx, fs.Arg(0), c.inputFormat)
	if err != nil {
		return err
	}
	return c.helper.Write(ctx, handle, fs.Arg(1), *format, *mode)
}

func parseArgs(fs *flag.FlagSet, args []string, positional int) error {
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return err
		}
		return usageError{msg: err.Error()}
	}
	if fs.NArg() != positional {
		return usageError{msg: fmt.Sprintf("expected %d path argument(s), got %d", positional, fs.NArg())}
	}
	return nil
}

func withHelperDefaults(cfg config.HelperConfig) config.HelperConfig {
	if cfg.NullThreshold == 0 && cfg.StorageLevel == "" {
		cfg.NullThreshold = frame.DefaultNullThreshold
	}
	if cfg.StorageLevel == "" {
		cfg.StorageLevel = frame.DefaultStorageLevel
	}
	if cfg.WriteFormat == "" {
		cfg.WriteFormat = frame.DefaultFormat
	}
	if cfg.WriteMode == "" {
		cfg.WriteMode = frame.DefaultSaveMode
	}
	if cfg.PreviewRows <= 0 {
		cfg.PreviewRows = frame.DefaultPreviewRows
	}
	return cfg
}

func writeUsage(w io.Writer) {
	_, _ = fmt.Fprintln(w, "usage: duckframectl [-input-format F] <command> [flags] <paths>")
	_, _ = fmt.Fprintln(w, "")
	_, _ = fmt.Fprintln(w, "commands:")
	_, _ = fmt.Fprintln(w, "  schema <path>                  print the schema tree")
	_, _ = fmt.Fprintln(w, "  show [-n N] <path>             print the first N rows")
	_, _ = fmt.Fprintln(w, "  prune [flags] <in> <out>       drop sparse columns and write the result")
	_, _ = fmt.Fprintln(w, "  convert [flags] <in> <out>     rewrite a dataset in another format")
	_, _ = fmt.Fprintln(w, "")
	_, _ = fmt.Fprintln(w, "paths may be local files, directories or s3://bucket/key")
}
