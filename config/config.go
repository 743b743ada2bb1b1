package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/arathald/mbox-to-pdf/filter"
	"github.com/arathald/mbox-to-pdf/group"
	"github.com/arathald/mbox-to-pdf/handler"
	"github.com/arathald/mbox-to-pdf/render"
)

// EnvPrefix prefixes environment overrides, e.g. MBOX2PDF_GROUP_BY.
const EnvPrefix = "MBOX2PDF"

const minLinesPerPage = 10

// Config captures all options required to run a conversion.
type Config struct {
	MboxPaths         []string
	OutputDir         string
	GroupBy           string
	Workers           int
	MaxAttachmentSize int64
	AttachmentTimeout time.Duration
	LinesPerPage      int
	MaxPagesPerFile   int
	IncludeRawHeaders bool
	Force             bool
	LogLevel          string
	LogDir            string
	NoProgress        bool
	IncludeHeader     []string
	IncludeBody       []string
	ExcludeHeader     []string
	ExcludeBody       []string
}

// Filter returns the message filter options.
func (c Config) Filter() filter.Options {
	return filter.Options{
		IncludeHeader: c.IncludeHeader,
		IncludeBody:   c.IncludeBody,
		ExcludeHeader: c.ExcludeHeader,
		ExcludeBody:   c.ExcludeBody,
	}
}

// RegisterFlags attaches all CLI flags to the provided command.
func RegisterFlags(cmd *cobra.Command) error {
	flags := cmd.Flags()
	flags.String("config", "", "Optional YAML file with option values")
	flags.StringArray("mbox", nil, "Path to an .mbox file (repeatable, positional paths are added)")
	flags.StringP("output", "o", "", "Directory that receives the generated documents")
	flags.String("group-by", string(group.Month), "Grouping period: "+strings.Join(strategyNames(), ", "))
	flags.Int("workers", runtime.NumCPU(), "Number of sources and messages processed in parallel")
	flags.String("max-attachment-size", humanize.IBytes(handler.DefaultMaxSize), "Largest attachment that is rendered, e.g. 25MiB")
	flags.Duration("attachment-timeout", handler.DefaultTimeout, "Time limit for rendering one attachment")
	flags.Int("lines-per-page", render.DefaultPageLines, "Text lines that fit on one page")
	flags.Int("max-pages-per-file", 0, "Split a period into numbered parts after this many pages (0 keeps one file per period)")
	flags.Bool("include-raw-headers", false, "Append every raw header line below the message header")
	flags.Bool("force", false, "Rewrite documents even when their content is unchanged")
	flags.String("log-level", "info", "Logging level: debug, info, warn, error")
	flags.String("log-dir", "", "Directory for a timestamped log file")
	flags.Bool("no-progress", false, "Disable the progress bar")
	flags.StringArray("include-header", nil, "Regex allow-list applied to message headers (mutually exclusive with exclude flags)")
	flags.StringArray("include-body", nil, "Regex allow-list applied to message bodies (mutually exclusive with exclude flags)")
	flags.StringArray("exclude-header", nil, "Regex block-list applied to message headers (mutually exclusive with include flags)")
	flags.StringArray("exclude-body", nil, "Regex block-list applied to message bodies (mutually exclusive with include flags)")
	return nil
}

// LoadConfig merges flags, environment and the optional config file into a
// validated Config. Explicit flags win over the environment, which wins over
// the file.
func LoadConfig(cmd *cobra.Command, args []string) (Config, error) {
	v := viper.New()
	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return Config{}, err
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if path := v.GetString("config"); path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("reading config %s: %w", path, err)
		}
	}

	maxSize, err := humanize.ParseBytes(v.GetString("max-attachment-size"))
	if err != nil {
		return Config{}, fmt.Errorf("invalid --max-attachment-size: %w", err)
	}

	logLevel := strings.ToLower(strings.TrimSpace(v.GetString("log-level")))
	if logLevel == "warning" {
		logLevel = "warn"
	}

	var paths []string
	for _, p := range append(stringsOption(cmd.Flags(), v, "mbox"), args...) {
		if p = strings.TrimSpace(p); p != "" {
			paths = append(paths, filepath.Clean(p))
		}
	}

	outputDir := strings.TrimSpace(v.GetString("output"))
	if outputDir != "" {
		outputDir = filepath.Clean(outputDir)
	}

	cfg := Config{
		MboxPaths:         paths,
		OutputDir:         outputDir,
		GroupBy:           strings.ToLower(strings.TrimSpace(v.GetString("group-by"))),
		Workers:           v.GetInt("workers"),
		MaxAttachmentSize: int64(maxSize),
		AttachmentTimeout: v.GetDuration("attachment-timeout"),
		LinesPerPage:      v.GetInt("lines-per-page"),
		MaxPagesPerFile:   v.GetInt("max-pages-per-file"),
		IncludeRawHeaders: v.GetBool("include-raw-headers"),
		Force:             v.GetBool("force"),
		LogLevel:          logLevel,
		LogDir:            v.GetString("log-dir"),
		NoProgress:        v.GetBool("no-progress"),
		IncludeHeader:     stringsOption(cmd.Flags(), v, "include-header"),
		IncludeBody:       stringsOption(cmd.Flags(), v, "include-body"),
		ExcludeHeader:     stringsOption(cmd.Flags(), v, "exclude-header"),
		ExcludeBody:       stringsOption(cmd.Flags(), v, "exclude-body"),
	}

	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// stringsOption reads repeatable flags verbatim so patterns containing commas
// survive; other layers go through viper.
func stringsOption(flags *pflag.FlagSet, v *viper.Viper, name string) []string {
	if flag := flags.Lookup(name); flag != nil && flag.Changed {
		values, err := flags.GetStringArray(name)
		if err == nil {
			return values
		}
	}
	return v.GetStringSlice(name)
}

func validateConfig(cfg Config) error {
	if len(cfg.MboxPaths) == 0 {
		return fmt.Errorf("at least one mbox path is required")
	}
	for _, p := range cfg.MboxPaths {
		info, err := os.Stat(p)
		if err != nil {
			return fmt.Errorf("mbox %s: %w", p, err)
		}
		if info.IsDir() {
			return fmt.Errorf("mbox %s is a directory", p)
		}
	}
	if cfg.OutputDir == "" {
		return fmt.Errorf("--output is required")
	}
	if _, err := group.ParseStrategy(cfg.GroupBy); err != nil {
		return fmt.Errorf("invalid --group-by: %w", err)
	}
	if cfg.Workers <= 0 {
		return fmt.Errorf("--workers must be positive")
	}
	if cfg.MaxAttachmentSize <= 0 {
		return fmt.Errorf("--max-attachment-size must be positive")
	}
	if cfg.AttachmentTimeout <= 0 {
		return fmt.Errorf("--attachment-timeout must be positive")
	}
	if cfg.LinesPerPage < minLinesPerPage {
		return fmt.Errorf("--lines-per-page must be at least %d", minLinesPerPage)
	}
	if cfg.MaxPagesPerFile < 0 {
		return fmt.Errorf("--max-pages-per-file must not be negative")
	}
	if _, err := filter.New(cfg.Filter()); err != nil {
		if errors.Is(err, filter.ErrMutuallyExclusive) {
			return fmt.Errorf("include and exclude flags are mutually exclusive")
		}
		return err
	}

	switch cfg.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid --log-level: %s", cfg.LogLevel)
	}

	return nil
}

func strategyNames() []string {
	names := make([]string, len(group.Strategies))
	for i, s := range group.Strategies {
		names[i] = string(s)
	}
	return names
}
