package cmd

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"github.com/xuri/excelize/v2"

	"github.com/arathald/mbox-to-pdf/classify"
	"github.com/arathald/mbox-to-pdf/filter"
	"github.com/arathald/mbox-to-pdf/group"
	"github.com/arathald/mbox-to-pdf/mbox"
	"github.com/arathald/mbox-to-pdf/message"
	"github.com/arathald/mbox-to-pdf/model"
	"github.com/arathald/mbox-to-pdf/stats"
)

// Categories tracked by inspect, in report order.
var categories = []string{"Format", "Media-Type", "Extension", "From", "Period"}

const reportLimit = 1000

type inspectOptions struct {
	reportDir string
	workbook  string
	topN      int
	groupBy   string
	filter    filter.Options
}

// NewInspectCmd returns the inspect subcommand. It classifies every
// attachment in the given mailboxes without writing documents.
func NewInspectCmd(logger func() *slog.Logger) *cobra.Command {
	var opts inspectOptions

	cmd := &cobra.Command{
		Use:   "inspect [mbox file...]",
		Short: "Classify attachments and show what a conversion would render",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			strategy, err := group.ParseStrategy(opts.groupBy)
			if err != nil {
				return err
			}

			var f *filter.Filter
			if opts.filter.Active() {
				if f, err = filter.New(opts.filter); err != nil {
					return fmt.Errorf("create filter: %w", err)
				}
			}

			log := slog.Default()
			if logger != nil {
				log = logger()
			}

			inv := newInventory(strategy)
			for _, path := range args {
				reader, err := mbox.NewReader(mbox.Options{Path: path}, log)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Analyzing mbox file:", path)
				if err := inv.scan(cmd.Context(), reader, f, log); err != nil {
					return fmt.Errorf("error reading mbox file: %w", err)
				}
			}

			inv.print(cmd.OutOrStdout(), opts.topN)

			if opts.reportDir != "" {
				if err := saveCSVReports(inv.counter, opts.reportDir, reportLimit); err != nil {
					return fmt.Errorf("error saving CSV reports: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "\nReports saved to directory: %s\n", opts.reportDir)
			}
			if opts.workbook != "" {
				if err := saveWorkbook(inv.counter, opts.workbook, reportLimit); err != nil {
					return fmt.Errorf("error saving workbook: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Workbook saved to: %s\n", opts.workbook)
			}
			return nil
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&opts.reportDir, "output", "o", "", "Output directory for CSV reports")
	flags.StringVar(&opts.workbook, "xlsx", "", "Write all reports into one .xlsx workbook")
	flags.IntVarP(&opts.topN, "top", "t", 10, "Number of top items to display in statistics")
	flags.StringVar(&opts.groupBy, "group-by", string(group.Month), "Grouping period used for the Period report")
	flags.StringArrayVar(&opts.filter.IncludeHeader, "include-header", nil, "Regex allow-list applied to message headers (mutually exclusive with exclude flags)")
	flags.StringArrayVar(&opts.filter.IncludeBody, "include-body", nil, "Regex allow-list applied to message bodies (mutually exclusive with exclude flags)")
	flags.StringArrayVar(&opts.filter.ExcludeHeader, "exclude-header", nil, "Regex block-list applied to message headers (mutually exclusive with include flags)")
	flags.StringArrayVar(&opts.filter.ExcludeBody, "exclude-body", nil, "Regex block-list applied to message bodies (mutually exclusive with include flags)")
	return cmd
}

type inventory struct {
	strategy    group.Strategy
	counter     map[string]map[string]int
	messages    int
	skipped     int
	attachments int
	malformed   int
}

func newInventory(strategy group.Strategy) *inventory {
	counter := make(map[string]map[string]int, len(categories))
	for _, c := range categories {
		counter[c] = make(map[string]int)
	}
	return &inventory{strategy: strategy, counter: counter}
}

func (inv *inventory) scan(ctx context.Context, reader mbox.Reader, f *filter.Filter, logger *slog.Logger) error {
	if ctx == nil {
		ctx = context.Background()
	}
	normalizer := message.NewNormalizer(logger)

	out := make(chan model.Envelope, 32)
	errCh := make(chan error, 1)
	go func() {
		errCh <- reader.Stream(ctx, out)
		close(out)
	}()

	for env := range out {
		if env.Err != nil {
			inv.malformed++
			continue
		}
		msg := normalizer.Normalize(env.Record)
		if f != nil && !f.AllowsMessage(msg) {
			inv.skipped++
			continue
		}
		inv.add(msg)
	}
	return <-errCh
}

func (inv *inventory) add(msg *model.Message) {
	inv.messages++
	if msg.From != "" {
		inv.counter["From"][msg.From]++
	}
	period := group.UnknownKey
	if msg.DateKnown {
		period = inv.strategy.Key(msg.Date)
	}
	inv.counter["Period"][period]++

	for _, att := range msg.Attachments {
		inv.attachments++
		format := classify.Classify(att.Data, att.MediaType, att.Filename)
		inv.counter["Format"][format.String()]++
		mediaType := att.MediaType
		if mediaType == "" {
			mediaType = "(none)"
		}
		inv.counter["Media-Type"][mediaType]++
		ext := strings.ToLower(filepath.Ext(att.Filename))
		if ext == "" {
			ext = "(none)"
		}
		inv.counter["Extension"][ext]++
	}
}

func (inv *inventory) print(w io.Writer, topN int) {
	fmt.Fprintf(w, "\nProcessed %d messages with %d attachments (skipped %d by filters, %d malformed)\n\n",
		inv.messages, inv.attachments, inv.skipped, inv.malformed)
	for _, c := range categories {
		fmt.Fprintf(w, "Top %d %s:\n", topN, c)
		stats.PrettyPrintTop(w, inv.counter[c], topN)
		fmt.Fprintln(w)
	}
}

type pair struct {
	Key   string
	Value int
}

func sortedPairs(counts map[string]int, limit int) []pair {
	pairs := make([]pair, 0, len(counts))
	for k, v := range counts {
		pairs = append(pairs, pair{k, v})
	}
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].Value != pairs[j].Value {
			return pairs[i].Value > pairs[j].Value
		}
		return pairs[i].Key < pairs[j].Key
	})
	if len(pairs) > limit {
		pairs = pairs[:limit]
	}
	return pairs
}

func saveCSVReports(counter map[string]map[string]int, dir string, limit int) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	for _, category := range categories {
		filePath := filepath.Join(dir, fmt.Sprintf("report_%s.csv", normalizeName(category)))
		file, err := os.Create(filePath)
		if err != nil {
			return err
		}

		writer := csv.NewWriter(file)
		if err := writer.Write([]string{"Value", "Count"}); err != nil {
			file.Close()
			return err
		}
		for _, p := range sortedPairs(counter[category], limit) {
			if err := writer.Write([]string{p.Key, strconv.Itoa(p.Value)}); err != nil {
				file.Close()
				return err
			}
		}

		writer.Flush()
		if err := writer.Error(); err != nil {
			file.Close()
			return err
		}
		if err := file.Close(); err != nil {
			return err
		}
	}

	return nil
}

// saveWorkbook writes one sheet per category.
func saveWorkbook(counter map[string]map[string]int, path string, limit int) error {
	f := excelize.NewFile()
	defer f.Close()

	for i, category := range categories {
		sheet := category
		if i == 0 {
			if err := f.SetSheetName("Sheet1", sheet); err != nil {
				return err
			}
		} else if _, err := f.NewSheet(sheet); err != nil {
			return err
		}

		if err := f.SetSheetRow(sheet, "A1", &[]any{"Value", "Count"}); err != nil {
			return err
		}
		for row, p := range sortedPairs(counter[category], limit) {
			cell, err := excelize.CoordinatesToCellName(1, row+2)
			if err != nil {
				return err
			}
			if err := f.SetSheetRow(sheet, cell, &[]any{p.Key, p.Value}); err != nil {
				return err
			}
		}
	}

	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return f.SaveAs(path)
}

func normalizeName(name string) string {
	name = strings.ToLower(name)
	name = strings.ReplaceAll(name, "-", "_")
	name = strings.ReplaceAll(name, " ", "_")
	return name
}
