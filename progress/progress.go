package progress

import (
	"sync"
	"time"

	"github.com/pterm/pterm"

	"github.com/arathald/mbox-to-pdf/model"
)

const titleLimit = 40

// Bar renders conversion progress in the terminal. Update matches the
// orchestrator's progress callback.
type Bar struct {
	pb      *pterm.ProgressbarPrinter
	mu      sync.Mutex
	enabled bool
	started time.Time
}

// New creates a progress bar. A disabled bar ignores every call.
func New(enabled bool) *Bar {
	return &Bar{enabled: enabled, started: time.Now()}
}

// Update moves the bar to current of total and shows label as its title.
func (b *Bar) Update(current, total int, label string) {
	if !b.enabled {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.pb == nil {
		pb, err := pterm.DefaultProgressbar.
			WithTotal(total).
			WithTitle("Converting").
			Start()
		if err != nil {
			b.enabled = false
			return
		}
		b.pb = pb
	}

	if total > b.pb.Total {
		b.pb.Total = total
	}
	b.pb.UpdateTitle(truncate(label))
	if delta := current - b.pb.Current; delta > 0 {
		b.pb.Add(delta)
	}
}

// Stop finalizes the progress bar.
func (b *Bar) Stop() {
	if !b.enabled {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.pb == nil {
		return
	}
	if b.pb.Current < b.pb.Total {
		b.pb.Current = b.pb.Total
	}
	_, _ = b.pb.Stop()
	b.pb = nil
}

// Elapsed reports the time since the bar was created.
func (b *Bar) Elapsed() time.Duration {
	return time.Since(b.started)
}

// PrintSummary prints the outcome of a conversion.
func PrintSummary(res model.ConversionResult, duration time.Duration) {
	pterm.Println()
	pterm.DefaultSection.Println("Summary")
	pterm.Info.Printf("Duration: %v\n", duration.Round(time.Millisecond))
	pterm.Info.Printf("Messages converted: %d\n", res.MessagesProcessed)
	pterm.Info.Printf("Duplicates (skipped): %d\n", res.Duplicates)
	if res.Filtered > 0 {
		pterm.Info.Printf("Filtered: %d\n", res.Filtered)
	}
	pterm.Info.Printf("Documents written: %d of %d\n", res.ArtifactsCreated, len(res.ArtifactPaths))
	for _, path := range res.ArtifactPaths {
		pterm.Println("  " + path)
	}

	if len(res.AttachmentErrors) > 0 {
		pterm.Warning.Printf("Attachments that could not be rendered: %d\n", len(res.AttachmentErrors))
		data := pterm.TableData{{"Date", "From", "Subject", "Attachment", "Problem"}}
		for _, e := range res.AttachmentErrors {
			data = append(data, []string{e.Date, e.From, e.Subject, e.Filename + " (" + e.Size + ")", e.Message})
		}
		_ = pterm.DefaultTable.WithHasHeader().WithData(data).Render()
	}
	for _, msg := range res.SourceErrors {
		pterm.Error.Printf("Source failed: %s\n", msg)
	}
	for _, msg := range res.ArtifactErrors {
		pterm.Error.Printf("Document failed: %s\n", msg)
	}

	switch {
	case res.Incomplete:
		pterm.Warning.Println("Conversion was cancelled; documents already written were kept.")
	case res.Success:
		pterm.Success.Println("Conversion complete!")
	default:
		pterm.Error.Println("Conversion finished with errors.")
	}
}

func truncate(label string) string {
	r := []rune(label)
	if len(r) > titleLimit {
		return string(r[:titleLimit-3]) + "..."
	}
	return label
}
