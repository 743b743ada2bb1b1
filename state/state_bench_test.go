package state

import (
	"fmt"
	"os"
	"testing"
)

func benchEntry(i int) Entry {
	return Entry{
		Period:     fmt.Sprintf("2008-%02d", i%12+1),
		Path:       fmt.Sprintf("out/part-%d.html", i),
		SHA256:     fmt.Sprintf("sum-%d", i),
		Pages:      i % 40,
		MessageIDs: []string{fmt.Sprintf("msg-%d", i)},
	}
}

// BenchmarkFileTracker_Record benchmarks manifest write performance
func BenchmarkFileTracker_Record(b *testing.B) {
	tmpDir, err := os.MkdirTemp("", "state-bench-*")
	if err != nil {
		b.Fatal(err)
	}
	defer os.RemoveAll(tmpDir)

	tracker, err := NewFileTracker(tmpDir, true)
	if err != nil {
		b.Fatal(err)
	}
	defer tracker.Close()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if err := tracker.Record(benchEntry(i)); err != nil {
			b.Fatal(err)
		}
	}
	b.StopTimer()

	if err := tracker.Close(); err != nil {
		b.Fatal(err)
	}
}

// BenchmarkFileTracker_Load benchmarks manifest loading performance
func BenchmarkFileTracker_Load(b *testing.B) {
	tmpDir, err := os.MkdirTemp("", "state-bench-*")
	if err != nil {
		b.Fatal(err)
	}
	defer os.RemoveAll(tmpDir)

	tracker, err := NewFileTracker(tmpDir, true)
	if err != nil {
		b.Fatal(err)
	}
	for i := 0; i < 10000; i++ {
		if err := tracker.Record(benchEntry(i)); err != nil {
			b.Fatal(err)
		}
	}
	if err := tracker.Close(); err != nil {
		b.Fatal(err)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		tracker, err := NewFileTracker(tmpDir, false)
		if err != nil {
			b.Fatal(err)
		}
		tracker.Close()
	}
}

// BenchmarkMemoryTracker_Record benchmarks the in-memory tracker for comparison
func BenchmarkMemoryTracker_Record(b *testing.B) {
	tracker := NewMemoryTracker()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if err := tracker.Record(benchEntry(i)); err != nil {
			b.Fatal(err)
		}
	}
}
