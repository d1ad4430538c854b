package statistics

import (
	"strings"
	"testing"

	"media-compressor-go/internal/resource"
)

func TestRecordCompletedAndFinalize(t *testing.T) {
	s := NewStatistics()
	s.AddFilesAdmitted("image", 2)
	s.RecordCompleted("image", 10_000_000, 6_000_000)
	s.RecordFailed("image", "broken.jpg", "decode: bad header")
	s.Finalize()

	if s.GetJobsCompleted() != 1 || s.GetJobsFailed() != 1 {
		t.Fatalf("completed=%d failed=%d", s.GetJobsCompleted(), s.GetJobsFailed())
	}
	if s.AverageSavings != 40 {
		t.Fatalf("AverageSavings = %v, want 40", s.AverageSavings)
	}
	if s.GetErrorCount() != 1 {
		t.Fatalf("errors = %d", s.GetErrorCount())
	}
	c := s.CategoryStats["image"]
	if c.Admitted != 2 || c.Completed != 1 || c.Failed != 1 {
		t.Fatalf("category stats = %+v", c)
	}
	if !strings.Contains(s.GetSummary(), "Saved: 40.0%") {
		t.Fatalf("summary missing savings:\n%s", s.GetSummary())
	}
	if !strings.Contains(s.GetErrorSummary(), "broken.jpg") {
		t.Fatalf("error summary missing file:\n%s", s.GetErrorSummary())
	}
	if !strings.Contains(s.GetCategoryBreakdown(), "image: 2 admitted") {
		t.Fatalf("breakdown:\n%s", s.GetCategoryBreakdown())
	}
}

func TestRecordHandles(t *testing.T) {
	s := NewStatistics()
	s.RecordHandles(resource.Stats{Registered: 4, Released: 4, DoubleReleases: 1})
	if s.HandlesRegistered != 4 || s.HandlesReleased != 4 || s.DoubleReleases != 1 {
		t.Fatalf("handles = %d/%d/%d", s.HandlesRegistered, s.HandlesReleased, s.DoubleReleases)
	}
}

func TestFormatBytes(t *testing.T) {
	tests := []struct {
		in   int64
		want string
	}{
		{0, "0 B"},
		{512, "512 B"},
		{2048, "2.0 KiB"},
		{-2048, "-2.0 KiB"},
	}
	for _, tt := range tests {
		if got := FormatBytes(tt.in); got != tt.want {
			t.Errorf("FormatBytes(%d) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestEmptySummaries(t *testing.T) {
	s := NewStatistics()
	if s.GetErrorSummary() != "No errors occurred during processing" {
		t.Error("unexpected error summary")
	}
	if s.GetCategoryBreakdown() != "No category statistics available" {
		t.Error("unexpected breakdown")
	}
}
