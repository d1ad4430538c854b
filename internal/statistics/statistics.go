package statistics

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"

	"media-compressor-go/internal/resource"
)

// Statistics contains the counters of one compression session.
type Statistics struct {
	FilesSubmitted     int64
	FilesAdmitted      int64
	FilesUnsupported   int64
	AdmissionsRejected int64
	JobsCompleted      int64
	JobsFailed         int64
	JobsRemoved        int64
	ProbeFailures      int64

	BytesOriginal   int64
	BytesCompressed int64

	HandlesRegistered int64
	HandlesReleased   int64
	DoubleReleases    int64

	StartTime      time.Time
	EndTime        time.Time
	Duration       time.Duration
	AverageSavings float64

	Errors []StatError

	mutex sync.RWMutex

	CategoryStats map[string]*CategoryStats
}

// StatError represents an error that occurred during processing.
type StatError struct {
	FilePath  string
	Operation string
	Error     string
	Timestamp time.Time
}

// CategoryStats holds per-category counts.
type CategoryStats struct {
	Admitted        int64
	Completed       int64
	Failed          int64
	BytesOriginal   int64
	BytesCompressed int64
}

// NewStatistics returns a new Statistics instance.
func NewStatistics() *Statistics {
	return &Statistics{
		StartTime:     time.Now(),
		CategoryStats: make(map[string]*CategoryStats),
		Errors:        make([]StatError, 0),
	}
}

func (s *Statistics) category(name string) *CategoryStats {
	c, ok := s.CategoryStats[name]
	if !ok {
		c = &CategoryStats{}
		s.CategoryStats[name] = c
	}
	return c
}

// AddFilesSubmitted increases the count of submitted files by n.
func (s *Statistics) AddFilesSubmitted(n int) {
	atomic.AddInt64(&s.FilesSubmitted, int64(n))
}

// AddFilesUnsupported increases the count of filtered files by n.
func (s *Statistics) AddFilesUnsupported(n int) {
	atomic.AddInt64(&s.FilesUnsupported, int64(n))
}

// IncrementAdmissionsRejected counts an admission refused for capacity.
func (s *Statistics) IncrementAdmissionsRejected() {
	atomic.AddInt64(&s.AdmissionsRejected, 1)
}

// AddFilesAdmitted increases the admitted count for a category by n.
func (s *Statistics) AddFilesAdmitted(category string, n int) {
	atomic.AddInt64(&s.FilesAdmitted, int64(n))
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.category(category).Admitted += int64(n)
}

// RecordCompleted counts a completed job and its byte sizes.
func (s *Statistics) RecordCompleted(category string, original, compressed int64) {
	atomic.AddInt64(&s.JobsCompleted, 1)
	atomic.AddInt64(&s.BytesOriginal, original)
	atomic.AddInt64(&s.BytesCompressed, compressed)

	s.mutex.Lock()
	defer s.mutex.Unlock()
	c := s.category(category)
	c.Completed++
	c.BytesOriginal += original
	c.BytesCompressed += compressed
}

// RecordFailed counts a failed job and records its error.
func (s *Statistics) RecordFailed(category, filePath, reason string) {
	atomic.AddInt64(&s.JobsFailed, 1)
	s.mutex.Lock()
	s.category(category).Failed++
	s.mutex.Unlock()
	s.AddError(filePath, "compress", reason)
}

// IncrementJobsRemoved increases the count of removed jobs by 1.
func (s *Statistics) IncrementJobsRemoved() {
	atomic.AddInt64(&s.JobsRemoved, 1)
}

// IncrementProbeFailures increases the count of failed metadata probes by 1.
func (s *Statistics) IncrementProbeFailures() {
	atomic.AddInt64(&s.ProbeFailures, 1)
}

// RecordHandles copies the registry counters.
func (s *Statistics) RecordHandles(rs resource.Stats) {
	atomic.StoreInt64(&s.HandlesRegistered, rs.Registered)
	atomic.StoreInt64(&s.HandlesReleased, rs.Released)
	atomic.StoreInt64(&s.DoubleReleases, rs.DoubleReleases)
}

// Finalize calculates duration and average savings.
func (s *Statistics) Finalize() {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.EndTime = time.Now()
	s.Duration = s.EndTime.Sub(s.StartTime)

	original := atomic.LoadInt64(&s.BytesOriginal)
	compressed := atomic.LoadInt64(&s.BytesCompressed)
	if original > 0 {
		s.AverageSavings = float64(original-compressed) * 100 / float64(original)
	}
}

// AddError records an error that occurred during processing.
func (s *Statistics) AddError(filePath, operation, errorMsg string) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.Errors = append(s.Errors, StatError{
		FilePath:  filePath,
		Operation: operation,
		Error:     errorMsg,
		Timestamp: time.Now(),
	})
}

// GetSummary returns a formatted summary of all statistics.
func (s *Statistics) GetSummary() string {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	return fmt.Sprintf(`Media Compressor Statistics Summary:

Files:
		Submitted: %d
		Admitted: %d
		Unsupported: %d
		Admissions Rejected: %d

Jobs:
		Completed: %d
		Failed: %d
		Removed: %d
		Probe Failures: %d

Size:
		Original: %s
		Compressed: %s
		Saved: %.1f%%

Handles:
		Registered: %d
		Released: %d
		Double Releases: %d

Duration: %v`,
		atomic.LoadInt64(&s.FilesSubmitted),
		atomic.LoadInt64(&s.FilesAdmitted),
		atomic.LoadInt64(&s.FilesUnsupported),
		atomic.LoadInt64(&s.AdmissionsRejected),
		atomic.LoadInt64(&s.JobsCompleted),
		atomic.LoadInt64(&s.JobsFailed),
		atomic.LoadInt64(&s.JobsRemoved),
		atomic.LoadInt64(&s.ProbeFailures),
		FormatBytes(atomic.LoadInt64(&s.BytesOriginal)),
		FormatBytes(atomic.LoadInt64(&s.BytesCompressed)),
		s.AverageSavings,
		atomic.LoadInt64(&s.HandlesRegistered),
		atomic.LoadInt64(&s.HandlesReleased),
		atomic.LoadInt64(&s.DoubleReleases),
		s.Duration.Round(time.Millisecond))
}

// GetCategoryBreakdown returns a formatted per-category breakdown.
func (s *Statistics) GetCategoryBreakdown() string {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	if len(s.CategoryStats) == 0 {
		return "No category statistics available"
	}

	names := make([]string, 0, len(s.CategoryStats))
	for name := range s.CategoryStats {
		names = append(names, name)
	}
	sort.Strings(names)

	result := "Category Breakdown:\n"
	for _, name := range names {
		c := s.CategoryStats[name]
		result += fmt.Sprintf("  %s: %d admitted, %d completed, %d failed, %s -> %s\n",
			name, c.Admitted, c.Completed, c.Failed,
			FormatBytes(c.BytesOriginal), FormatBytes(c.BytesCompressed))
	}
	return result
}

// GetErrorSummary returns a summary of errors that occurred during processing.
func (s *Statistics) GetErrorSummary() string {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	if len(s.Errors) == 0 {
		return "No errors occurred during processing"
	}

	result := fmt.Sprintf("Errors (%d total):\n", len(s.Errors))
	for i, err := range s.Errors {
		if i >= 10 {
			result += fmt.Sprintf("  ... and %d more errors\n", len(s.Errors)-10)
			break
		}
		result += fmt.Sprintf("  [%s] %s: %s - %s\n",
			err.Timestamp.Format("15:04:05"),
			err.Operation,
			err.FilePath,
			err.Error)
	}
	return result
}

// FormatBytes returns a human-readable string for a byte count.
func FormatBytes(bytes int64) string {
	if bytes < 0 {
		return "-" + humanize.IBytes(uint64(-bytes))
	}
	return humanize.IBytes(uint64(bytes))
}

// GetJobsCompleted returns the number of completed jobs.
func (s *Statistics) GetJobsCompleted() int64 {
	return atomic.LoadInt64(&s.JobsCompleted)
}

// GetJobsFailed returns the number of failed jobs.
func (s *Statistics) GetJobsFailed() int64 {
	return atomic.LoadInt64(&s.JobsFailed)
}

// GetBytesOriginal returns the summed size of compressed sources.
func (s *Statistics) GetBytesOriginal() int64 {
	return atomic.LoadInt64(&s.BytesOriginal)
}

// GetBytesCompressed returns the summed size of compressed outputs.
func (s *Statistics) GetBytesCompressed() int64 {
	return atomic.LoadInt64(&s.BytesCompressed)
}

// GetErrorCount returns the number of recorded errors.
func (s *Statistics) GetErrorCount() int {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return len(s.Errors)
}

// GetDuration returns the total duration of the session.
func (s *Statistics) GetDuration() time.Duration {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.Duration
}
