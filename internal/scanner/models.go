package scanner

import "time"

// Failure is a file that could not be indexed during a scan
type Failure struct {
	Path   string `json:"path"`
	Reason string `json:"reason"`
	Error  string `json:"error"`
}

// ScanStats holds statistics about a scan operation
type ScanStats struct {
	ScanID     string
	Root       string
	Discovered int
	Indexed    int
	Skipped    int // files not attempted because the scan was canceled
	Removed    int // indexed files that no longer exist under the root
	Comments   int
	Pictures   int
	Failures   []Failure

	StartTime      time.Time
	EndTime        time.Time
	Duration       time.Duration
	FilesPerSecond float64
}

// Failed returns the number of files that failed to index
func (s *ScanStats) Failed() int {
	return len(s.Failures)
}
