package domain

import "time"

// UsageLog is recorded once per successful normalization job.
type UsageLog struct {
	UserID          string
	JobID           string
	SourceBytes     int64
	OutputBytes     int64
	PixelsProcessed int64
	BytesSaved      int64
	ComputeTimeMS   int64
	Exempt          bool
	CreatedAt       time.Time
}
