package domain

import "time"

// QueueStatus enumerates batch item lifecycle states.
type QueueStatus string

const (
	QueueStatusPending   QueueStatus = "pending"
	QueueStatusUploading QueueStatus = "uploading"
	QueueStatusAnalyzing QueueStatus = "analyzing"
	QueueStatusDone      QueueStatus = "done"
	QueueStatusError     QueueStatus = "error"
)

// QueueItem is one image waiting for, undergoing, or finished with analysis.
type QueueItem struct {
	ID         string             `json:"id"`
	Filename   string             `json:"filename"`
	Status     QueueStatus        `json:"status"`
	MIMEType   string             `json:"mimeType,omitempty"`
	ImageURL   string             `json:"imageUrl,omitempty"`
	StorageKey string             `json:"storageKey,omitempty"`
	Settings   ConstraintSettings `json:"settings"`
	Locale     string             `json:"locale,omitempty"`
	Result     *AnalysisResult    `json:"result,omitempty"`
	Error      string             `json:"error,omitempty"`
	Attempts   int                `json:"attempts"`
	CreatedAt  time.Time          `json:"createdAt"`
	UpdatedAt  time.Time          `json:"updatedAt"`

	// Data holds inline bytes until the item is uploaded. Never sent to clients.
	Data []byte `json:"-"`
}

// Terminal reports whether the item will not be picked up again without a retry.
func (q QueueItem) Terminal() bool {
	return q.Status == QueueStatusDone || q.Status == QueueStatusError
}
