package audit

import "time"

// TimelineFilters menampung filter dasar untuk audit timeline.
type TimelineFilters struct {
	From         time.Time
	To           time.Time
	SubjectID    string
	ResourceType string
	Success      *bool
	Page         int
	PageSize     int
}

// TimelineRow mewakili satu baris keputusan pada audit trail.
type TimelineRow struct {
	At           time.Time
	Action       string
	ResourceType string
	ResourceID   string
	SubjectID    string
	PerformedBy  string
	Success      bool
	Reason       string
}

// PagingInfo menyimpan metadata pagination sederhana.
type PagingInfo struct {
	Page     int
	HasNext  bool
	PageSize int
	PrevPage int
	NextPage int
}
