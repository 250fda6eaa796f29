package constants

// JobStatus is the canonical status for rows in pdf_extraction_job.
type JobStatus string

// Stable values (store these exact strings in DB).
const (
	JobStatusPending     JobStatus = "pending"      // created, metadata not read yet
	JobStatusProcessing  JobStatus = "processing"   // document opened for inspection
	JobStatusPagesQueued JobStatus = "pages_queued" // one child exists per page
	JobStatusCompleted   JobStatus = "completed"    // every child reached a terminal state
	JobStatusFailed      JobStatus = "failed"       // document-level failure only
	JobStatusCancelled   JobStatus = "cancelled"    // operator/user abort
)

// Terminal reports whether a parent job can no longer transition.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	}
	return false
}

// JobStatuses lists the stable values for schema-level validation.
var JobStatuses = []string{
	string(JobStatusPending),
	string(JobStatusProcessing),
	string(JobStatusPagesQueued),
	string(JobStatusCompleted),
	string(JobStatusFailed),
	string(JobStatusCancelled),
}

// PageStatus is the canonical status for rows in pdf_page_extraction_job.
type PageStatus string

const (
	PageStatusPending    PageStatus = "pending"
	PageStatusProcessing PageStatus = "processing"
	PageStatusCompleted  PageStatus = "completed" // recipe extracted and stored
	PageStatusFailed     PageStatus = "failed"    // unexpected/transient error, retry candidate
	PageStatusSkipped    PageStatus = "skipped"   // processed fine, no recipe on the page
)

// Terminal reports whether a page job can no longer transition.
func (s PageStatus) Terminal() bool {
	switch s {
	case PageStatusCompleted, PageStatusFailed, PageStatusSkipped:
		return true
	}
	return false
}

// PageStatuses lists the stable values for schema-level validation.
var PageStatuses = []string{
	string(PageStatusPending),
	string(PageStatusProcessing),
	string(PageStatusCompleted),
	string(PageStatusFailed),
	string(PageStatusSkipped),
}
