package messagequeue

// ExecuteJobPayload is the schema for jobs.execute messages. The job row is
// the source of truth; the payload only names it.
type ExecuteJobPayload struct {
	JobID    string `json:"job_id"`
	TenantID string `json:"tenant_id"`
	QuoteID  string `json:"quote_id"`
}

// JobFailedPayload is the schema for jobs.failed messages.
type JobFailedPayload struct {
	JobID     string `json:"job_id"`
	TenantID  string `json:"tenant_id"`
	QuoteID   string `json:"quote_id"`
	Attempts  int    `json:"attempts"`
	LastError string `json:"last_error"`
}
