package domain

import "time"

// StopOperation is a persisted stopping-policy run: the request scope
// it served, the decision batch it produced, and when the cached
// result expires. Until ExpiresAt the batch is recycled for equivalent
// requests instead of re-running the policy.
type StopOperation struct {
	ID        string        `json:"id"`
	StudyID   string        `json:"study_id"`
	Policy    string        `json:"policy"`
	Request   StopRequest   `json:"request"`
	Decisions StopDecisions `json:"decisions"`
	CreatedAt time.Time     `json:"created_at"`
	ExpiresAt time.Time     `json:"expires_at"`
}

// Expired reports whether the cached batch is stale at now.
func (o *StopOperation) Expired(now time.Time) bool {
	return now.After(o.ExpiresAt)
}
