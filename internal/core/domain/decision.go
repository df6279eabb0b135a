package domain

// StopRequest asks a stopping policy which trials of a study should
// halt. TrialIDs narrows the caller's interest; policies treat it as a
// hint and may return decisions for any trial in the study.
type StopRequest struct {
	StudyID string `json:"study_id"`

	// TrialIDs is the set of trials the caller cares about. Empty
	// means the policy chooses its own scope.
	TrialIDs []int64 `json:"trial_ids,omitempty"`

	// CheckpointNS is the metadata namespace the policy may use to
	// persist state between calls.
	CheckpointNS string `json:"checkpoint_ns,omitempty"`
}

// Wants reports whether the caller asked about the trial. An empty
// request scope wants every trial.
func (r StopRequest) Wants(trialID int64) bool {
	if len(r.TrialIDs) == 0 {
		return true
	}
	for _, id := range r.TrialIDs {
		if id == trialID {
			return true
		}
	}
	return false
}

// StopDecision is a policy's verdict on one trial.
type StopDecision struct {
	TrialID    int64  `json:"trial_id"`
	ShouldStop bool   `json:"should_stop"`
	Reason     string `json:"reason,omitempty"`
}

// StopDecisions is an ordered batch of verdicts plus the metadata the
// policy wants written back. Order is preserved end to end; one
// decision per trial is expected but not enforced here.
type StopDecisions struct {
	Decisions []StopDecision `json:"decisions"`
	Metadata  MetadataDelta  `json:"metadata,omitempty"`
}

// Append adds one verdict to the batch.
func (d *StopDecisions) Append(trialID int64, stop bool, reason string) {
	d.Decisions = append(d.Decisions, StopDecision{TrialID: trialID, ShouldStop: stop, Reason: reason})
}

// ForTrial returns the first decision recorded for the trial.
func (d StopDecisions) ForTrial(trialID int64) (StopDecision, bool) {
	for _, dec := range d.Decisions {
		if dec.TrialID == trialID {
			return dec, true
		}
	}
	return StopDecision{}, false
}

// Stopped lists the IDs of trials the batch wants halted, in batch order.
func (d StopDecisions) Stopped() []int64 {
	var ids []int64
	for _, dec := range d.Decisions {
		if dec.ShouldStop {
			ids = append(ids, dec.TrialID)
		}
	}
	return ids
}
