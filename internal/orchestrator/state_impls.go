package orchestrator

// IdleState - waiting for a trigger
type IdleState struct{}

func (s *IdleState) Name() string { return "idle" }
func (s *IdleState) ToDraining() *DrainingState {
	return &DrainingState{}
}
func (s *IdleState) ToOffline() *OfflineState {
	return &OfflineState{}
}

// DrainingState - uploading queued local mutations
type DrainingState struct{}

func (s *DrainingState) Name() string { return "draining" }
func (s *DrainingState) ToFetching() *FetchingState {
	return &FetchingState{}
}
func (s *DrainingState) ToOffline() *OfflineState {
	return &OfflineState{}
}
func (s *DrainingState) ToFailed() *FailedState {
	return &FailedState{}
}
func (s *DrainingState) ToCancelled() *CancelledState {
	return &CancelledState{}
}

// FetchingState - paginating remote changes since the saved cursor
type FetchingState struct{}

func (s *FetchingState) Name() string { return "fetching" }
func (s *FetchingState) ToApplying() *ApplyingState {
	return &ApplyingState{}
}
func (s *FetchingState) ToOffline() *OfflineState {
	return &OfflineState{}
}
func (s *FetchingState) ToFailed() *FailedState {
	return &FailedState{}
}
func (s *FetchingState) ToCancelled() *CancelledState {
	return &CancelledState{}
}

// ApplyingState - merging fetched changes into the local store
type ApplyingState struct{}

func (s *ApplyingState) Name() string { return "applying" }
func (s *ApplyingState) ToConflict() *ConflictState {
	return &ConflictState{}
}
func (s *ApplyingState) ToRechecking() *RecheckingState {
	return &RecheckingState{}
}
func (s *ApplyingState) ToFailed() *FailedState {
	return &FailedState{}
}
func (s *ApplyingState) ToCancelled() *CancelledState {
	return &CancelledState{}
}

// ConflictState - one or more records await manual resolution
type ConflictState struct{}

func (s *ConflictState) Name() string { return "conflict" }
func (s *ConflictState) ToRechecking() *RecheckingState {
	return &RecheckingState{}
}

// RecheckingState - queueing records dirtied during the pass
type RecheckingState struct{}

func (s *RecheckingState) Name() string { return "rechecking" }
func (s *RecheckingState) ToCompleted() *CompletedState {
	return &CompletedState{}
}
func (s *RecheckingState) ToFailed() *FailedState {
	return &FailedState{}
}

// CompletedState - pass finished, cursor advanced
type CompletedState struct{}

func (s *CompletedState) Name() string { return "completed" }

// FailedState - pass aborted on error
type FailedState struct{}

func (s *FailedState) Name() string { return "failed" }

// OfflineState - pass ended because the service was unreachable
type OfflineState struct{}

func (s *OfflineState) Name() string { return "offline" }

// CancelledState - pass interrupted by shutdown
type CancelledState struct{}

func (s *CancelledState) Name() string { return "cancelled" }
