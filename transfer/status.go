package transfer

// RequestState is the orchestrator-side state of a request.
type RequestState string

const (
	StateSubmitted RequestState = "SUBMITTED"
	StateDone      RequestState = "DONE"
	StateFailed    RequestState = "FAILED"
)

// IsTerminal reports whether no further changes are expected.
func (s RequestState) IsTerminal() bool {
	return s == StateDone || s == StateFailed
}

// Backend status strings.
const (
	BackendSucceeded = "SUCCEEDED"
	BackendFailed    = "FAILED"
	BackendActive    = "ACTIVE"
	BackendInactive  = "INACTIVE"
)

// KnownStatus reports whether s belongs to the backend status vocabulary.
// It is only used for diagnostics; MapStatus does not depend on it.
func KnownStatus(s string) bool {
	switch s {
	case BackendSucceeded, BackendFailed, BackendActive, BackendInactive:
		return true
	}
	return false
}

// StatusReport is the result of mapping one backend status for one request.
type StatusReport struct {
	RequestID  RequestID
	State      RequestState
	ExternalID ExternalID
}

// MapStatus translates a backend status into a StatusReport. Anything other
// than SUCCEEDED or FAILED, including an empty string, is treated as still in
// flight. The external id is only set for terminal states.
func MapStatus(requestID RequestID, externalID ExternalID, backendStatus string) StatusReport {
	report := StatusReport{RequestID: requestID}
	switch backendStatus {
	case BackendFailed:
		report.State = StateFailed
	case BackendSucceeded:
		report.State = StateDone
	default:
		report.State = StateSubmitted
	}
	if report.State.IsTerminal() {
		report.ExternalID = externalID
	}
	return report
}

// MonitorFields returns the extra fields attached to monitoring messages.
func (r StatusReport) MonitorFields() map[string]string {
	return map[string]string{"protocol": "globus"}
}
