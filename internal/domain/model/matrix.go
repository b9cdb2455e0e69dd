package model

// MatrixState is the normalized view of a device-lab test matrix state.
// Every provider state maps into exactly one of these values.
type MatrixState string

const (
	// MatrixPending indicates the matrix was created but has not started executing.
	MatrixPending MatrixState = "pending"
	// MatrixRunning indicates the matrix is executing on devices.
	MatrixRunning MatrixState = "running"
	// MatrixFinished indicates the matrix finished and produced per-device results.
	MatrixFinished MatrixState = "finished"
	// MatrixError indicates the matrix ended in a provider-side error.
	MatrixError MatrixState = "error"
	// MatrixCancelled indicates the matrix was cancelled on the provider side.
	MatrixCancelled MatrixState = "cancelled"
)

// Terminal returns true for states that permit no further polling.
func (s MatrixState) Terminal() bool {
	return s == MatrixFinished || s == MatrixError || s == MatrixCancelled
}

// StartedMatrix is returned when a matrix has been created on the provider.
type StartedMatrix struct {
	MatrixID string
	State    MatrixState
}

// MatrixSnapshot is one observation of a matrix, taken by polling the
// provider. Results are populated only when State is terminal, and may be
// empty on a pure infrastructure failure.
type MatrixSnapshot struct {
	State   MatrixState
	Results []TestResult
	// Detail carries the provider's own description of an error state, empty otherwise.
	Detail string
}
