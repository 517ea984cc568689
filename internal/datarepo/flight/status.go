package flight

type Status string

const (
	Running Status = "RUNNING"
	Waiting Status = "WAITING"
	Ready   Status = "READY"
	Queued  Status = "QUEUED"
	Success Status = "SUCCESS"
	Error   Status = "ERROR"
	Fatal   Status = "FATAL"
)

// IsTerminal reports whether a flight in status s will make no further progress.
func (s Status) IsTerminal() bool {
	return s == Success || s == Error || s == Fatal
}
