package registry

import "fmt"

// Report is a health signal for one server: either a HealthReport or a FailureSignal.
type Report interface {
	report()
}

// HealthReport is the load snapshot a server sends on every heartbeat.
// Values are fractions in the range 0..1.
type HealthReport struct {
	CPULoad  float64
	RAMUsage float64
}

func (HealthReport) report() {}

// Overloaded reports whether either load figure reached its threshold.
func (h HealthReport) Overloaded(th Thresholds) bool {
	return h.CPULoad >= th.CPU || h.RAMUsage >= th.RAM
}

// FailureSignal is an error raised while talking to a server.
type FailureSignal struct {
	Err       error
	Traceback string
}

func (FailureSignal) report() {}

// Trace returns the text kept on the server for diagnostics.
func (f FailureSignal) Trace() string {
	switch {
	case f.Traceback != "" && f.Err != nil:
		return fmt.Sprintf("%v\n%s", f.Err, f.Traceback)
	case f.Traceback != "":
		return f.Traceback
	case f.Err != nil:
		return f.Err.Error()
	default:
		return "unknown failure"
	}
}

// Thresholds at which a server is considered overloaded.
type Thresholds struct {
	CPU float64
	RAM float64
}

// DefaultThresholds are used when none are configured.
var DefaultThresholds = Thresholds{CPU: 0.9, RAM: 0.9}
