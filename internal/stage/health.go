package stage

// Health summarizes the readiness of a pipeline stage. Handlers report it
// from HealthCheck so doctor-style probes can run without executing stages.
type Health struct {
	Name   string
	Ready  bool
	Detail string
}

// Healthy constructs a ready Health record.
func Healthy(name string) Health { return Health{Name: name, Ready: true} }

// Unhealthy constructs a failing Health record carrying the reason.
func Unhealthy(name, detail string) Health {
	return Health{Name: name, Ready: false, Detail: detail}
}
