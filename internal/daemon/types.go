package daemon

// StartOptions configures the runner process (home, listen port, fleet
// identity, scheduler interval, DB, side channels).
type StartOptions struct {
	Home            string
	Port            int
	InstanceName    string
	MaxConcurrency  int
	PollIntervalSec int
	Dev             bool
	PprofAddr       string
	DBDriver        string // "sqlite" (default) or "postgres"
	DBURL           string // for postgres: connection string (or DATABASE_URL env)
	WebhookURL      string // outbound notification endpoint; empty disables
	SandboxURL      string // code_interpreter sandbox service; empty disables
	EnableOtel      bool
}

// StatusInfo is the result of Status (running or not, PID, listen addr).
type StatusInfo struct {
	Running bool
	PID     int
	Addr    string
}
