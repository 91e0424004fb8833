package daemon

// StartOptions configures the daemon process. Behavior settings live in
// <home>/settings.yaml; options here are process-level only.
type StartOptions struct {
	Home       string
	Port       int
	Version    string
	PprofAddr  string
	DBDriver   string // "sqlite" (default) or "postgres"
	DBURL      string // postgres connection string (or DATABASE_URL env)
	EnableOtel bool
}

// StatusInfo is the result of Status (running or not, PID, listen addr).
type StatusInfo struct {
	Running bool
	PID     int
	Addr    string
}
