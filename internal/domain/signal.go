package domain

// DeskStatus is a summary of the desk's operational state.
type DeskStatus struct {
	Mode          string `json:"mode"`
	Wallet        string `json:"wallet"`
	ChainID       string `json:"chain_id"`
	Ledger        string `json:"ledger"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	ActiveRuns    int    `json:"active_runs"`
}
