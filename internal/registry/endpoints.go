package registry

const (
	// Swap/bridge aggregation endpoints.
	QuoteBaseURL  = "https://li.quest/v1"
	StatusBaseURL = "https://li.quest/v1/status"

	// Chain indexer (Etherscan-compatible API surface).
	IndexerBaseURL = "https://api.basescan.org/api"

	// Account-abstraction relay that sponsors gas for settlement bundles.
	RelayBaseURL = "https://relay.codecollab.dev"

	// Swarm task-processing API.
	TaskBaseURL = "http://localhost:8000"
)
