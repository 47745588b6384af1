package common

// Component names used to tag component-scoped loggers and metrics labels.
const (
	ComponentScheduler   = "scheduler"
	ComponentLogFetcher  = "logfetcher"
	ComponentChainClient = "chainclient"
	ComponentEventStore  = "eventstore"
	ComponentCLI         = "cli"
)

var AllComponents = map[string]struct{}{
	ComponentScheduler:   {},
	ComponentLogFetcher:  {},
	ComponentChainClient: {},
	ComponentEventStore:  {},
	ComponentCLI:         {},
}
