package domain

// ScenarioSummary is the listing view of a scenario.
type ScenarioSummary struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// Scenario is a YAML task template a run is parameterised by.
type Scenario struct {
	ScenarioSummary
	Content string `json:"content"`
	Outputs any    `json:"outputs,omitempty"`
}
