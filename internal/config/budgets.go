package config

// BudgetConfig holds the rate-limit budget for one outbound call-kind
// (embedding or chat). Budgets are immutable for the process lifetime;
// the scheduler copies them at construction.
//
// Defaults track the Gemini free tier so a fresh install does not trip
// provider-side throttling:
//   - embedding: 5 concurrent, 100 requests/min, 30k tokens/min, 3 retries
//   - chat: 3 concurrent, 60 requests/min, unlimited tokens, 3 retries
type BudgetConfig struct {
	// Concurrency bounds simultaneous in-flight calls.
	Concurrency int `mapstructure:"concurrency" json:"concurrency"`
	// RequestsPerMinute bounds call volume over a rolling window.
	RequestsPerMinute int `mapstructure:"requests_per_minute" json:"requests_per_minute"`
	// TokensPerMinute bounds estimated token throughput over a rolling
	// window. Zero disables the token limiter.
	TokensPerMinute int `mapstructure:"tokens_per_minute" json:"tokens_per_minute"`
	// Retries is the number of additional attempts after a transient failure.
	Retries int `mapstructure:"retries" json:"retries"`
}
