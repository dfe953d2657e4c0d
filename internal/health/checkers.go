package health

import (
	"context"
	"fmt"
)

// Pinger is satisfied by *pgxpool.Pool and by the database handles used in
// tests.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Database returns a readiness checker that pings the database.
func Database(p Pinger) Checker {
	return Checker{
		Name: "database",
		Check: func(ctx context.Context) error {
			return p.Ping(ctx)
		},
	}
}

// LLM returns a readiness checker that verifies a generation backend is
// configured. It does not call the backend: a readiness probe must not burn
// paid tokens.
func LLM(modelID string) Checker {
	return Checker{
		Name: "llm",
		Check: func(ctx context.Context) error {
			if modelID == "" {
				return fmt.Errorf("no generation model configured")
			}
			return nil
		},
	}
}
