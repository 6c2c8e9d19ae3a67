// Package agent turns interactions into replies grounded in the agent's memory.
package agent

import (
	"github.com/raphaelgruber/mindstream/internal/config"
)

// Persona is the fixed identity of the agent.
type Persona struct {
	Name   string
	Age    int
	Traits string
	Status string
}

// PersonaFrom reads the persona from configuration.
func PersonaFrom(c config.AgentConfig) Persona {
	return Persona{Name: c.Name, Age: c.Age, Traits: c.Traits, Status: c.Status}
}
