package logger

import (
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"os"
)

const (
	AgentNameField  = "agent"
	NodeField       = "node"
	RunIDField      = "run"
	StepField       = "step"
	ToDoField       = "todo"
	ToolField       = "tool"
	ToolCallIDField = "tool_call_id"
	ActorIDField    = "actor"
	StatusField     = "status"
	CodeField       = "code"
)

func NewGlobal(level string, pretty bool) error {
	l, err := zerolog.ParseLevel(level)
	if err != nil {
		return err
	}

	zerolog.SetGlobalLevel(l)

	if pretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}
	return nil
}

// ForRun returns the global logger annotated with the run id.
func ForRun(runID string) *zerolog.Logger {
	l := log.With().Str(RunIDField, runID).Logger()
	return &l
}
