package llms

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/invopop/jsonschema"
)

// Tool is a function the generator may call mid-turn. Parameters holds the
// JSON schema advertised to the model.
type Tool struct {
	Name        string
	Description string
	Parameters  *jsonschema.Schema

	execute func(arguments string) (string, error)
}

// Execute runs the tool with the raw JSON arguments produced by the model.
func (t Tool) Execute(arguments string) (string, error) {
	if t.execute == nil {
		return "", fmt.Errorf("tool %q has no implementation", t.Name)
	}
	return t.execute(arguments)
}

// NewTool builds a tool whose parameter schema is reflected from P's struct
// tags.
func NewTool[P any](name string, description string, execute func(P) (string, error)) Tool {
	reflector := jsonschema.Reflector{DoNotReference: true}
	var zero P
	schema := reflector.Reflect(zero)
	schema.Version = ""

	return Tool{
		Name:        name,
		Description: description,
		Parameters:  schema,
		execute: func(arguments string) (string, error) {
			var parameters P
			if arguments != "" {
				if err := json.Unmarshal([]byte(arguments), &parameters); err != nil {
					return "", fmt.Errorf("failed to parse arguments for tool %q: %w", name, err)
				}
			}
			return execute(parameters)
		},
	}
}

// CurrentTimeTool reports the wall-clock time in the given IANA timezone, or
// the server's local time when empty.
func CurrentTimeTool() Tool {
	return NewTool("current_time", "Get the current date and time",
		func(parameters struct {
			Timezone string `json:"timezone,omitempty" jsonschema:"title=Timezone,description=IANA timezone name such as Europe/Paris"`
		}) (string, error) {
			location := time.Local
			if parameters.Timezone != "" {
				loaded, err := time.LoadLocation(parameters.Timezone)
				if err != nil {
					return "", fmt.Errorf("unknown timezone %q: %w", parameters.Timezone, err)
				}
				location = loaded
			}
			return time.Now().In(location).Format(time.RFC1123), nil
		})
}
