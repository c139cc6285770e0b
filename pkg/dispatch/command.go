package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/harun/resolvemcp/pkg/resolve"
	"github.com/harun/resolvemcp/pkg/session"
	"github.com/xeipuuv/gojsonschema"
)

// Env is what a handler works against. Project is freshly re-read before the
// handler runs and is nil only for commands with ProjectOptional set.
type Env struct {
	Session session.Session
	Project *resolve.Project
}

// Handler implements one command.
type Handler func(ctx context.Context, env *Env, params map[string]any) (any, error)

// Parameter describes one named option of a command.
type Parameter struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Description string `json:"description"`
	Required    bool   `json:"required"`
	Default     any    `json:"default,omitempty"`
	// Items is the element type for array parameters.
	Items string `json:"items,omitempty"`
}

// Command is one registry entry.
type Command struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	Parameters  []Parameter `json:"parameters"`
	// ProjectOptional lets the command run with no project open.
	ProjectOptional bool `json:"-"`
	// Timeout overrides the dispatcher timeout when positive.
	Timeout time.Duration `json:"-"`
	Handler Handler       `json:"-"`
}

var validTypes = map[string]bool{
	"string": true, "number": true, "boolean": true,
	"object": true, "array": true, "integer": true,
}

func validateCommand(cmd Command) error {
	if cmd.Name == "" {
		return fmt.Errorf("command name cannot be empty")
	}
	if cmd.Description == "" {
		return fmt.Errorf("command description cannot be empty for %s", cmd.Name)
	}
	if cmd.Handler == nil {
		return fmt.Errorf("command handler cannot be nil for %s", cmd.Name)
	}

	seen := make(map[string]bool, len(cmd.Parameters))
	for _, p := range cmd.Parameters {
		if p.Name == "" {
			return fmt.Errorf("parameter name cannot be empty for %s", cmd.Name)
		}
		if seen[p.Name] {
			return fmt.Errorf("duplicate parameter %s for %s", p.Name, cmd.Name)
		}
		seen[p.Name] = true
		if p.Description == "" {
			return fmt.Errorf("parameter description cannot be empty for %s", p.Name)
		}
		if !validTypes[p.Type] {
			return fmt.Errorf("invalid parameter type %q for %s", p.Type, p.Name)
		}
		if p.Items != "" && (p.Type != "array" || !validTypes[p.Items]) {
			return fmt.Errorf("invalid items type %q for %s", p.Items, p.Name)
		}
	}
	return nil
}

// InputSchema returns the JSON schema of the command parameters. Unknown keys
// are allowed and ignored by handlers.
func (cmd Command) InputSchema() map[string]any {
	properties := make(map[string]any, len(cmd.Parameters))
	required := []string{}

	for _, p := range cmd.Parameters {
		prop := map[string]any{
			"type":        p.Type,
			"description": p.Description,
		}
		if p.Default != nil {
			prop["default"] = p.Default
		}
		if p.Items != "" {
			prop["items"] = map[string]any{"type": p.Items}
		}
		properties[p.Name] = prop
		if p.Required {
			required = append(required, p.Name)
		}
	}

	schema := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

func compileSchema(cmd Command) (*gojsonschema.Schema, error) {
	return gojsonschema.NewSchema(gojsonschema.NewGoLoader(cmd.InputSchema()))
}

func validateParams(schema *gojsonschema.Schema, params map[string]any) error {
	if schema == nil {
		return nil
	}

	result, err := schema.Validate(gojsonschema.NewGoLoader(params))
	if err != nil {
		return err
	}
	if result.Valid() {
		return nil
	}

	msgs := make([]string, 0, len(result.Errors()))
	for _, e := range result.Errors() {
		msgs = append(msgs, e.String())
	}
	return fmt.Errorf("invalid parameters: %v", msgs)
}
