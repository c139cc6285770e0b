package commands

import (
	"context"
	"strings"

	"github.com/harun/resolvemcp/pkg/dispatch"
	"github.com/harun/resolvemcp/pkg/scripting"
)

// ScriptOptions configures execute_script.
type ScriptOptions struct {
	Code string `json:"code"`
}

func executeScriptCommand(engine *scripting.Engine) dispatch.Command {
	return dispatch.Command{
		Name: ExecuteScript,
		Description: "Run a Lua script against the live session. The globals resolve, project_manager " +
			"and project are open; assign to result to return a value. Disabled unless scripting.enabled is set.",
		Parameters: []dispatch.Parameter{
			{Name: "code", Type: "string", Description: "Lua source", Required: true},
		},
		ProjectOptional: true,
		Timeout:         engine.Timeout() + scriptGrace,
		Handler: func(ctx context.Context, env *dispatch.Env, params map[string]any) (any, error) {
			var opts ScriptOptions
			if err := decode(params, &opts); err != nil {
				return nil, err
			}
			if strings.TrimSpace(opts.Code) == "" {
				return nil, dispatch.InvalidParams("code is required")
			}
			return engine.Execute(ctx, opts.Code, scopeOf(env))
		},
	}
}

func scopeOf(env *dispatch.Env) scripting.Scope {
	var scope scripting.Scope
	if env.Session.App != nil {
		scope.Resolve = env.Session.App.Object()
	}
	if env.Session.ProjectManager != nil {
		scope.ProjectManager = env.Session.ProjectManager.Object()
	}
	if env.Project != nil {
		scope.Project = env.Project.Object()
	}
	return scope
}
