// Package commands holds the command registry exposed to MCP clients.
//
// Every command decodes its parameters into an options struct pre-filled
// with defaults. The same struct, tagged for JSON, is echoed back by
// commands that are not implemented yet so callers can see what was applied.
package commands

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-viper/mapstructure/v2"

	"github.com/harun/resolvemcp/pkg/dispatch"
	"github.com/harun/resolvemcp/pkg/resolve"
	"github.com/harun/resolvemcp/pkg/scripting"
)

// Command names.
const (
	GetProjectInfo         = "get_project_info"
	GetTimelineInfo        = "get_timeline_info"
	GetMediaPoolInfo       = "get_media_pool_info"
	CreateTimeline         = "create_timeline"
	AddClipToTimeline      = "add_clip_to_timeline"
	DeleteClipFromTimeline = "delete_clip_from_timeline"
	AddTransition          = "add_transition"
	AddEffect              = "add_effect"
	ColorGradeClip         = "color_grade_clip"
	ImportMedia            = "import_media"
	ExportTimeline         = "export_timeline"
	AddMarker              = "add_marker"
	SetProjectSettings     = "set_project_settings"
	ExecuteScript          = "execute_script"
)

// Registrar accepts command definitions.
type Registrar interface {
	Register(cmd dispatch.Command) error
}

// Options configures registration.
type Options struct {
	// Engine runs execute_script. A nil engine registers a disabled one.
	Engine *scripting.Engine
}

// scriptGrace lets the engine report its own timeout before the dispatcher does.
const scriptGrace = 2 * time.Second

// Register adds every command to r.
func Register(r Registrar, opts Options) error {
	if r == nil {
		return errors.New("registrar is required")
	}
	if opts.Engine == nil {
		opts.Engine = scripting.NewEngine(scripting.Config{})
	}

	cmds := []dispatch.Command{
		getProjectInfoCommand(),
		getTimelineInfoCommand(),
		getMediaPoolInfoCommand(),
		createTimelineCommand(),
		addClipToTimelineCommand(),
		deleteClipFromTimelineCommand(),
		addTransitionCommand(),
		addEffectCommand(),
		colorGradeClipCommand(),
		importMediaCommand(),
		exportTimelineCommand(),
		addMarkerCommand(),
		setProjectSettingsCommand(),
		executeScriptCommand(opts.Engine),
	}

	for _, cmd := range cmds {
		if err := r.Register(cmd); err != nil {
			return fmt.Errorf("failed to register command %s: %w", cmd.Name, err)
		}
	}
	return nil
}

// Names lists the registry in registration order.
func Names() []string {
	return []string{
		GetProjectInfo, GetTimelineInfo, GetMediaPoolInfo, CreateTimeline,
		AddClipToTimeline, DeleteClipFromTimeline, AddTransition, AddEffect,
		ColorGradeClip, ImportMedia, ExportTimeline, AddMarker,
		SetProjectSettings, ExecuteScript,
	}
}

// decode fills out from params. out must already hold the defaults.
func decode(params map[string]any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		TagName:          "json",
		WeaklyTypedInput: true,
	})
	if err != nil {
		return err
	}
	if err := dec.Decode(params); err != nil {
		return dispatch.InvalidParams("invalid parameters: %s", err)
	}
	return nil
}

// findTimeline returns the named timeline and makes it current, or the
// current timeline when name is empty.
func findTimeline(ctx context.Context, project *resolve.Project, name string) (*resolve.Timeline, error) {
	if name == "" {
		tl, err := project.CurrentTimeline(ctx)
		if err != nil {
			return nil, dispatch.Unknown(err, "Failed to read current timeline: %s", err)
		}
		if tl == nil {
			return nil, dispatch.NotFound("No timeline is currently active")
		}
		return tl, nil
	}

	tl, _, err := project.FindTimeline(ctx, name)
	if err != nil {
		return nil, dispatch.Unknown(err, "Failed to look up timeline %s: %s", name, err)
	}
	if tl == nil {
		return nil, dispatch.NotFound("Timeline not found: %s", name)
	}
	ok, err := project.SetCurrentTimeline(ctx, tl)
	if err != nil {
		return nil, dispatch.Unknown(err, "Failed to switch to timeline %s: %s", name, err)
	}
	if !ok {
		return nil, dispatch.Unknown(nil, "Failed to switch to timeline: %s", name)
	}
	return tl, nil
}

func mediaPool(ctx context.Context, project *resolve.Project) (*resolve.MediaPool, error) {
	mp, err := project.MediaPool(ctx)
	if err != nil {
		return nil, dispatch.Unknown(err, "Failed to access media pool")
	}
	if mp == nil {
		return nil, dispatch.Unknown(nil, "Failed to access media pool")
	}
	return mp, nil
}
