package commands

import (
	"context"

	"github.com/harun/resolvemcp/pkg/dispatch"
)

// The editing and delivery commands below validate and default their options
// but do not drive Resolve yet; they answer not_implemented.

// AddClipOptions configures add_clip_to_timeline.
type AddClipOptions struct {
	ClipName     string `json:"clip_name"`
	TimelineName string `json:"timeline_name,omitempty"`
	TrackNumber  int    `json:"track_number"`
	StartFrame   int    `json:"start_frame"`
	EndFrame     *int   `json:"end_frame,omitempty"`
}

// DeleteClipOptions configures delete_clip_from_timeline.
type DeleteClipOptions struct {
	ClipName     string `json:"clip_name"`
	TimelineName string `json:"timeline_name,omitempty"`
	TrackNumber  int    `json:"track_number"`
}

// TransitionOptions configures add_transition.
type TransitionOptions struct {
	ClipName       string  `json:"clip_name"`
	TimelineName   string  `json:"timeline_name,omitempty"`
	TransitionType string  `json:"transition_type"`
	Duration       float64 `json:"duration"`
	Position       string  `json:"position"`
	TrackNumber    int     `json:"track_number"`
}

// EffectOptions configures add_effect.
type EffectOptions struct {
	ClipName     string         `json:"clip_name"`
	EffectName   string         `json:"effect_name"`
	TimelineName string         `json:"timeline_name,omitempty"`
	TrackNumber  int            `json:"track_number"`
	Parameters   map[string]any `json:"parameters"`
}

// ColorGradeOptions configures color_grade_clip. Lift, gamma and gain are
// RGB triples.
type ColorGradeOptions struct {
	ClipName     string    `json:"clip_name"`
	TimelineName string    `json:"timeline_name,omitempty"`
	TrackNumber  int       `json:"track_number"`
	Lift         []float64 `json:"lift,omitempty"`
	Gamma        []float64 `json:"gamma,omitempty"`
	Gain         []float64 `json:"gain,omitempty"`
	Contrast     float64   `json:"contrast"`
	Saturation   float64   `json:"saturation"`
	Hue          float64   `json:"hue"`
}

// ExportOptions configures export_timeline.
type ExportOptions struct {
	OutputPath   string `json:"output_path"`
	TimelineName string `json:"timeline_name,omitempty"`
	Format       string `json:"format"`
	Codec        string `json:"codec"`
	Quality      string `json:"quality"`
	RangeType    string `json:"range_type"`
}

// stub returns a handler that decodes into a fresh copy of defaults and
// reports the resolved options as not implemented.
func stub[T any](name string, defaults func() T, check func(*T) error) dispatch.Handler {
	return func(_ context.Context, _ *dispatch.Env, params map[string]any) (any, error) {
		opts := defaults()
		if err := decode(params, &opts); err != nil {
			return nil, err
		}
		if check != nil {
			if err := check(&opts); err != nil {
				return nil, err
			}
		}
		return nil, dispatch.NotImplemented(name, opts)
	}
}

func addClipToTimelineCommand() dispatch.Command {
	return dispatch.Command{
		Name:        AddClipToTimeline,
		Description: "Add a media pool clip to a timeline track.",
		Parameters: []dispatch.Parameter{
			{Name: "clip_name", Type: "string", Description: "Media pool clip to add", Required: true},
			{Name: "timeline_name", Type: "string", Description: "Target timeline; the current timeline when omitted"},
			{Name: "track_number", Type: "integer", Description: "Video track number", Default: 1},
			{Name: "start_frame", Type: "integer", Description: "First source frame", Default: 0},
			{Name: "end_frame", Type: "integer", Description: "Last source frame; the clip end when omitted"},
		},
		Handler: stub(AddClipToTimeline, func() AddClipOptions {
			return AddClipOptions{TrackNumber: 1}
		}, func(o *AddClipOptions) error {
			if o.EndFrame != nil && *o.EndFrame < o.StartFrame {
				return dispatch.InvalidParams("end_frame must not be before start_frame")
			}
			return nil
		}),
	}
}

func deleteClipFromTimelineCommand() dispatch.Command {
	return dispatch.Command{
		Name:        DeleteClipFromTimeline,
		Description: "Remove a clip from a timeline track.",
		Parameters: []dispatch.Parameter{
			{Name: "clip_name", Type: "string", Description: "Timeline clip to remove", Required: true},
			{Name: "timeline_name", Type: "string", Description: "Target timeline; the current timeline when omitted"},
			{Name: "track_number", Type: "integer", Description: "Video track number", Default: 1},
		},
		Handler: stub(DeleteClipFromTimeline, func() DeleteClipOptions {
			return DeleteClipOptions{TrackNumber: 1}
		}, nil),
	}
}

func addTransitionCommand() dispatch.Command {
	return dispatch.Command{
		Name:        AddTransition,
		Description: "Add a transition at the start or end of a timeline clip.",
		Parameters: []dispatch.Parameter{
			{Name: "clip_name", Type: "string", Description: "Timeline clip", Required: true},
			{Name: "timeline_name", Type: "string", Description: "Target timeline; the current timeline when omitted"},
			{Name: "transition_type", Type: "string", Description: "Transition type", Default: "CROSS_DISSOLVE"},
			{Name: "duration", Type: "number", Description: "Transition length in seconds", Default: 1.0},
			{Name: "position", Type: "string", Description: "START or END of the clip", Default: "END"},
			{Name: "track_number", Type: "integer", Description: "Video track number", Default: 1},
		},
		Handler: stub(AddTransition, func() TransitionOptions {
			return TransitionOptions{TransitionType: "CROSS_DISSOLVE", Duration: 1.0, Position: "END", TrackNumber: 1}
		}, func(o *TransitionOptions) error {
			if o.Position != "START" && o.Position != "END" {
				return dispatch.InvalidParams("position must be START or END")
			}
			return nil
		}),
	}
}

func addEffectCommand() dispatch.Command {
	return dispatch.Command{
		Name:        AddEffect,
		Description: "Apply an effect to a timeline clip.",
		Parameters: []dispatch.Parameter{
			{Name: "clip_name", Type: "string", Description: "Timeline clip", Required: true},
			{Name: "effect_name", Type: "string", Description: "Effect to apply", Required: true},
			{Name: "timeline_name", Type: "string", Description: "Target timeline; the current timeline when omitted"},
			{Name: "track_number", Type: "integer", Description: "Video track number", Default: 1},
			{Name: "parameters", Type: "object", Description: "Effect parameters"},
		},
		Handler: stub(AddEffect, func() EffectOptions {
			return EffectOptions{TrackNumber: 1, Parameters: map[string]any{}}
		}, nil),
	}
}

func colorGradeClipCommand() dispatch.Command {
	return dispatch.Command{
		Name:        ColorGradeClip,
		Description: "Apply a primary color grade to a timeline clip.",
		Parameters: []dispatch.Parameter{
			{Name: "clip_name", Type: "string", Description: "Timeline clip", Required: true},
			{Name: "timeline_name", Type: "string", Description: "Target timeline; the current timeline when omitted"},
			{Name: "track_number", Type: "integer", Description: "Video track number", Default: 1},
			{Name: "lift", Type: "array", Items: "number", Description: "Lift as [r, g, b]"},
			{Name: "gamma", Type: "array", Items: "number", Description: "Gamma as [r, g, b]"},
			{Name: "gain", Type: "array", Items: "number", Description: "Gain as [r, g, b]"},
			{Name: "contrast", Type: "number", Description: "Contrast", Default: 1.0},
			{Name: "saturation", Type: "number", Description: "Saturation", Default: 1.0},
			{Name: "hue", Type: "number", Description: "Hue rotation", Default: 0.0},
		},
		Handler: stub(ColorGradeClip, func() ColorGradeOptions {
			return ColorGradeOptions{TrackNumber: 1, Contrast: 1.0, Saturation: 1.0}
		}, func(o *ColorGradeOptions) error {
			for name, rgb := range map[string][]float64{"lift": o.Lift, "gamma": o.Gamma, "gain": o.Gain} {
				if rgb != nil && len(rgb) != 3 {
					return dispatch.InvalidParams("%s must have exactly 3 values", name)
				}
			}
			return nil
		}),
	}
}

func exportTimelineCommand() dispatch.Command {
	return dispatch.Command{
		Name:        ExportTimeline,
		Description: "Render a timeline to a file.",
		Parameters: []dispatch.Parameter{
			{Name: "output_path", Type: "string", Description: "Destination file path", Required: true},
			{Name: "timeline_name", Type: "string", Description: "Timeline to render; the current timeline when omitted"},
			{Name: "format", Type: "string", Description: "Container format", Default: "mp4"},
			{Name: "codec", Type: "string", Description: "Video codec", Default: "h264"},
			{Name: "quality", Type: "string", Description: "Render quality", Default: "high"},
			{Name: "range_type", Type: "string", Description: "ALL or IN_OUT", Default: "ALL"},
		},
		Handler: stub(ExportTimeline, func() ExportOptions {
			return ExportOptions{Format: "mp4", Codec: "h264", Quality: "high", RangeType: "ALL"}
		}, nil),
	}
}
