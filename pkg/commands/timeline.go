package commands

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/harun/resolvemcp/pkg/dispatch"
	"github.com/harun/resolvemcp/pkg/fields"
	"github.com/harun/resolvemcp/pkg/resolve"
)

// TimelineInfoQuery reads one timeline.
var TimelineInfoQuery = fields.NewQuery[resolve.Timeline]("timeline").
	Field("name", func(ctx context.Context, t *resolve.Timeline, _ fields.Values) (any, error) {
		return t.Name(ctx)
	}).
	Field("duration", func(ctx context.Context, t *resolve.Timeline, _ fields.Values) (any, error) {
		return t.Duration(ctx)
	}).
	Field("video_track_count", trackCount(resolve.TrackVideo)).
	Field("audio_track_count", trackCount(resolve.TrackAudio)).
	Field("subtitle_track_count", trackCount(resolve.TrackSubtitle)).
	Field("start_frame", func(ctx context.Context, t *resolve.Timeline, _ fields.Values) (any, error) {
		return t.StartFrame(ctx)
	}).
	Field("end_frame", func(ctx context.Context, t *resolve.Timeline, _ fields.Values) (any, error) {
		return t.EndFrame(ctx)
	}).
	Composite("track_count", []string{"video_track_count", "audio_track_count", "subtitle_track_count"}, func(v fields.Values) any {
		return map[string]any{
			"video":    v["video_track_count"],
			"audio":    v["audio_track_count"],
			"subtitle": v["subtitle_track_count"],
		}
	})

func trackCount(kind string) fields.Accessor[resolve.Timeline] {
	return func(ctx context.Context, t *resolve.Timeline, _ fields.Values) (any, error) {
		return t.TrackCount(ctx, kind)
	}
}

// TimelineInfoOptions selects the timeline to describe.
type TimelineInfoOptions struct {
	TimelineName string `json:"timeline_name"`
}

func getTimelineInfoCommand() dispatch.Command {
	return dispatch.Command{
		Name:        GetTimelineInfo,
		Description: "Get information about a timeline. A named timeline becomes the current one.",
		Parameters: []dispatch.Parameter{
			{Name: "timeline_name", Type: "string", Description: "Timeline to describe; the current timeline when omitted"},
		},
		Handler: func(ctx context.Context, env *dispatch.Env, params map[string]any) (any, error) {
			var opts TimelineInfoOptions
			if err := decode(params, &opts); err != nil {
				return nil, err
			}
			tl, err := findTimeline(ctx, env.Project, opts.TimelineName)
			if err != nil {
				return nil, err
			}
			res := TimelineInfoQuery.Run(ctx, tl)
			return map[string]any(res.Values), nil
		},
	}
}

// CreateTimelineOptions configures create_timeline.
type CreateTimelineOptions struct {
	Name         string  `json:"name"`
	Width        int     `json:"width"`
	Height       int     `json:"height"`
	FrameRate    float64 `json:"frame_rate"`
	SetAsCurrent bool    `json:"set_as_current"`
}

// DefaultCreateTimelineOptions is 1080p at 24 fps, made current.
func DefaultCreateTimelineOptions() CreateTimelineOptions {
	return CreateTimelineOptions{Width: 1920, Height: 1080, FrameRate: 24.0, SetAsCurrent: true}
}

func createTimelineCommand() dispatch.Command {
	d := DefaultCreateTimelineOptions()
	return dispatch.Command{
		Name:        CreateTimeline,
		Description: "Create a new empty timeline with the given resolution and frame rate.",
		Parameters: []dispatch.Parameter{
			{Name: "name", Type: "string", Description: "Timeline name", Required: true},
			{Name: "width", Type: "integer", Description: "Width in pixels", Default: d.Width},
			{Name: "height", Type: "integer", Description: "Height in pixels", Default: d.Height},
			{Name: "frame_rate", Type: "number", Description: "Frames per second", Default: d.FrameRate},
			{Name: "set_as_current", Type: "boolean", Description: "Make the new timeline current", Default: d.SetAsCurrent},
		},
		Handler: createTimeline,
	}
}

func createTimeline(ctx context.Context, env *dispatch.Env, params map[string]any) (any, error) {
	opts := DefaultCreateTimelineOptions()
	if err := decode(params, &opts); err != nil {
		return nil, err
	}
	if strings.TrimSpace(opts.Name) == "" {
		return nil, dispatch.InvalidParams("Timeline name is required")
	}
	if opts.Width <= 0 || opts.Height <= 0 || opts.FrameRate <= 0 {
		return nil, dispatch.InvalidParams("width, height and frame_rate must be positive")
	}
	project := env.Project

	existing, _, err := project.FindTimeline(ctx, opts.Name)
	if err != nil {
		return nil, dispatch.Unknown(err, "Failed to list timelines: %s", err)
	}
	if existing != nil {
		return nil, dispatch.AlreadyExists("Timeline with name '%s' already exists", opts.Name)
	}

	mp, err := mediaPool(ctx, project)
	if err != nil {
		return nil, err
	}
	previous, err := project.CurrentTimeline(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("Could not read current timeline before create")
	}

	// Resolve takes the new timeline format from the project settings.
	settings := []settingWrite{
		{resolve.SettingTimelineWidth, strconv.Itoa(opts.Width)},
		{resolve.SettingTimelineHeight, strconv.Itoa(opts.Height)},
		{resolve.SettingTimelineFrameRate, strconv.FormatFloat(opts.FrameRate, 'f', -1, 64)},
	}
	for _, s := range settings {
		if ok, err := project.SetSetting(ctx, s.key, s.value); err != nil || !ok {
			log.Warn().Err(err).Str("setting", s.key).Str("value", s.value).Msg("Project setting rejected")
		}
	}

	tl, err := mp.CreateEmptyTimeline(ctx, opts.Name)
	if err != nil {
		return nil, dispatch.Unknown(err, "Failed to create timeline: %s", opts.Name)
	}
	if tl == nil {
		return nil, dispatch.Unknown(nil, "Failed to create timeline: %s", opts.Name)
	}

	switch {
	case opts.SetAsCurrent:
		if ok, err := project.SetCurrentTimeline(ctx, tl); err != nil || !ok {
			log.Warn().Err(err).Str("timeline", opts.Name).Msg("Could not make new timeline current")
		}
	case previous != nil:
		if ok, err := project.SetCurrentTimeline(ctx, previous); err != nil || !ok {
			log.Warn().Err(err).Msg("Could not restore previous timeline")
		}
	}

	duration, err := tl.Duration(ctx)
	if err != nil {
		duration = 0
	}

	return map[string]any{
		"message": fmt.Sprintf("Timeline '%s' created successfully", opts.Name),
		"timeline": map[string]any{
			"name":       opts.Name,
			"duration":   duration,
			"frame_rate": opts.FrameRate,
			"resolution": map[string]any{"width": opts.Width, "height": opts.Height},
		},
	}, nil
}

// MarkerColors are the marker colors Resolve accepts.
var MarkerColors = []string{
	"Blue", "Cyan", "Green", "Yellow", "Red", "Pink", "Purple", "Fuchsia",
	"Rose", "Lavender", "Sky", "Mint", "Lemon", "Sand", "Cocoa", "Cream",
}

func markerColor(s string) (string, bool) {
	for _, c := range MarkerColors {
		if strings.EqualFold(c, strings.TrimSpace(s)) {
			return c, true
		}
	}
	return "", false
}

// AddMarkerOptions configures add_marker.
type AddMarkerOptions struct {
	Frame        int    `json:"frame"`
	TimelineName string `json:"timeline_name"`
	Color        string `json:"color"`
	Name         string `json:"name"`
	Note         string `json:"note"`
	Duration     int    `json:"duration"`
}

// DefaultAddMarkerOptions is a blue marker one frame long.
func DefaultAddMarkerOptions() AddMarkerOptions {
	return AddMarkerOptions{Color: "Blue", Duration: 1}
}

func addMarkerCommand() dispatch.Command {
	d := DefaultAddMarkerOptions()
	return dispatch.Command{
		Name:        AddMarker,
		Description: "Add a marker to a timeline at the given frame.",
		Parameters: []dispatch.Parameter{
			{Name: "frame", Type: "integer", Description: "Frame number for the marker", Required: true},
			{Name: "timeline_name", Type: "string", Description: "Timeline to mark; the current timeline when omitted"},
			{Name: "color", Type: "string", Description: "Marker color: " + strings.Join(MarkerColors, ", "), Default: d.Color},
			{Name: "name", Type: "string", Description: "Marker name", Default: d.Name},
			{Name: "note", Type: "string", Description: "Marker note", Default: d.Note},
			{Name: "duration", Type: "integer", Description: "Marker length in frames", Default: d.Duration},
		},
		Handler: func(ctx context.Context, env *dispatch.Env, params map[string]any) (any, error) {
			opts := DefaultAddMarkerOptions()
			if err := decode(params, &opts); err != nil {
				return nil, err
			}
			color, ok := markerColor(opts.Color)
			if !ok {
				return nil, dispatch.InvalidParams("Invalid marker color %q; use one of %s", opts.Color, strings.Join(MarkerColors, ", "))
			}
			opts.Color = color
			if opts.Duration < 1 {
				return nil, dispatch.InvalidParams("Marker duration must be at least 1 frame")
			}

			tl, err := findTimeline(ctx, env.Project, opts.TimelineName)
			if err != nil {
				return nil, err
			}
			name, err := tl.Name(ctx)
			if err != nil {
				name = opts.TimelineName
			}

			added, err := tl.AddMarker(ctx, opts.Frame, opts.Color, opts.Name, opts.Note, opts.Duration)
			if err != nil {
				return nil, dispatch.Unknown(err, "Failed to add marker at frame %d: %s", opts.Frame, err)
			}
			if !added {
				return nil, dispatch.Unknown(nil, "Failed to add marker at frame %d", opts.Frame)
			}

			return map[string]any{
				"message":  fmt.Sprintf("Marker added at frame %d", opts.Frame),
				"timeline": name,
				"marker": map[string]any{
					"frame":    opts.Frame,
					"color":    opts.Color,
					"name":     opts.Name,
					"note":     opts.Note,
					"duration": opts.Duration,
				},
			}, nil
		},
	}
}
