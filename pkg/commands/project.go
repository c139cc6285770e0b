package commands

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/harun/resolvemcp/pkg/dispatch"
	"github.com/harun/resolvemcp/pkg/fields"
	"github.com/harun/resolvemcp/pkg/resolve"
)

// ProjectInfoQuery reads the project overview.
var ProjectInfoQuery = fields.NewQuery[resolve.Project]("project").
	Field("name", func(ctx context.Context, p *resolve.Project, _ fields.Values) (any, error) {
		return p.Name(ctx)
	}).
	Field("timeline_count", func(ctx context.Context, p *resolve.Project, _ fields.Values) (any, error) {
		return p.TimelineCount(ctx)
	}).
	Field("timelines", func(ctx context.Context, p *resolve.Project, got fields.Values) (any, error) {
		if !got.Has("timeline_count") {
			return nil, fmt.Errorf("timeline count unavailable")
		}
		count := got["timeline_count"].(int)
		names := make([]string, 0, count)
		for i := 1; i <= count; i++ {
			tl, err := p.TimelineByIndex(ctx, i)
			if err != nil {
				return nil, err
			}
			if tl == nil {
				continue
			}
			name, err := tl.Name(ctx)
			if err != nil {
				return nil, err
			}
			names = append(names, name)
		}
		return names, nil
	}).
	Field("current_timeline", func(ctx context.Context, p *resolve.Project, _ fields.Values) (any, error) {
		tl, err := p.CurrentTimeline(ctx)
		if err != nil || tl == nil {
			return nil, err
		}
		return tl.Name(ctx)
	}).
	Field("frame_rate", func(ctx context.Context, p *resolve.Project, _ fields.Values) (any, error) {
		v, err := p.Setting(ctx, resolve.SettingTimelineFrameRate)
		if err != nil {
			return nil, err
		}
		return resolve.AsFloat(v)
	}).
	Field("width", settingInt(resolve.SettingTimelineWidth)).
	Field("height", settingInt(resolve.SettingTimelineHeight)).
	Composite("resolution", []string{"width", "height"}, func(v fields.Values) any {
		return map[string]any{"width": v["width"], "height": v["height"]}
	})

func settingInt(key string) fields.Accessor[resolve.Project] {
	return func(ctx context.Context, p *resolve.Project, _ fields.Values) (any, error) {
		v, err := p.Setting(ctx, key)
		if err != nil {
			return nil, err
		}
		return resolve.AsInt(v)
	}
}

func getProjectInfoCommand() dispatch.Command {
	return dispatch.Command{
		Name:        GetProjectInfo,
		Description: "Get information about the current DaVinci Resolve project.",
		Handler: func(ctx context.Context, env *dispatch.Env, _ map[string]any) (any, error) {
			res := ProjectInfoQuery.Run(ctx, env.Project)
			return map[string]any(res.Values), nil
		},
	}
}

// ProjectSettingsOptions are the settings set_project_settings can change.
// Empty options are left alone.
type ProjectSettingsOptions struct {
	TimelineResolution string `json:"timeline_resolution,omitempty"`
	TimelineFrameRate  string `json:"timeline_frame_rate,omitempty"`
	ColorScience       string `json:"color_science,omitempty"`
	Colorspace         string `json:"colorspace,omitempty"`
}

var resolutionPattern = regexp.MustCompile(`^\s*(\d+)\s*[xX]\s*(\d+)\s*$`)

type settingWrite struct {
	key   string
	value string
}

func (o ProjectSettingsOptions) writes() ([]settingWrite, error) {
	var out []settingWrite
	if o.TimelineResolution != "" {
		m := resolutionPattern.FindStringSubmatch(o.TimelineResolution)
		if m == nil {
			return nil, dispatch.InvalidParams("Invalid timeline_resolution %q, expected WIDTHxHEIGHT", o.TimelineResolution)
		}
		out = append(out,
			settingWrite{resolve.SettingTimelineWidth, m[1]},
			settingWrite{resolve.SettingTimelineHeight, m[2]})
	}
	if o.TimelineFrameRate != "" {
		if _, err := strconv.ParseFloat(o.TimelineFrameRate, 64); err != nil {
			return nil, dispatch.InvalidParams("Invalid timeline_frame_rate %q", o.TimelineFrameRate)
		}
		out = append(out, settingWrite{resolve.SettingTimelineFrameRate, o.TimelineFrameRate})
	}
	if o.ColorScience != "" {
		out = append(out, settingWrite{resolve.SettingColorScience, o.ColorScience})
	}
	if o.Colorspace != "" {
		out = append(out, settingWrite{resolve.SettingColorSpace, o.Colorspace})
	}
	return out, nil
}

func setProjectSettingsCommand() dispatch.Command {
	return dispatch.Command{
		Name:        SetProjectSettings,
		Description: "Change project settings such as timeline resolution, frame rate and color management.",
		Parameters: []dispatch.Parameter{
			{Name: "timeline_resolution", Type: "string", Description: "Timeline resolution as WIDTHxHEIGHT, e.g. 3840x2160"},
			{Name: "timeline_frame_rate", Type: "string", Description: "Timeline frame rate, e.g. 23.976"},
			{Name: "color_science", Type: "string", Description: "Color science mode, e.g. davinciYRGBColorManagedv2"},
			{Name: "colorspace", Type: "string", Description: "Timeline color space"},
		},
		Handler: func(ctx context.Context, env *dispatch.Env, params map[string]any) (any, error) {
			var opts ProjectSettingsOptions
			if err := decode(params, &opts); err != nil {
				return nil, err
			}
			writes, err := opts.writes()
			if err != nil {
				return nil, err
			}
			if len(writes) == 0 {
				return nil, dispatch.InvalidParams("No project settings supplied")
			}

			applied := []string{}
			failed := []string{}
			for _, w := range writes {
				ok, err := env.Project.SetSetting(ctx, w.key, w.value)
				if err != nil || !ok {
					log.Warn().Err(err).Str("setting", w.key).Str("value", w.value).Msg("Project setting rejected")
					failed = append(failed, w.key)
					continue
				}
				applied = append(applied, w.key)
			}
			if len(applied) == 0 {
				return nil, dispatch.Unknown(nil, "Failed to apply project settings: %s", strings.Join(failed, ", "))
			}

			return map[string]any{
				"message": fmt.Sprintf("Applied %d of %d project settings", len(applied), len(writes)),
				"applied": applied,
				"failed":  failed,
			}, nil
		},
	}
}
