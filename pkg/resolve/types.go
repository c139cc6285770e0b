package resolve

import (
	"context"
	"fmt"
)

// Track types accepted by Timeline.TrackCount.
const (
	TrackVideo    = "video"
	TrackAudio    = "audio"
	TrackSubtitle = "subtitle"
)

// Project setting keys used by the command registry.
const (
	SettingTimelineWidth     = "timelineResolutionWidth"
	SettingTimelineHeight    = "timelineResolutionHeight"
	SettingTimelineFrameRate = "timelineFrameRate"
	SettingColorScience      = "colorScienceMode"
	SettingColorSpace        = "colorSpaceTimeline"
)

// App is the application root object returned by scriptapp("Resolve").
type App struct{ obj Object }

// NewApp wraps obj, returning nil for a nil object.
func NewApp(obj Object) *App {
	if obj == nil {
		return nil
	}
	return &App{obj: obj}
}

// Object returns the underlying handle.
func (a *App) Object() Object { return a.obj }

// ProjectManager returns the project manager.
func (a *App) ProjectManager(ctx context.Context) (*ProjectManager, error) {
	obj, err := callObject(ctx, a.obj, "GetProjectManager")
	if err != nil {
		return nil, err
	}
	if obj == nil {
		return nil, nil
	}
	return &ProjectManager{obj: obj}, nil
}

// Version returns the application version string. It is the cheapest call the
// application answers and doubles as a liveness probe.
func (a *App) Version(ctx context.Context) (string, error) {
	return callString(ctx, a.obj, "GetVersionString")
}

// ProjectManager owns the project database.
type ProjectManager struct{ obj Object }

// NewProjectManager wraps obj, returning nil for a nil object.
func NewProjectManager(obj Object) *ProjectManager {
	if obj == nil {
		return nil
	}
	return &ProjectManager{obj: obj}
}

// Object returns the underlying handle.
func (pm *ProjectManager) Object() Object { return pm.obj }

// CurrentProject returns the open project or nil when none is open.
func (pm *ProjectManager) CurrentProject(ctx context.Context) (*Project, error) {
	obj, err := callObject(ctx, pm.obj, "GetCurrentProject")
	if err != nil {
		return nil, err
	}
	return NewProject(obj), nil
}

// Project is an open project.
type Project struct{ obj Object }

// NewProject wraps obj, returning nil for a nil object.
func NewProject(obj Object) *Project {
	if obj == nil {
		return nil
	}
	return &Project{obj: obj}
}

// Object returns the underlying handle.
func (p *Project) Object() Object { return p.obj }

// Name returns the project name.
func (p *Project) Name(ctx context.Context) (string, error) {
	return callString(ctx, p.obj, "GetName")
}

// Setting returns a project setting. Settings are always strings.
func (p *Project) Setting(ctx context.Context, key string) (string, error) {
	v, err := p.obj.Call(ctx, "GetSetting", key)
	if err != nil {
		return "", err
	}
	if v == nil {
		return "", fmt.Errorf("setting %s is not available", key)
	}
	return AsString(v)
}

// SetSetting writes a project setting and reports whether it was accepted.
func (p *Project) SetSetting(ctx context.Context, key, value string) (bool, error) {
	return callBool(ctx, p.obj, "SetSetting", key, value)
}

// TimelineCount returns the number of timelines in the project.
func (p *Project) TimelineCount(ctx context.Context) (int, error) {
	return callInt(ctx, p.obj, "GetTimelineCount")
}

// TimelineByIndex returns the timeline at a 1-based index.
func (p *Project) TimelineByIndex(ctx context.Context, index int) (*Timeline, error) {
	obj, err := callObject(ctx, p.obj, "GetTimelineByIndex", index)
	if err != nil {
		return nil, err
	}
	return NewTimeline(obj), nil
}

// CurrentTimeline returns the active timeline or nil.
func (p *Project) CurrentTimeline(ctx context.Context) (*Timeline, error) {
	obj, err := callObject(ctx, p.obj, "GetCurrentTimeline")
	if err != nil {
		return nil, err
	}
	return NewTimeline(obj), nil
}

// SetCurrentTimeline makes tl the active timeline.
func (p *Project) SetCurrentTimeline(ctx context.Context, tl *Timeline) (bool, error) {
	return callBool(ctx, p.obj, "SetCurrentTimeline", tl.obj)
}

// MediaPool returns the project media pool.
func (p *Project) MediaPool(ctx context.Context) (*MediaPool, error) {
	obj, err := callObject(ctx, p.obj, "GetMediaPool")
	if err != nil {
		return nil, err
	}
	return NewMediaPool(obj), nil
}

// FindTimeline scans timelines 1..count and returns the first one named name
// with its index. A missing timeline is (nil, 0, nil).
func (p *Project) FindTimeline(ctx context.Context, name string) (*Timeline, int, error) {
	count, err := p.TimelineCount(ctx)
	if err != nil {
		return nil, 0, err
	}
	for i := 1; i <= count; i++ {
		tl, err := p.TimelineByIndex(ctx, i)
		if err != nil {
			return nil, 0, err
		}
		if tl == nil {
			continue
		}
		tlName, err := tl.Name(ctx)
		if err != nil {
			return nil, 0, err
		}
		if tlName == name {
			return tl, i, nil
		}
	}
	return nil, 0, nil
}

// Timeline is a project timeline.
type Timeline struct{ obj Object }

// NewTimeline wraps obj, returning nil for a nil object.
func NewTimeline(obj Object) *Timeline {
	if obj == nil {
		return nil
	}
	return &Timeline{obj: obj}
}

// Object returns the underlying handle.
func (t *Timeline) Object() Object { return t.obj }

// Name returns the timeline name.
func (t *Timeline) Name(ctx context.Context) (string, error) {
	return callString(ctx, t.obj, "GetName")
}

// StartFrame returns the first frame of the timeline.
func (t *Timeline) StartFrame(ctx context.Context) (int, error) {
	return callInt(ctx, t.obj, "GetStartFrame")
}

// EndFrame returns the last frame of the timeline.
func (t *Timeline) EndFrame(ctx context.Context) (int, error) {
	return callInt(ctx, t.obj, "GetEndFrame")
}

// Duration returns the timeline length in frames.
func (t *Timeline) Duration(ctx context.Context) (int, error) {
	start, err := t.StartFrame(ctx)
	if err != nil {
		return 0, err
	}
	end, err := t.EndFrame(ctx)
	if err != nil {
		return 0, err
	}
	return end - start, nil
}

// TrackCount returns the number of tracks of the given type.
func (t *Timeline) TrackCount(ctx context.Context, trackType string) (int, error) {
	return callInt(ctx, t.obj, "GetTrackCount", trackType)
}

// AddMarker adds a marker at frame and reports whether it was placed.
func (t *Timeline) AddMarker(ctx context.Context, frame int, color, name, note string, duration int) (bool, error) {
	return callBool(ctx, t.obj, "AddMarker", frame, color, name, note, duration)
}

// MediaPool is the project's clip library.
type MediaPool struct{ obj Object }

// NewMediaPool wraps obj, returning nil for a nil object.
func NewMediaPool(obj Object) *MediaPool {
	if obj == nil {
		return nil
	}
	return &MediaPool{obj: obj}
}

// Object returns the underlying handle.
func (mp *MediaPool) Object() Object { return mp.obj }

// RootFolder returns the media pool root bin.
func (mp *MediaPool) RootFolder(ctx context.Context) (*Folder, error) {
	obj, err := callObject(ctx, mp.obj, "GetRootFolder")
	if err != nil {
		return nil, err
	}
	return NewFolder(obj), nil
}

// CurrentFolder returns the selected bin.
func (mp *MediaPool) CurrentFolder(ctx context.Context) (*Folder, error) {
	obj, err := callObject(ctx, mp.obj, "GetCurrentFolder")
	if err != nil {
		return nil, err
	}
	return NewFolder(obj), nil
}

// SetCurrentFolder selects a bin.
func (mp *MediaPool) SetCurrentFolder(ctx context.Context, f *Folder) (bool, error) {
	return callBool(ctx, mp.obj, "SetCurrentFolder", f.obj)
}

// CreateEmptyTimeline creates a timeline in the current bin. A nil timeline
// means the application refused.
func (mp *MediaPool) CreateEmptyTimeline(ctx context.Context, name string) (*Timeline, error) {
	obj, err := callObject(ctx, mp.obj, "CreateEmptyTimeline", name)
	if err != nil {
		return nil, err
	}
	return NewTimeline(obj), nil
}

// ImportMedia imports files into the current bin.
func (mp *MediaPool) ImportMedia(ctx context.Context, paths []string) ([]*MediaPoolItem, error) {
	args := make([]any, len(paths))
	for i, p := range paths {
		args[i] = p
	}
	items, err := callList(ctx, mp.obj, "ImportMedia", args)
	if err != nil {
		return nil, err
	}
	return toItems(items)
}

// Folder is a media pool bin.
type Folder struct{ obj Object }

// NewFolder wraps obj, returning nil for a nil object.
func NewFolder(obj Object) *Folder {
	if obj == nil {
		return nil
	}
	return &Folder{obj: obj}
}

// Object returns the underlying handle.
func (f *Folder) Object() Object { return f.obj }

// Name returns the bin name.
func (f *Folder) Name(ctx context.Context) (string, error) {
	return callString(ctx, f.obj, "GetName")
}

// Clips returns the clips in the bin.
func (f *Folder) Clips(ctx context.Context) ([]*MediaPoolItem, error) {
	items, err := callList(ctx, f.obj, "GetClipList")
	if err != nil {
		return nil, err
	}
	return toItems(items)
}

// Subfolders returns the child bins.
func (f *Folder) Subfolders(ctx context.Context) ([]*Folder, error) {
	items, err := callList(ctx, f.obj, "GetSubFolderList")
	if err != nil {
		return nil, err
	}
	out := make([]*Folder, 0, len(items))
	for _, item := range items {
		obj, err := AsObject(item)
		if err != nil {
			return nil, fmt.Errorf("GetSubFolderList: %w", err)
		}
		if obj != nil {
			out = append(out, &Folder{obj: obj})
		}
	}
	return out, nil
}

// MediaPoolItem is a clip in the media pool.
type MediaPoolItem struct{ obj Object }

// Object returns the underlying handle.
func (it *MediaPoolItem) Object() Object { return it.obj }

// Name returns the clip name.
func (it *MediaPoolItem) Name(ctx context.Context) (string, error) {
	return callString(ctx, it.obj, "GetName")
}

func toItems(items []any) ([]*MediaPoolItem, error) {
	out := make([]*MediaPoolItem, 0, len(items))
	for _, item := range items {
		obj, err := AsObject(item)
		if err != nil {
			return nil, err
		}
		if obj != nil {
			out = append(out, &MediaPoolItem{obj: obj})
		}
	}
	return out, nil
}
