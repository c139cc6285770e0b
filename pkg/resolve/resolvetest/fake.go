// Package resolvetest provides an in-memory Resolve session for tests.
//
// The fake answers the same method names as the scripting API and lets a test
// inject a failure into any single method ("Project.GetSetting") or take the
// whole application down.
package resolvetest

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/harun/resolvemcp/pkg/resolve"
)

// ErrUnavailable is returned by every call while the fake is down.
var ErrUnavailable = errors.New("resolve is not running")

// DefaultStartFrame is where new timelines start (01:00:00:00 at 24 fps).
const DefaultStartFrame = 86400

// Fake is an in-memory application.
type Fake struct {
	mu       sync.Mutex
	version  string
	project  *Project
	down     bool
	failures map[string]error
	files    map[string]bool
	calls    []string
	connects int
}

// New returns a running fake with no open project.
func New() *Fake {
	return &Fake{
		version:  "19.0.3",
		failures: make(map[string]error),
		files:    make(map[string]bool),
	}
}

// Connector returns a connector that hands out the application root.
func (f *Fake) Connector() resolve.Connector {
	return resolve.ConnectorFunc(func(ctx context.Context) (resolve.Object, error) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.connects++
		if f.down {
			return nil, ErrUnavailable
		}
		if err := f.failures["scriptapp"]; err != nil {
			return nil, err
		}
		return &appObject{f: f}, nil
	})
}

// SetDown simulates the application quitting (true) or coming back (false).
func (f *Fake) SetDown(down bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.down = down
}

// Fail makes target ("Type.Method" or "scriptapp") return err until Heal.
func (f *Fake) Fail(target string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[target] = err
}

// Heal removes an injected failure.
func (f *Fake) Heal(target string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.failures, target)
}

// AddMediaFile makes path importable.
func (f *Fake) AddMediaFile(path string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.files[path] = true
}

// Calls returns every "Type.Method" invoked so far.
func (f *Fake) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

// ConnectCount reports how many times the connector was used.
func (f *Fake) ConnectCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connects
}

// OpenProject opens a fresh project with default settings and makes it
// current.
func (f *Fake) OpenProject(name string) *Project {
	root := &Folder{f: f, Name: "Master"}
	p := &Project{
		f:    f,
		Name: name,
		Settings: map[string]string{
			resolve.SettingTimelineWidth:     "1920",
			resolve.SettingTimelineHeight:    "1080",
			resolve.SettingTimelineFrameRate: "24",
			resolve.SettingColorScience:      "davinciYRGB",
			resolve.SettingColorSpace:        "Rec.709 Gamma 2.4",
		},
		Pool: &MediaPool{f: f, Root: root, Current: root},
	}
	f.mu.Lock()
	f.project = p
	f.mu.Unlock()
	return p
}

// CloseProject leaves the application without an open project.
func (f *Fake) CloseProject() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.project = nil
}

// enterLocked records a call and returns the injected error for it, if any.
func (f *Fake) enterLocked(kind, method string) error {
	target := kind + "." + method
	f.calls = append(f.calls, target)
	if f.down {
		return ErrUnavailable
	}
	if err := f.failures[target]; err != nil {
		return err
	}
	return nil
}

func unknownMethod(kind, method string) error {
	return fmt.Errorf("'%s' object has no attribute '%s'", kind, method)
}

func argInt(args []any, i int) (int, error) {
	if i >= len(args) {
		return 0, fmt.Errorf("missing argument %d", i+1)
	}
	return resolve.AsInt(args[i])
}

func argString(args []any, i int) (string, error) {
	if i >= len(args) {
		return "", fmt.Errorf("missing argument %d", i+1)
	}
	s, ok := args[i].(string)
	if !ok {
		return "", fmt.Errorf("argument %d: expected string, got %T", i+1, args[i])
	}
	return s, nil
}

type appObject struct{ f *Fake }

func (a *appObject) Call(_ context.Context, method string, _ ...any) (any, error) {
	a.f.mu.Lock()
	defer a.f.mu.Unlock()
	if err := a.f.enterLocked("Resolve", method); err != nil {
		return nil, err
	}
	switch method {
	case "GetVersionString":
		return a.f.version, nil
	case "GetProductName":
		return "DaVinci Resolve", nil
	case "GetProjectManager":
		return &managerObject{f: a.f}, nil
	default:
		return nil, unknownMethod("Resolve", method)
	}
}

type managerObject struct{ f *Fake }

func (m *managerObject) Call(_ context.Context, method string, _ ...any) (any, error) {
	m.f.mu.Lock()
	defer m.f.mu.Unlock()
	if err := m.f.enterLocked("ProjectManager", method); err != nil {
		return nil, err
	}
	switch method {
	case "GetCurrentProject":
		if m.f.project == nil {
			return nil, nil
		}
		return m.f.project, nil
	default:
		return nil, unknownMethod("ProjectManager", method)
	}
}

// Project is a fake project. Fields may be edited by tests before dispatch.
type Project struct {
	f         *Fake
	Name      string
	Settings  map[string]string
	Timelines []*Timeline
	Current   *Timeline
	Pool      *MediaPool
}

// AddTimeline appends a timeline and returns it. The first timeline added
// becomes current.
func (p *Project) AddTimeline(name string, frames int) *Timeline {
	p.f.mu.Lock()
	defer p.f.mu.Unlock()
	tl := p.newTimelineLocked(name)
	tl.End = tl.Start + frames
	return tl
}

func (p *Project) newTimelineLocked(name string) *Timeline {
	tl := &Timeline{
		f:     p.f,
		Name:  name,
		Start: DefaultStartFrame,
		End:   DefaultStartFrame,
		Tracks: map[string]int{
			resolve.TrackVideo:    1,
			resolve.TrackAudio:    1,
			resolve.TrackSubtitle: 0,
		},
	}
	p.Timelines = append(p.Timelines, tl)
	if p.Current == nil {
		p.Current = tl
	}
	return tl
}

// CurrentTimeline returns the current timeline under the fake's lock.
func (p *Project) CurrentTimeline() *Timeline {
	p.f.mu.Lock()
	defer p.f.mu.Unlock()
	return p.Current
}

// TimelineNames lists timeline names in index order.
func (p *Project) TimelineNames() []string {
	p.f.mu.Lock()
	defer p.f.mu.Unlock()
	names := make([]string, len(p.Timelines))
	for i, tl := range p.Timelines {
		names[i] = tl.Name
	}
	return names
}

// Setting reads a setting under the fake's lock.
func (p *Project) Setting(key string) string {
	p.f.mu.Lock()
	defer p.f.mu.Unlock()
	return p.Settings[key]
}

func (p *Project) Call(_ context.Context, method string, args ...any) (any, error) {
	p.f.mu.Lock()
	defer p.f.mu.Unlock()
	if err := p.f.enterLocked("Project", method); err != nil {
		return nil, err
	}
	switch method {
	case "GetName":
		return p.Name, nil
	case "GetSetting":
		key, err := argString(args, 0)
		if err != nil {
			return nil, err
		}
		v, ok := p.Settings[key]
		if !ok {
			return nil, nil
		}
		return v, nil
	case "SetSetting":
		key, err := argString(args, 0)
		if err != nil {
			return nil, err
		}
		value, err := argString(args, 1)
		if err != nil {
			return nil, err
		}
		if _, ok := p.Settings[key]; !ok {
			return false, nil
		}
		p.Settings[key] = value
		return true, nil
	case "GetTimelineCount":
		return len(p.Timelines), nil
	case "GetTimelineByIndex":
		i, err := argInt(args, 0)
		if err != nil {
			return nil, err
		}
		if i < 1 || i > len(p.Timelines) {
			return nil, nil
		}
		return p.Timelines[i-1], nil
	case "GetCurrentTimeline":
		if p.Current == nil {
			return nil, nil
		}
		return p.Current, nil
	case "SetCurrentTimeline":
		if len(args) == 0 {
			return nil, fmt.Errorf("missing argument 1")
		}
		tl, ok := args[0].(*Timeline)
		if !ok {
			return false, nil
		}
		for _, existing := range p.Timelines {
			if existing == tl {
				p.Current = tl
				return true, nil
			}
		}
		return false, nil
	case "GetMediaPool":
		if p.Pool == nil {
			return nil, nil
		}
		return p.Pool, nil
	default:
		return nil, unknownMethod("Project", method)
	}
}

// Marker is a marker placed on a fake timeline.
type Marker struct {
	Frame    int
	Color    string
	Name     string
	Note     string
	Duration int
}

// Timeline is a fake timeline.
type Timeline struct {
	f       *Fake
	Name    string
	Start   int
	End     int
	Tracks  map[string]int
	Markers []Marker
}

// MarkerList returns a copy of the markers under the fake's lock.
func (t *Timeline) MarkerList() []Marker {
	t.f.mu.Lock()
	defer t.f.mu.Unlock()
	return append([]Marker(nil), t.Markers...)
}

func (t *Timeline) Call(_ context.Context, method string, args ...any) (any, error) {
	t.f.mu.Lock()
	defer t.f.mu.Unlock()
	if err := t.f.enterLocked("Timeline", method); err != nil {
		return nil, err
	}
	switch method {
	case "GetName":
		return t.Name, nil
	case "GetStartFrame":
		return t.Start, nil
	case "GetEndFrame":
		return t.End, nil
	case "GetTrackCount":
		kind, err := argString(args, 0)
		if err != nil {
			return nil, err
		}
		return t.Tracks[kind], nil
	case "AddMarker":
		frame, err := argInt(args, 0)
		if err != nil {
			return nil, err
		}
		m := Marker{Frame: frame}
		if m.Color, err = argString(args, 1); err != nil {
			return nil, err
		}
		if m.Name, err = argString(args, 2); err != nil {
			return nil, err
		}
		if m.Note, err = argString(args, 3); err != nil {
			return nil, err
		}
		if m.Duration, err = argInt(args, 4); err != nil {
			return nil, err
		}
		if frame < 0 {
			return false, nil
		}
		for _, existing := range t.Markers {
			if existing.Frame == frame {
				return false, nil
			}
		}
		t.Markers = append(t.Markers, m)
		return true, nil
	default:
		return nil, unknownMethod("Timeline", method)
	}
}

// MediaPool is a fake media pool.
type MediaPool struct {
	f       *Fake
	Root    *Folder
	Current *Folder
}

func (mp *MediaPool) Call(_ context.Context, method string, args ...any) (any, error) {
	mp.f.mu.Lock()
	defer mp.f.mu.Unlock()
	if err := mp.f.enterLocked("MediaPool", method); err != nil {
		return nil, err
	}
	switch method {
	case "GetRootFolder":
		return mp.Root, nil
	case "GetCurrentFolder":
		return mp.Current, nil
	case "SetCurrentFolder":
		if len(args) == 0 {
			return nil, fmt.Errorf("missing argument 1")
		}
		folder, ok := args[0].(*Folder)
		if !ok {
			return false, nil
		}
		mp.Current = folder
		return true, nil
	case "CreateEmptyTimeline":
		name, err := argString(args, 0)
		if err != nil {
			return nil, err
		}
		p := mp.f.project
		if p == nil {
			return nil, nil
		}
		for _, tl := range p.Timelines {
			if tl.Name == name {
				return nil, nil
			}
		}
		tl := p.newTimelineLocked(name)
		p.Current = tl
		return tl, nil
	case "ImportMedia":
		if len(args) == 0 {
			return nil, fmt.Errorf("missing argument 1")
		}
		paths, err := resolve.AsList(args[0])
		if err != nil {
			return nil, err
		}
		var imported []any
		for _, raw := range paths {
			path, ok := raw.(string)
			if !ok || !mp.f.files[path] {
				continue
			}
			clip := &Clip{f: mp.f, Name: filepath.Base(path)}
			mp.Current.Clips = append(mp.Current.Clips, clip)
			imported = append(imported, clip)
		}
		return imported, nil
	default:
		return nil, unknownMethod("MediaPool", method)
	}
}

// Folder is a fake media pool bin.
type Folder struct {
	f          *Fake
	Name       string
	Clips      []*Clip
	Subfolders []*Folder
}

// AddSubfolder creates a child bin.
func (fo *Folder) AddSubfolder(name string) *Folder {
	fo.f.mu.Lock()
	defer fo.f.mu.Unlock()
	child := &Folder{f: fo.f, Name: name}
	fo.Subfolders = append(fo.Subfolders, child)
	return child
}

// AddClip places a clip directly in the bin.
func (fo *Folder) AddClip(name string) *Clip {
	fo.f.mu.Lock()
	defer fo.f.mu.Unlock()
	clip := &Clip{f: fo.f, Name: name}
	fo.Clips = append(fo.Clips, clip)
	return clip
}

// ClipNames lists clip names under the fake's lock.
func (fo *Folder) ClipNames() []string {
	fo.f.mu.Lock()
	defer fo.f.mu.Unlock()
	names := make([]string, len(fo.Clips))
	for i, c := range fo.Clips {
		names[i] = c.Name
	}
	return names
}

func (fo *Folder) Call(_ context.Context, method string, _ ...any) (any, error) {
	fo.f.mu.Lock()
	defer fo.f.mu.Unlock()
	if err := fo.f.enterLocked("Folder", method); err != nil {
		return nil, err
	}
	switch method {
	case "GetName":
		return fo.Name, nil
	case "GetClipList":
		out := make([]any, len(fo.Clips))
		for i, c := range fo.Clips {
			out[i] = c
		}
		return out, nil
	case "GetSubFolderList":
		out := make([]any, len(fo.Subfolders))
		for i, sub := range fo.Subfolders {
			out[i] = sub
		}
		return out, nil
	default:
		return nil, unknownMethod("Folder", method)
	}
}

// Clip is a fake media pool item.
type Clip struct {
	f    *Fake
	Name string
}

func (c *Clip) Call(_ context.Context, method string, _ ...any) (any, error) {
	c.f.mu.Lock()
	defer c.f.mu.Unlock()
	if err := c.f.enterLocked("MediaPoolItem", method); err != nil {
		return nil, err
	}
	switch method {
	case "GetName":
		return c.Name, nil
	default:
		return nil, unknownMethod("MediaPoolItem", method)
	}
}
