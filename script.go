package flyer

import (
	"encoding/json"
	"fmt"
)

// scriptStep is a single edit in a script. Fields apply per action.
type scriptStep struct {
	Action string `json:"action"`
	Label  string `json:"label,omitempty"` // export
	Ref    string `json:"ref,omitempty"`   // script-local marker alias

	Title    *string  `json:"title,omitempty"`
	Subtitle *string  `json:"subtitle,omitempty"`
	Role     *string  `json:"role,omitempty"`
	Name     *string  `json:"name,omitempty"`
	Stat     *string  `json:"stat,omitempty"`
	Text     *string  `json:"text,omitempty"`
	Hidden   *bool    `json:"hidden,omitempty"`
	Image    string   `json:"image,omitempty"`
	ClubLogo string   `json:"clubLogo,omitempty"`
	X        *float64 `json:"x,omitempty"`
	Y        *float64 `json:"y,omitempty"`
	Top      *float64 `json:"top,omitempty"`
	Left     *float64 `json:"left,omitempty"`
}

// editScript is the top-level JSON structure for an edit script.
type editScript struct {
	Steps []scriptStep `json:"steps"`
}

// ImageLoader returns the bytes of the image at path.
type ImageLoader func(path string) ([]byte, error)

// ScriptRunner replays a JSON edit script against a session: header,
// spotlight and marker edits plus export snapshots. Used for batch flyer
// generation and automated visual checks.
type ScriptRunner struct {
	steps  []scriptStep
	cursor int
	refs   map[string]int
	done   bool

	// Exported holds the paths written by export steps, in order.
	Exported []string
}

// LoadEditScript parses a JSON edit script.
func LoadEditScript(jsonData []byte) (*ScriptRunner, error) {
	var script editScript
	if err := json.Unmarshal(jsonData, &script); err != nil {
		return nil, fmt.Errorf("parse edit script: %w", err)
	}
	if len(script.Steps) == 0 {
		return nil, fmt.Errorf("parse edit script: no steps")
	}
	return &ScriptRunner{steps: script.Steps, refs: make(map[string]int)}, nil
}

// Done reports whether every step has run.
func (r *ScriptRunner) Done() bool {
	return r.done
}

// MarkerID returns the id minted for a script alias.
func (r *ScriptRunner) MarkerID(ref string) (int, bool) {
	id, ok := r.refs[ref]
	return id, ok
}

// ScriptEnv is what a script runs against.
type ScriptEnv struct {
	Session  *Session
	Load     ImageLoader
	Renderer *Renderer
	Exporter *Exporter // nil skips export steps
	Viewport Viewport
}

// Run executes every remaining step, stopping at the first failure.
func (r *ScriptRunner) Run(env ScriptEnv) error {
	for !r.done {
		if err := r.Step(env); err != nil {
			return err
		}
	}
	return nil
}

// Step executes the next step.
func (r *ScriptRunner) Step(env ScriptEnv) error {
	if r.done {
		return nil
	}
	st := r.steps[r.cursor]
	r.cursor++
	if r.cursor >= len(r.steps) {
		r.done = true
	}
	if err := r.exec(env, st); err != nil {
		return fmt.Errorf("step %d (%s): %w", r.cursor, st.Action, err)
	}
	return nil
}

func (r *ScriptRunner) exec(env ScriptEnv, st scriptStep) error {
	s := env.Session.Scene()
	switch st.Action {
	case "background":
		img, err := r.upload(env, st.Image)
		if err != nil {
			return err
		}
		return releaseOnErr(s.SetBackground(img), img)
	case "header":
		logo, err := r.upload(env, st.Image)
		if err != nil {
			return err
		}
		return releaseOnErr(s.SetHeader(HeaderPatch{Title: st.Title, Subtitle: st.Subtitle, Logo: logo}), logo)
	case "spotlight":
		img, err := r.upload(env, st.Image)
		if err != nil {
			return err
		}
		club, err := r.upload(env, st.ClubLogo)
		if err != nil {
			img.Release()
			return err
		}
		err = s.SetSpotlight(SpotlightPatch{
			Name: st.Name, Stat: st.Stat, Image: img, ClubLogo: club,
			Top: st.Top, Left: st.Left,
		})
		return releaseOnErr(err, img, club)
	case "footer":
		return s.SetFooter(FooterPatch{Text: st.Text, Hidden: st.Hidden})
	case "add":
		img, err := r.upload(env, st.Image)
		if err != nil {
			return err
		}
		mi := MarkerInit{Image: img, X: st.X, Y: st.Y}
		if st.Role != nil {
			mi.Role = *st.Role
		}
		if st.Name != nil {
			mi.Name = *st.Name
		}
		if st.Stat != nil {
			mi.Stat = *st.Stat
		}
		id, err := s.AddMarker(mi)
		if err != nil {
			img.Release()
			return err
		}
		if st.Ref != "" {
			r.refs[st.Ref] = id
		}
		return nil
	case "update":
		id, err := r.lookup(st.Ref)
		if err != nil {
			return err
		}
		img, err := r.upload(env, st.Image)
		if err != nil {
			return err
		}
		err = s.UpdateMarker(id, MarkerPatch{
			Role: st.Role, Name: st.Name, Stat: st.Stat, Image: img, X: st.X, Y: st.Y,
		})
		return releaseOnErr(err, img)
	case "move":
		id, err := r.lookup(st.Ref)
		if err != nil {
			return err
		}
		m, _ := s.Marker(id)
		x, y := m.X, m.Y
		if st.X != nil {
			x = *st.X
		}
		if st.Y != nil {
			y = *st.Y
		}
		return s.Reposition(id, x, y)
	case "remove":
		id, err := r.lookup(st.Ref)
		if err != nil {
			return err
		}
		delete(r.refs, st.Ref)
		return s.RemoveMarker(id)
	case "export":
		if env.Exporter == nil {
			return nil
		}
		rd := env.Renderer
		if rd == nil {
			rd = NewRenderer()
		}
		path, err := env.Exporter.ExportFile(st.Label, rd.Render(s, env.Viewport), env.Viewport)
		if err != nil {
			return err
		}
		r.Exported = append(r.Exported, path)
		return nil
	default:
		return fmt.Errorf("unknown action %q", st.Action)
	}
}

func (r *ScriptRunner) lookup(ref string) (int, error) {
	id, ok := r.refs[ref]
	if !ok {
		return 0, fmt.Errorf("ref %q: %w", ref, ErrMarkerNotFound)
	}
	return id, nil
}

// releaseOnErr releases freshly uploaded handles the scene did not take.
func releaseOnErr(err error, imgs ...*ImageResource) error {
	if err != nil {
		for _, img := range imgs {
			img.Release()
		}
	}
	return err
}

// upload loads and acquires path; an empty path yields a nil handle.
func (r *ScriptRunner) upload(env ScriptEnv, path string) (*ImageResource, error) {
	if path == "" {
		return nil, nil
	}
	if env.Load == nil {
		return nil, fmt.Errorf("load %s: no image loader", path)
	}
	data, err := env.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", path, err)
	}
	return env.Session.Upload(data), nil
}
