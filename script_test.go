package flyer

import (
	"errors"
	"image/color"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
)

func mapLoader(t *testing.T) ImageLoader {
	files := map[string][]byte{
		"bg.png":    testPNG(t, 4, 5, color.RGBA{0, 80, 0, 255}),
		"a.png":     testPNG(t, 2, 2, color.White),
		"b.png":     testPNG(t, 2, 2, color.Black),
		"star.png":  testPNG(t, 3, 3, color.White),
		"crest.png": testPNG(t, 3, 3, color.Black),
	}
	return func(path string) ([]byte, error) {
		data, ok := files[path]
		if !ok {
			return nil, os.ErrNotExist
		}
		return data, nil
	}
}

const lineupScript = `{"steps": [
	{"action": "header", "title": "SEMI FINAL", "subtitle": "Home XI"},
	{"action": "background", "image": "bg.png"},
	{"action": "add", "ref": "gk", "role": "GK", "name": "Kelleher", "image": "a.png", "x": 50, "y": 85},
	{"action": "add", "ref": "st", "role": "ST", "name": "Jota", "x": 50, "y": 20},
	{"action": "update", "ref": "gk", "stat": "7.4", "image": "b.png"},
	{"action": "move", "ref": "st", "x": 130},
	{"action": "spotlight", "name": "Jota", "stat": "2 goals", "image": "star.png", "clubLogo": "crest.png", "top": 30},
	{"action": "footer", "hidden": true},
	{"action": "remove", "ref": "gk"},
	{"action": "export", "label": "semi final"}
]}`

func TestScriptRun(t *testing.T) {
	rm := NewResourceManager()
	sess := NewSession(rm, zerolog.Nop())
	defer sess.Close()

	r, err := LoadEditScript([]byte(lineupScript))
	if err != nil {
		t.Fatal(err)
	}
	dir := t.TempDir()
	env := ScriptEnv{
		Session:  sess,
		Load:     mapLoader(t),
		Exporter: NewExporter(WithExportDir(dir)),
		Viewport: NewViewport(200),
	}
	if err := r.Run(env); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !r.Done() {
		t.Error("runner should be done")
	}

	s := sess.Scene()
	if s.Header().Title != "SEMI FINAL" || s.Header().Subtitle != "Home XI" {
		t.Errorf("header = %+v", s.Header())
	}
	if !s.Background().Drawable() {
		t.Error("background not set")
	}
	if s.Len() != 1 {
		t.Fatalf("Len = %d, want 1", s.Len())
	}
	if _, ok := r.MarkerID("gk"); ok {
		t.Error("removed alias still resolves")
	}
	stID, _ := r.MarkerID("st")
	st, _ := s.Marker(stID)
	if st.X != 100 || st.Y != 20 || st.Role != "ST" {
		t.Errorf("st marker = %+v", st)
	}
	sp := s.Spotlight()
	if sp.Name != "Jota" || sp.Top != 30 || sp.Left != DefaultSpotlightLeft || sp.ClubLogo == nil {
		t.Errorf("spotlight = %+v", sp)
	}
	if !s.Footer().Hidden {
		t.Error("footer should be hidden")
	}
	// bg, spotlight image and club logo
	if rm.Live() != 3 {
		t.Errorf("Live = %d, want 3", rm.Live())
	}

	if len(r.Exported) != 1 {
		t.Fatalf("Exported = %v", r.Exported)
	}
	if filepath.Dir(r.Exported[0]) != dir {
		t.Errorf("export path = %s", r.Exported[0])
	}
	if _, err := os.Stat(r.Exported[0]); err != nil {
		t.Error(err)
	}
}

func TestScriptExportSkippedWithoutExporter(t *testing.T) {
	sess := NewSession(NewResourceManager(), zerolog.Nop())
	defer sess.Close()
	r, _ := LoadEditScript([]byte(`{"steps":[{"action":"export","label":"x"}]}`))
	if err := r.Run(ScriptEnv{Session: sess, Viewport: DefaultViewport}); err != nil {
		t.Fatal(err)
	}
	if len(r.Exported) != 0 {
		t.Error("export without an exporter should be skipped")
	}
}

func TestScriptStepwise(t *testing.T) {
	sess := NewSession(NewResourceManager(), zerolog.Nop())
	defer sess.Close()
	r, _ := LoadEditScript([]byte(`{"steps":[{"action":"add","ref":"a"},{"action":"add","ref":"b"}]}`))
	env := ScriptEnv{Session: sess}

	if err := r.Step(env); err != nil || r.Done() {
		t.Fatalf("first step: err=%v done=%v", err, r.Done())
	}
	if sess.Scene().Len() != 1 {
		t.Error("one step should add one marker")
	}
	_ = r.Step(env)
	if !r.Done() || sess.Scene().Len() != 2 {
		t.Error("second step should finish the script")
	}
	if err := r.Step(env); err != nil {
		t.Error("Step after Done must be a no-op")
	}
}

func TestScriptErrors(t *testing.T) {
	tests := []struct {
		name   string
		script string
		is     error
	}{
		{"unknown ref", `{"steps":[{"action":"move","ref":"ghost","x":1}]}`, ErrMarkerNotFound},
		{"missing image", `{"steps":[{"action":"add","image":"nope.png"}]}`, os.ErrNotExist},
		{"unknown action", `{"steps":[{"action":"explode"}]}`, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rm := NewResourceManager()
			sess := NewSession(rm, zerolog.Nop())
			defer sess.Close()
			r, err := LoadEditScript([]byte(tt.script))
			if err != nil {
				t.Fatal(err)
			}
			err = r.Run(ScriptEnv{Session: sess, Load: mapLoader(t)})
			if err == nil {
				t.Fatal("expected an error")
			}
			if tt.is != nil && !errors.Is(err, tt.is) {
				t.Errorf("err = %v, want %v", err, tt.is)
			}
			if sess.Scene().Len() != 0 || rm.Live() != 0 {
				t.Error("failed step must leave the scene untouched")
			}
		})
	}
}

func TestScriptRejectedImageReleased(t *testing.T) {
	rm := NewResourceManager()
	sess := NewSession(rm, zerolog.Nop())
	sess.Scene().Close()
	r, _ := LoadEditScript([]byte(`{"steps":[{"action":"background","image":"bg.png"}]}`))
	if err := r.Run(ScriptEnv{Session: sess, Load: mapLoader(t)}); !errors.Is(err, ErrSceneClosed) {
		t.Fatalf("err = %v, want ErrSceneClosed", err)
	}
	if rm.Live() != 0 {
		t.Errorf("Live = %d, rejected upload leaked", rm.Live())
	}
}

func TestLoadEditScriptInvalid(t *testing.T) {
	for _, in := range []string{"", "{", `{"steps":[]}`, `{"other":1}`} {
		if _, err := LoadEditScript([]byte(in)); err == nil {
			t.Errorf("LoadEditScript(%q) should fail", in)
		}
	}
}
