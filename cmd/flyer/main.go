package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/phanxgames/flyer"
	"github.com/phanxgames/flyer/internal/config"
	"github.com/phanxgames/flyer/internal/logging"
	"github.com/phanxgames/flyer/internal/store"
	"github.com/phanxgames/flyer/preview"
)

var Logger zerolog.Logger

const usage = `usage: flyer [-config dir] <command> [flags]

commands:
  edit    -name N               open the editor (S saves, E exports)
  export  -name N [-out file]   render a saved flyer to PNG
  run     -script file [-save N] replay an edit script
  list                          list saved flyers
  delete  -name N               delete a saved flyer
  prune                         drop images no saved flyer uses
`

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(args []string) error {
	global := flag.NewFlagSet("flyer", flag.ContinueOnError)
	configDir := global.String("config", ".", "directory containing "+config.FileName)
	global.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	if err := global.Parse(args); err != nil {
		return err
	}
	args = global.Args()
	if len(args) == 0 {
		global.Usage()
		return errors.New("no command provided")
	}

	if err := config.Load(*configDir); err != nil {
		return err
	}

	logFile, err := logging.OpenFile(config.GetString("logsDir"))
	if err != nil {
		return err
	}
	defer logFile.Close()
	Logger = logging.New(config.GetString("logLevel"), os.Stdout, logFile)

	backend, err := store.NewBackend(config.GetStorageConfig(), Logger)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer backend.Close()

	app := &app{
		store:  backend,
		rm:     flyer.NewResourceManager(flyer.WithResourceLogger(Logger)),
		export: config.GetExportConfig(),
		debug:  config.GetEditorConfig().Debug,
	}
	defer func() {
		if n := app.rm.ReleaseAll(); n > 0 {
			Logger.Warn().Int("count", n).Msg("released leftover images at exit")
		}
	}()

	ctx := context.Background()
	cmd, rest := strings.ToLower(args[0]), args[1:]
	switch cmd {
	case "edit":
		return app.edit(ctx, rest)
	case "export":
		return app.exportCmd(ctx, rest)
	case "run":
		return app.runScript(ctx, rest)
	case "list":
		return app.list(ctx)
	case "delete":
		return app.delete(ctx, rest)
	case "prune":
		return app.prune(ctx)
	default:
		global.Usage()
		return fmt.Errorf("unknown command %q", cmd)
	}
}

type app struct {
	store  store.Backend
	rm     *flyer.ResourceManager
	export config.ExportConfig
	debug  bool
}

func (a *app) exporter() *flyer.Exporter {
	return flyer.NewExporter(flyer.WithExporterLogger(Logger), flyer.WithExportDir(a.export.Dir))
}

func (a *app) renderer() *flyer.Renderer {
	return flyer.NewRenderer(flyer.WithRendererLogger(Logger), flyer.WithRendererDebug(a.debug))
}

// open loads the named scene, or the default template when it does not
// exist yet.
func (a *app) open(ctx context.Context, name string) (*flyer.Scene, error) {
	s, err := flyer.Load(ctx, a.store, a.rm, name)
	if errors.Is(err, flyer.ErrNotFound) {
		Logger.Info().Str("name", name).Msg("no saved flyer, starting from template")
		return flyer.NewScene(), nil
	}
	return s, err
}

func (a *app) edit(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("edit", flag.ContinueOnError)
	name := fs.String("name", "untitled", "flyer name")
	if err := fs.Parse(args); err != nil {
		return err
	}

	return flyer.WithSession(a.rm, Logger, func(sess *flyer.Session) error {
		s, err := a.open(ctx, *name)
		if err != nil {
			return err
		}
		sess.Load(s)

		vp := flyer.NewViewport(float64(a.export.Width))
		editor := preview.NewEditor(sess, preview.EditorConfig{
			Viewport: vp,
			Renderer: a.renderer(),
			Log:      Logger,
			NewMarker: func() flyer.MarkerInit {
				return flyer.MarkerInit{Role: "POS", Name: "New Player", Stat: "0.0"}
			},
			Save: func(s *flyer.Scene) error {
				if err := flyer.Save(ctx, a.store, *name, s); err != nil {
					return err
				}
				Logger.Info().Str("name", *name).Int("markers", s.Len()).Msg("flyer saved")
				return nil
			},
			Export: func(cmds []flyer.DrawInstruction) error {
				_, err := a.exporter().ExportFile(*name, cmds, vp)
				return err
			},
		})
		return editor.Run("flyer - " + *name)
	})
}

func (a *app) exportCmd(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("export", flag.ContinueOnError)
	name := fs.String("name", "", "flyer name")
	out := fs.String("out", "", "output PNG path (default: timestamped file in export.dir)")
	width := fs.Int("width", a.export.Width, "output width in pixels")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *name == "" {
		return errors.New("export: -name is required")
	}

	s, err := flyer.Load(ctx, a.store, a.rm, *name)
	if err != nil {
		return err
	}
	defer s.Close()

	vp := flyer.NewViewport(float64(*width))
	cmds := a.renderer().Render(s, vp)
	ex := a.exporter()
	if *out == "" {
		path, err := ex.ExportFile(*name, cmds, vp)
		if err != nil {
			return err
		}
		fmt.Println(path)
		return nil
	}

	f, err := os.Create(*out)
	if err != nil {
		return fmt.Errorf("export: %w", err)
	}
	if err := flyer.WritePNG(f, ex.Flatten(cmds, vp)); err != nil {
		f.Close()
		return fmt.Errorf("export: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("export: %w", err)
	}
	fmt.Println(*out)
	return nil
}

func (a *app) runScript(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	script := fs.String("script", "", "edit script (JSON)")
	save := fs.String("save", "", "save the result under this name")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *script == "" {
		return errors.New("run: -script is required")
	}

	data, err := os.ReadFile(*script)
	if err != nil {
		return fmt.Errorf("run: %w", err)
	}
	runner, err := flyer.LoadEditScript(data)
	if err != nil {
		return err
	}

	base := filepath.Dir(*script)
	start := time.Now()
	return flyer.WithSession(a.rm, Logger, func(sess *flyer.Session) error {
		err := runner.Run(flyer.ScriptEnv{
			Session: sess,
			Load: func(path string) ([]byte, error) {
				if !filepath.IsAbs(path) {
					path = filepath.Join(base, path)
				}
				return os.ReadFile(path)
			},
			Renderer: a.renderer(),
			Exporter: a.exporter(),
			Viewport: flyer.NewViewport(float64(a.export.Width)),
		})
		if err != nil {
			return err
		}
		for _, path := range runner.Exported {
			fmt.Println(path)
		}
		Logger.Info().Str("script", *script).Dur("took", time.Since(start)).
			Int("exports", len(runner.Exported)).Msg("script finished")
		if *save != "" {
			return flyer.Save(ctx, a.store, *save, sess.Scene())
		}
		return nil
	})
}

func (a *app) list(ctx context.Context) error {
	names, err := a.store.ListDocuments(ctx)
	if err != nil {
		return err
	}
	for _, name := range names {
		fmt.Println(name)
	}
	return nil
}

func (a *app) delete(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("delete", flag.ContinueOnError)
	name := fs.String("name", "", "flyer name")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *name == "" {
		return errors.New("delete: -name is required")
	}
	if err := a.store.DeleteDocument(ctx, *name); err != nil {
		return err
	}
	Logger.Info().Str("name", *name).Msg("flyer deleted")
	return nil
}

type pruner interface {
	PruneBlobs(ctx context.Context) (int, error)
}

func (a *app) prune(ctx context.Context) error {
	p, ok := a.store.(pruner)
	if !ok {
		return errors.New("prune: storage backend keeps no blobs on disk")
	}
	n, err := p.PruneBlobs(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("removed %d images\n", n)
	return nil
}
