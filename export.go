package flyer

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	xdraw "golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// Exporter flattens draw instructions into a single raster image, the
// capture path for downloads and sharing.
type Exporter struct {
	// Scaler resamples uploaded images into their parts.
	Scaler xdraw.Interpolator
	// TextScaler resamples rasterized glyph runs up to the requested size.
	TextScaler xdraw.Interpolator
	// Face is the glyph source; text is drawn at the face's native size and
	// scaled to each part's Size.
	Face font.Face
	// Dir receives files written by ExportFile.
	Dir string

	log zerolog.Logger
}

// ExporterOption configures an Exporter.
type ExporterOption func(*Exporter)

// WithExporterLogger sets the exporter's logger.
func WithExporterLogger(log zerolog.Logger) ExporterOption {
	return func(e *Exporter) { e.log = log }
}

// WithExportDir sets the directory used by ExportFile.
func WithExportDir(dir string) ExporterOption {
	return func(e *Exporter) { e.Dir = dir }
}

// NewExporter returns an exporter using Catmull-Rom image scaling and the
// basic 7x13 face.
func NewExporter(opts ...ExporterOption) *Exporter {
	e := &Exporter{
		Scaler:     xdraw.CatmullRom,
		TextScaler: xdraw.ApproxBiLinear,
		Face:       basicfont.Face7x13,
		Dir:        "exports",
		log:        zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Flatten draws cmds in order onto a new image of size vp.
func (e *Exporter) Flatten(cmds []DrawInstruction, vp Viewport) *image.RGBA {
	w := int(math.Round(vp.Width))
	h := int(math.Round(vp.Height))
	dst := image.NewRGBA(image.Rect(0, 0, max(w, 0), max(h, 0)))
	for i := range cmds {
		for j := range cmds[i].Parts {
			e.drawPart(dst, &cmds[i].Parts[j])
		}
	}
	return dst
}

func (e *Exporter) drawPart(dst *image.RGBA, p *DrawPart) {
	r := pixelRect(p.Bounds)
	if r.Empty() {
		return
	}
	switch p.Kind {
	case PartFill:
		draw.Draw(dst, r, image.NewUniform(p.Color.RGBA()), image.Point{}, draw.Over)
	case PartImage:
		img, err := p.Image.Decode()
		if err != nil {
			e.log.Debug().Err(err).Str("slot", p.Slot).Msg("image undecodable, drawing placeholder")
			drawPlaceholder(dst, r, ColorPlaceholder)
			return
		}
		e.Scaler.Scale(dst, r, img, coverRect(img.Bounds(), r), draw.Over, nil)
	case PartPlaceholder:
		drawPlaceholder(dst, r, p.Color)
	case PartText:
		e.drawText(dst, r, p)
	}
}

// coverRect returns the centered sub-rectangle of src with the aspect ratio
// of dst, so scaling it fills dst without distortion.
func coverRect(src, dst image.Rectangle) image.Rectangle {
	sw, sh := float64(src.Dx()), float64(src.Dy())
	dw, dh := float64(dst.Dx()), float64(dst.Dy())
	if sw == 0 || sh == 0 || dw == 0 || dh == 0 {
		return src
	}
	if sw/sh > dw/dh {
		cw := int(math.Round(sh * dw / dh))
		x0 := src.Min.X + (src.Dx()-cw)/2
		return image.Rect(x0, src.Min.Y, x0+cw, src.Max.Y)
	}
	ch := int(math.Round(sw * dh / dw))
	y0 := src.Min.Y + (src.Dy()-ch)/2
	return image.Rect(src.Min.X, y0, src.Max.X, y0+ch)
}

// drawPlaceholder fills r and stamps a head-and-shoulders glyph.
func drawPlaceholder(dst *image.RGBA, r image.Rectangle, c Color) {
	draw.Draw(dst, r, image.NewUniform(c.RGBA()), image.Point{}, draw.Over)
	glyph := image.NewUniform(Color{1, 1, 1, 0.35}.RGBA())
	size := min(r.Dx(), r.Dy())
	cx := r.Min.X + r.Dx()/2
	head := circle{center: image.Pt(cx, r.Min.Y+r.Dy()*2/5), radius: size / 6}
	draw.DrawMask(dst, r, glyph, image.Point{}, head, r.Min, draw.Over)
	body := circle{center: image.Pt(cx, r.Max.Y+size/8), radius: size / 3}
	draw.DrawMask(dst, r, glyph, image.Point{}, body, r.Min, draw.Over)
}

// circle is an alpha mask for a filled disc.
type circle struct {
	center image.Point
	radius int
}

func (c circle) ColorModel() color.Model { return color.AlphaModel }

func (c circle) Bounds() image.Rectangle {
	return image.Rect(c.center.X-c.radius, c.center.Y-c.radius, c.center.X+c.radius, c.center.Y+c.radius)
}

func (c circle) At(x, y int) color.Color {
	dx := float64(x-c.center.X) + 0.5
	dy := float64(y-c.center.Y) + 0.5
	if dx*dx+dy*dy < float64(c.radius*c.radius) {
		return color.Alpha{A: 255}
	}
	return color.Alpha{}
}

// drawText rasterizes p.Text at the face's native size, then scales the run
// to p.Size (shrinking further if it would overflow r) and aligns it in r.
func (e *Exporter) drawText(dst *image.RGBA, r image.Rectangle, p *DrawPart) {
	if p.Text == "" || p.Size <= 0 {
		return
	}
	m := e.Face.Metrics()
	lineH := (m.Ascent + m.Descent).Ceil()
	runW := font.MeasureString(e.Face, p.Text).Ceil()
	if lineH <= 0 || runW <= 0 {
		return
	}

	run := image.NewRGBA(image.Rect(0, 0, runW, lineH))
	d := font.Drawer{
		Dst:  run,
		Src:  image.NewUniform(p.Color.RGBA()),
		Face: e.Face,
		Dot:  fixed.Point26_6{X: 0, Y: m.Ascent},
	}
	d.DrawString(p.Text)

	scale := p.Size / float64(lineH)
	if w := float64(runW) * scale; w > float64(r.Dx()) {
		scale = float64(r.Dx()) / float64(runW)
	}
	tw := int(math.Round(float64(runW) * scale))
	th := int(math.Round(float64(lineH) * scale))
	if tw <= 0 || th <= 0 {
		return
	}

	x := r.Min.X
	switch p.Align {
	case TextAlignCenter:
		x += (r.Dx() - tw) / 2
	case TextAlignRight:
		x = r.Max.X - tw
	}
	y := r.Min.Y + (r.Dy()-th)/2
	e.TextScaler.Scale(dst, image.Rect(x, y, x+tw, y+th), run, run.Bounds(), draw.Over, nil)
}

// pixelRect rounds a float rectangle to integer pixel bounds.
func pixelRect(b Rect) image.Rectangle {
	return image.Rect(
		int(math.Round(b.X)), int(math.Round(b.Y)),
		int(math.Round(b.X+b.Width)), int(math.Round(b.Y+b.Height)),
	)
}

// WritePNG encodes img as PNG.
func WritePNG(w io.Writer, img image.Image) error {
	if err := png.Encode(w, img); err != nil {
		return fmt.Errorf("encode png: %w", err)
	}
	return nil
}

// ExportFile flattens cmds and writes them to e.Dir as a timestamped PNG
// named after label. Returns the written path.
func (e *Exporter) ExportFile(label string, cmds []DrawInstruction, vp Viewport) (string, error) {
	if err := os.MkdirAll(e.Dir, 0o755); err != nil {
		return "", fmt.Errorf("export: mkdir %s: %w", e.Dir, err)
	}
	img := e.Flatten(cmds, vp)
	stamp := time.Now().Format("20060102_150405")
	path := filepath.Join(e.Dir, fmt.Sprintf("%s_%s.png", stamp, sanitizeLabel(label)))
	if err := writePNG(path, img); err != nil {
		return "", fmt.Errorf("export: %w", err)
	}
	e.log.Info().Str("path", path).
		Int("instructions", len(cmds)).
		Int("placeholders", countParts(cmds, PartPlaceholder)).
		Msg("flyer exported")
	return path, nil
}

// writePNG encodes an image to a PNG file at the given path.
func writePNG(path string, img image.Image) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if err := png.Encode(f, img); err != nil {
		f.Close()
		return fmt.Errorf("encode %s: %w", path, err)
	}
	return f.Close()
}

// sanitizeLabel replaces characters that are unsafe in file names with
// underscores and falls back to "unlabeled" for empty strings.
func sanitizeLabel(label string) string {
	label = strings.TrimSpace(label)
	if label == "" {
		return "unlabeled"
	}
	var b strings.Builder
	b.Grow(len(label))
	for _, r := range label {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z',
			r >= '0' && r <= '9', r == '-', r == '.':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}
