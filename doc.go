// Package flyer is a layered template compositor for social-media flyers.
//
// A flyer is a [Scene]: a background image, a header block, a movable
// spotlight block, a footer watermark and any number of entity markers
// (players, speakers, products), each with an uploaded photo and text.
// Every position is a normalized coordinate, a percentage (0-100) of the
// canvas width or height, so the same scene renders at any size of the
// fixed 4:5 canvas.
//
// # Quick start
//
//	rm := flyer.NewResourceManager()
//	scene := flyer.NewScene()
//	defer scene.Close() // releases every image the scene still holds
//
//	id, _ := scene.AddMarker(flyer.MarkerInit{
//		Role:  "GK",
//		Name:  "Alisson",
//		Stat:  "7.9",
//		Image: rm.Acquire(photoBytes),
//		X:     flyer.Ptr(50.0),
//		Y:     flyer.Ptr(85.0),
//	})
//	_ = scene.Reposition(id, 48, 82)
//
//	cmds := flyer.Render(scene, flyer.DefaultViewport)
//	img := flyer.NewExporter().Flatten(cmds, flyer.DefaultViewport)
//
// # Images
//
// Uploaded bytes become [ImageResource] handles via
// [ResourceManager.Acquire]. A handle belongs to exactly one scene field;
// any operation that replaces or removes it releases the old handle. Bytes
// that fail to decode are accepted and render as placeholders.
//
// # Rendering
//
// [Renderer.Render] produces one [DrawInstruction] per visual block, sorted
// into the canonical z-order: background, header, markers (collection order),
// spotlight, footer. Instructions are consumed by [Exporter] for PNG output
// and by the preview package for the live Ebitengine editor.
//
// # Persistence
//
// [Serialize] and [Deserialize] convert between scenes and [Document]
// values that carry image references instead of display URIs. [Save] and
// [Load] drive a [Store], the external save/load collaborator.
package flyer
