// package common contains common types and math helpers shared by the engine packages. They are plain
// structs and functions, not interface-wrapped.
package common

import (
	"bytes"
	"fmt"
	"image"
	"image/draw"
	_ "image/jpeg"
	_ "image/png"
	"os"
)

// ImportedTexture is an image referenced by an asset file, either embedded (Data) or on disk (Path).
type ImportedTexture struct {
	// Name is the image name from the asset, possibly empty.
	Name string

	// Path is the file path for external images (empty for embedded).
	Path string

	// Data holds the encoded image bytes (PNG/JPEG) for embedded images.
	Data []byte

	// MimeType indicates the image format (e.g., "image/png", "image/jpeg").
	MimeType string

	// Width and Height are populated by Decode.
	Width, Height int
}

// Decode decodes the texture to tightly packed RGBA8 pixels.
// Uses the embedded Data bytes when present, otherwise reads Path.
// Reference: https://pkg.go.dev/image
//
// Returns:
//   - []byte: raw RGBA pixel data (4 bytes per pixel, row-major order)
//   - uint32: texture width in pixels
//   - uint32: texture height in pixels
//   - error: error if decoding fails
func (t *ImportedTexture) Decode() ([]byte, uint32, uint32, error) {
	if t == nil {
		return nil, 0, 0, fmt.Errorf("texture is nil")
	}

	var img image.Image
	var err error

	if len(t.Data) > 0 {
		img, _, err = image.Decode(bytes.NewReader(t.Data))
		if err != nil {
			return nil, 0, 0, fmt.Errorf("failed to decode embedded image: %w", err)
		}
	} else if t.Path != "" {
		file, fileErr := os.Open(t.Path)
		if fileErr != nil {
			return nil, 0, 0, fmt.Errorf("failed to open texture file %s: %w", t.Path, fileErr)
		}
		defer file.Close()

		img, _, err = image.Decode(file)
		if err != nil {
			return nil, 0, 0, fmt.Errorf("failed to decode texture file %s: %w", t.Path, err)
		}
	} else {
		return nil, 0, 0, fmt.Errorf("texture has neither data nor path")
	}

	bounds := img.Bounds()
	t.Width, t.Height = bounds.Dx(), bounds.Dy()

	rgba := image.NewRGBA(image.Rect(0, 0, t.Width, t.Height))
	draw.Draw(rgba, rgba.Bounds(), img, bounds.Min, draw.Src)

	return rgba.Pix, uint32(t.Width), uint32(t.Height), nil
}
