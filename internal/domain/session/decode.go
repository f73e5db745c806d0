package session

import (
	"bytes"
	"errors"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

var errEmptyImage = errors.New("image is empty")

// HeaderDecoder reads dimensions from the image header without decoding pixels.
type HeaderDecoder struct{}

// Decode implements Decoder.
func (HeaderDecoder) Decode(data []byte) (Dimensions, error) {
	if len(data) == 0 {
		return Dimensions{}, errEmptyImage
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return Dimensions{}, err
	}
	return Dimensions{Width: cfg.Width, Height: cfg.Height}, nil
}
