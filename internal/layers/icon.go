package layers

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"strings"

	"github.com/disintegration/gift"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/MeKo-Tech/esrioverlay/internal/style"
)

// IconDecodeError reports a picture-marker image that could not be decoded in time.
type IconDecodeError struct {
	ID          string
	ContentType string
	Err         error
}

func (e *IconDecodeError) Error() string {
	return fmt.Sprintf("decode icon %s (%s): %v", e.ID, e.ContentType, e.Err)
}

func (e *IconDecodeError) Unwrap() error {
	return e.Err
}

// DecodeIcon decodes the base64 image of a picture marker and scales it to the
// marker's width and height. It gives up when ctx ends.
func DecodeIcon(ctx context.Context, icon style.Icon) (image.Image, error) {
	type result struct {
		img image.Image
		err error
	}

	if err := ctx.Err(); err != nil {
		return nil, &IconDecodeError{ID: icon.ID, ContentType: icon.ContentType, Err: err}
	}

	done := make(chan result, 1)
	go func() {
		img, err := decodeIcon(icon)
		done <- result{img, err}
	}()

	select {
	case <-ctx.Done():
		return nil, &IconDecodeError{ID: icon.ID, ContentType: icon.ContentType, Err: ctx.Err()}
	case r := <-done:
		if r.err != nil {
			return nil, &IconDecodeError{ID: icon.ID, ContentType: icon.ContentType, Err: r.err}
		}
		return r.img, nil
	}
}

func decodeIcon(icon style.Icon) (image.Image, error) {
	data, err := decodeBase64(icon.ImageData)
	if err != nil {
		return nil, fmt.Errorf("invalid base64: %w", err)
	}

	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}

	w, h := int(icon.Width+0.5), int(icon.Height+0.5)
	if w <= 0 || h <= 0 || (src.Bounds().Dx() == w && src.Bounds().Dy() == h) {
		return src, nil
	}

	g := gift.New(gift.Resize(w, h, gift.LanczosResampling))
	dst := image.NewNRGBA(g.Bounds(src.Bounds()))
	g.Draw(dst, src)

	return dst, nil
}

// decodeBase64 accepts padded and unpadded data, with or without a data: URL prefix.
func decodeBase64(s string) ([]byte, error) {
	if i := strings.Index(s, ";base64,"); strings.HasPrefix(s, "data:") && i >= 0 {
		s = s[i+len(";base64,"):]
	}
	s = strings.TrimSpace(s)

	data, err := base64.StdEncoding.DecodeString(s)
	if err == nil {
		return data, nil
	}
	if raw, rawErr := base64.RawStdEncoding.DecodeString(strings.TrimRight(s, "=")); rawErr == nil {
		return raw, nil
	}
	return nil, err
}
