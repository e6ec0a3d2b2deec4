// Package imaging decodes uploaded MRI scans and turns them into classifier
// input.
package imaging

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"net/http"
)

var ErrImageDecode = errors.New("image decode error")

// MaxPixels caps width*height of an upload. The header is checked before the
// pixels are decoded, so a small file declaring a huge canvas is rejected
// without allocating it.
const MaxPixels = 4096 * 4096

// MRIImage is an uploaded scan together with its decoded pixels.
type MRIImage struct {
	Raw         []byte
	ContentType string
	Format      string
	Image       image.Image
}

// DetectContentType sniffs the upload and accepts only JPEG and PNG.
func DetectContentType(raw []byte) (string, error) {
	head := raw
	if len(head) > 512 {
		head = head[:512]
	}
	contentType := http.DetectContentType(head)
	if contentType != "image/jpeg" && contentType != "image/png" {
		return "", fmt.Errorf("%w: invalid file type %s, only JPEG and PNG allowed", ErrImageDecode, contentType)
	}
	return contentType, nil
}

// Decode validates the upload's content type and decodes it.
func Decode(raw []byte) (*MRIImage, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: empty file", ErrImageDecode)
	}
	contentType, err := DetectContentType(raw)
	if err != nil {
		return nil, err
	}

	cfg, _, err := image.DecodeConfig(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrImageDecode, err)
	}
	if int64(cfg.Width)*int64(cfg.Height) > MaxPixels {
		return nil, fmt.Errorf("%w: image is %dx%d, at most %d pixels allowed", ErrImageDecode, cfg.Width, cfg.Height, MaxPixels)
	}

	img, format, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrImageDecode, err)
	}
	if b := img.Bounds(); b.Dx() == 0 || b.Dy() == 0 {
		return nil, fmt.Errorf("%w: image has no pixels", ErrImageDecode)
	}

	return &MRIImage{
		Raw:         raw,
		ContentType: contentType,
		Format:      format,
		Image:       img,
	}, nil
}
