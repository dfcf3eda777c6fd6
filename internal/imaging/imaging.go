package imaging

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"
	"net/http"
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"

	"nexvmeta/internal/domain"
)

// MaxEdge bounds the output of Upscale on either axis.
const MaxEdge = 8192

var dataURLPattern = regexp.MustCompile(`^data:(image/[a-zA-Z0-9.+-]+);base64,`)

// DecodeDataURL strips a data:image/*;base64, prefix and decodes the payload.
// Bare base64 is accepted and sniffed.
func DecodeDataURL(s string) ([]byte, string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, "", fmt.Errorf("%w: empty image payload", domain.ErrInvalidImage)
	}
	mimeType := ""
	if m := dataURLPattern.FindStringSubmatch(s); m != nil {
		mimeType = strings.ToLower(m[1])
		s = s[len(m[0]):]
	} else if strings.HasPrefix(s, "data:") {
		return nil, "", fmt.Errorf("%w: unsupported data url", domain.ErrInvalidImage)
	}
	data, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		data, err = base64.RawStdEncoding.DecodeString(strings.TrimRight(s, "="))
	}
	if err != nil {
		return nil, "", fmt.Errorf("%w: bad base64: %v", domain.ErrInvalidImage, err)
	}
	if mimeType == "" {
		mimeType = DetectMIME(data)
	}
	if !strings.HasPrefix(mimeType, "image/") {
		return nil, "", fmt.Errorf("%w: payload is %s", domain.ErrInvalidImage, mimeType)
	}
	return data, mimeType, nil
}

// DetectMIME sniffs the content type of data.
func DetectMIME(data []byte) string {
	mt := http.DetectContentType(data)
	if i := strings.IndexByte(mt, ';'); i >= 0 {
		mt = mt[:i]
	}
	return mt
}

// Decode reads jpeg, png, gif or webp.
func Decode(data []byte) (image.Image, string, error) {
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", domain.ErrInvalidImage, err)
	}
	return img, format, nil
}

var boxPattern = regexp.MustCompile(`^(\d+)\s*[xX×]\s*(\d+)$`)

// ParseResolution reads "2K", "4K", "8K" (long edge 2048/4096/8192) or "WxH".
func ParseResolution(s string) (int, int, error) {
	s = strings.TrimSpace(s)
	switch strings.ToUpper(s) {
	case "", "4K":
		return 4096, 4096, nil
	case "1K":
		return 1024, 1024, nil
	case "2K":
		return 2048, 2048, nil
	case "8K":
		return 8192, 8192, nil
	}
	m := boxPattern.FindStringSubmatch(s)
	if m == nil {
		return 0, 0, fmt.Errorf("unknown resolution %q", s)
	}
	w, _ := strconv.Atoi(m[1])
	h, _ := strconv.Atoi(m[2])
	if w <= 0 || h <= 0 || w > MaxEdge || h > MaxEdge {
		return 0, 0, fmt.Errorf("resolution %q out of range (max %d)", s, MaxEdge)
	}
	return w, h, nil
}

// Upscale enlarges the image to fit inside the target box while keeping its
// aspect ratio and encodes the result as PNG. Images already at or above the
// box are re-encoded unchanged.
func Upscale(data []byte, resolution string) ([]byte, error) {
	boxW, boxH, err := ParseResolution(resolution)
	if err != nil {
		return nil, err
	}
	src, _, err := Decode(data)
	if err != nil {
		return nil, err
	}
	b := src.Bounds()
	w, h := fitInside(b.Dx(), b.Dy(), boxW, boxH)
	var out image.Image = src
	if w > b.Dx() || h > b.Dy() {
		dst := image.NewRGBA(image.Rect(0, 0, w, h))
		draw.CatmullRom.Scale(dst, dst.Bounds(), src, b, draw.Over, nil)
		out = dst
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, out); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}

// fitInside returns the largest w x h with the aspect of srcW x srcH that fits
// the box. It never returns less than the source size.
func fitInside(srcW, srcH, boxW, boxH int) (int, int) {
	if srcW <= 0 || srcH <= 0 {
		return srcW, srcH
	}
	scale := float64(boxW) / float64(srcW)
	if s := float64(boxH) / float64(srcH); s < scale {
		scale = s
	}
	if scale <= 1 {
		return srcW, srcH
	}
	w := int(float64(srcW)*scale + 0.5)
	h := int(float64(srcH)*scale + 0.5)
	if w > boxW {
		w = boxW
	}
	if h > boxH {
		h = boxH
	}
	return w, h
}
