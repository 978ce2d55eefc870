// Package artwork decodes cover images, renders them as ANSI text and
// resolves which image belongs to a track.
package artwork

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"net/http"
	"strings"

	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

var (
	ErrNotFound = errors.New("artwork: not found")
	ErrInvalid  = errors.New("artwork: invalid image data")
)

// Sniff returns the MIME type of data when it is an image, else "".
func Sniff(data []byte) string {
	if len(data) == 0 {
		return ""
	}
	mime := http.DetectContentType(data)
	if !strings.HasPrefix(mime, "image/") {
		return ""
	}
	return mime
}

// Decode decodes a jpeg, png, gif or webp image.
func Decode(data []byte) (image.Image, string, error) {
	if len(data) == 0 {
		return nil, "", ErrInvalid
	}
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	b := img.Bounds()
	if b.Dx() == 0 || b.Dy() == 0 {
		return nil, format, ErrInvalid
	}
	return img, format, nil
}

// ConvertToANSI renders data in at most width x height terminal cells. Each
// cell is an upper half block carrying two vertically stacked pixels.
func ConvertToANSI(ctx context.Context, data []byte, width, height int) (string, error) {
	if width <= 0 {
		width = 20
	}
	if height <= 0 {
		height = 10
	}
	img, _, err := Decode(data)
	if err != nil {
		return "", err
	}

	// Terminal cells are about twice as tall as wide.
	bounds := img.Bounds()
	aspect := float64(bounds.Dx()) / float64(bounds.Dy())
	rows := int(float64(width) / aspect / 2)
	if rows > height {
		rows = height
		width = int(float64(rows) * 2 * aspect)
	}
	rows = max(rows, 1)
	width = max(width, 1)

	dst := image.NewRGBA(image.Rect(0, 0, width, rows*2))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, bounds, draw.Src, nil)

	var sb strings.Builder
	for y := 0; y < rows; y++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		for x := 0; x < width; x++ {
			top := dst.RGBAAt(x, 2*y)
			bottom := dst.RGBAAt(x, 2*y+1)
			switch {
			case top.A < 128 && bottom.A < 128:
				sb.WriteByte(' ')
			case bottom.A < 128:
				fmt.Fprintf(&sb, "\x1b[38;5;%dm▀\x1b[0m", rgbTo256(top.R, top.G, top.B))
			case top.A < 128:
				fmt.Fprintf(&sb, "\x1b[38;5;%dm▄\x1b[0m", rgbTo256(bottom.R, bottom.G, bottom.B))
			default:
				fmt.Fprintf(&sb, "\x1b[38;5;%d;48;5;%dm▀\x1b[0m",
					rgbTo256(top.R, top.G, top.B), rgbTo256(bottom.R, bottom.G, bottom.B))
			}
		}
		if y < rows-1 {
			sb.WriteByte('\n')
		}
	}
	return sb.String(), nil
}

// rgbTo256 converts RGB to the closest 256-color palette index.
func rgbTo256(r, g, b uint8) int {
	if r == g && g == b {
		if r < 8 {
			return 16
		}
		if r > 247 {
			return 231
		}
		return int((r-8)/10) + 232
	}
	// 6x6x6 color cube, indices 16-231
	ri := int(r) * 5 / 255
	gi := int(g) * 5 / 255
	bi := int(b) * 5 / 255
	return 16 + 36*ri + 6*gi + bi
}

// Placeholder returns a bordered box shown when no artwork is available.
func Placeholder(width, height int) string {
	width = max(width, 3)
	height = max(height, 3)

	var sb strings.Builder
	sb.WriteString("┌" + strings.Repeat("─", width-2) + "┐\n")
	for y := 1; y < height-1; y++ {
		sb.WriteString("│")
		if y == height/2 {
			pad := (width - 3) / 2
			sb.WriteString(strings.Repeat(" ", pad) + "♪" + strings.Repeat(" ", width-3-pad))
		} else {
			sb.WriteString(strings.Repeat(" ", width-2))
		}
		sb.WriteString("│\n")
	}
	sb.WriteString("└" + strings.Repeat("─", width-2) + "┘")
	return sb.String()
}
