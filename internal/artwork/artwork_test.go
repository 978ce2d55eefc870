package artwork

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"strings"
	"testing"
)

func pngBytes(t *testing.T, w, h int, c color.Color) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

func TestConvertToANSI(t *testing.T) {
	data := pngBytes(t, 10, 10, color.RGBA{255, 0, 0, 255})

	ansi, err := ConvertToANSI(context.Background(), data, 10, 10)
	if err != nil {
		t.Fatalf("ConvertToANSI: %v", err)
	}
	if !strings.Contains(ansi, "\x1b[38;5;") || !strings.Contains(ansi, "▀") {
		t.Errorf("expected colored half blocks, got %q", ansi)
	}
	// A square image in 10 columns takes 5 rows.
	if rows := strings.Count(ansi, "\n") + 1; rows != 5 {
		t.Errorf("expected 5 rows, got %d", rows)
	}
}

func TestConvertToANSIHeightBound(t *testing.T) {
	data := pngBytes(t, 10, 40, color.RGBA{0, 0, 255, 255})
	ansi, err := ConvertToANSI(context.Background(), data, 40, 4)
	if err != nil {
		t.Fatalf("ConvertToANSI: %v", err)
	}
	if rows := strings.Count(ansi, "\n") + 1; rows != 4 {
		t.Errorf("expected 4 rows, got %d", rows)
	}
}

func TestConvertToANSIErrors(t *testing.T) {
	if _, err := ConvertToANSI(context.Background(), []byte("not an image"), 10, 10); !errors.Is(err, ErrInvalid) {
		t.Errorf("expected ErrInvalid, got %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := ConvertToANSI(ctx, pngBytes(t, 4, 4, color.White), 4, 4); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestSniff(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		want string
	}{
		{"png", pngBytes(t, 1, 1, color.Black), "image/png"},
		{"jpeg", []byte("\xFF\xD8\xFF\xE0rest"), "image/jpeg"},
		{"html", []byte("<html><body>404</body></html>"), ""},
		{"empty", nil, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Sniff(tt.data); got != tt.want {
				t.Errorf("Sniff() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestPlaceholder(t *testing.T) {
	ph := Placeholder(20, 10)
	if !strings.Contains(ph, "♪") || !strings.Contains(ph, "┌") {
		t.Errorf("unexpected placeholder %q", ph)
	}
	if lines := strings.Split(ph, "\n"); len(lines) != 10 {
		t.Errorf("expected 10 lines, got %d", len(lines))
	}
}

func TestRgbTo256(t *testing.T) {
	tests := []struct {
		r, g, b uint8
		want    int
	}{
		{0, 0, 0, 16},
		{255, 255, 255, 231},
		{255, 0, 0, 196},
		{0, 255, 0, 46},
		{0, 0, 255, 21},
		{128, 128, 128, 244},
		{247, 247, 247, 255},
		{248, 248, 248, 231},
	}
	for _, tt := range tests {
		if got := rgbTo256(tt.r, tt.g, tt.b); got != tt.want {
			t.Errorf("rgbTo256(%d,%d,%d) = %d, want %d", tt.r, tt.g, tt.b, got, tt.want)
		}
	}
}
