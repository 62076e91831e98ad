package codec

import (
	"bytes"
	"encoding/base64"
	"image"
	"image/jpeg"
	"image/png"
	"strings"
	"testing"
)

func tinyPNG(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 3, 2))
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("png.Encode error: %v", err)
	}
	return buf.Bytes()
}

func TestParseDataURL(t *testing.T) {
	raw := "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString([]byte{0x01, 0x02})

	got, err := ParseDataURL(raw)
	if err != nil {
		t.Fatalf("ParseDataURL returned error: %v", err)
	}
	if got.MIMEType != "image/jpeg" {
		t.Fatalf("ParseDataURL mime=%q, want %q", got.MIMEType, "image/jpeg")
	}
	if !bytes.Equal(got.Data, []byte{0x01, 0x02}) {
		t.Fatalf("ParseDataURL data=%v, want [1 2]", got.Data)
	}
}

func TestParseDataURLRejectsBareBase64(t *testing.T) {
	if _, err := ParseDataURL("AQI="); err == nil {
		t.Fatal("ParseDataURL(bare) error=nil, want non-nil")
	}
}

func TestDecodeImageBareBase64(t *testing.T) {
	raw := base64.StdEncoding.EncodeToString(tinyPNG(t))

	got, err := DecodeImage(raw)
	if err != nil {
		t.Fatalf("DecodeImage returned error: %v", err)
	}
	if got.Width != 3 || got.Height != 2 {
		t.Fatalf("DecodeImage size=%dx%d, want 3x2", got.Width, got.Height)
	}
	if got.MIMEType != DefaultImageMIME {
		t.Fatalf("DecodeImage mime=%q, want %q", got.MIMEType, DefaultImageMIME)
	}
}

func TestDecodeImageSniffsBareJPEG(t *testing.T) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 4, 4)), nil); err != nil {
		t.Fatalf("jpeg.Encode error: %v", err)
	}

	got, err := DecodeImage(base64.StdEncoding.EncodeToString(buf.Bytes()))
	if err != nil {
		t.Fatalf("DecodeImage returned error: %v", err)
	}
	if got.MIMEType != "image/jpeg" {
		t.Fatalf("DecodeImage mime=%q, want image/jpeg", got.MIMEType)
	}
	if url := DataURL(got.MIMEType, got.Data); !strings.HasPrefix(url, "data:image/jpeg;base64,") {
		t.Fatalf("DataURL=%.30q, want jpeg data url", url)
	}
}

func TestDecodeFallsBackToAlternateAlphabets(t *testing.T) {
	data := tinyPNG(t)
	unpadded := base64.RawURLEncoding.EncodeToString(data)
	wrapped := unpadded[:10] + "\n" + unpadded[10:]

	got, err := DecodeImage(wrapped)
	if err != nil {
		t.Fatalf("DecodeImage(url-safe, wrapped) returned error: %v", err)
	}
	if !bytes.Equal(got.Data, data) {
		t.Fatal("DecodeImage fallback returned different bytes")
	}
}

func TestDecodeImageRejectsNonImage(t *testing.T) {
	raw := base64.StdEncoding.EncodeToString([]byte("not an image"))
	if _, err := DecodeImage(raw); err == nil {
		t.Fatal("DecodeImage(text) error=nil, want non-nil")
	}
}

func TestDecodeRejectsGarbage(t *testing.T) {
	if _, err := Decode("%%%not-base64%%%", DefaultImageMIME); err == nil {
		t.Fatal("Decode(garbage) error=nil, want non-nil")
	}
}

func TestImageDataURL(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{in: "AQI=", want: "data:image/png;base64,AQI="},
		{in: " data:image/jpeg;base64,AQI= ", want: "data:image/jpeg;base64,AQI="},
	}
	for _, tt := range tests {
		if got := ImageDataURL(tt.in); got != tt.want {
			t.Fatalf("ImageDataURL(%q)=%q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestDataURLSniffsMIME(t *testing.T) {
	got := DataURL("", tinyPNG(t))
	if !strings.HasPrefix(got, "data:image/png;base64,") {
		t.Fatalf("DataURL prefix=%q, want image/png", got[:30])
	}
}
