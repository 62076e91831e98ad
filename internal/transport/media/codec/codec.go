package codec

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"net/http"
	"strings"
)

// DefaultImageMIME is assumed for bare base64 frames.
const DefaultImageMIME = "image/png"

// ErrNotDataURL is returned by ParseDataURL for input without a data: header.
var ErrNotDataURL = errors.New("media payload is not a data url")

// Payload is a decoded media body.
type Payload struct {
	MIMEType string
	Data     []byte
	Width    int
	Height   int
}

// ParseDataURL decodes "data:<mime>;base64,<body>".
func ParseDataURL(raw string) (Payload, error) {
	mime, body, err := splitDataURL(raw)
	if err != nil {
		return Payload{}, err
	}
	data, err := base64.StdEncoding.DecodeString(body)
	if err != nil {
		return Payload{}, fmt.Errorf("decode data url body: %w", err)
	}
	return Payload{MIMEType: mime, Data: data}, nil
}

// Decode reads a data URL or bare base64 text. Standard encoding is tried
// first; on failure the body is re-read once with whitespace removed and the
// unpadded and URL-safe alphabets.
func Decode(raw string, fallbackMIME string) (Payload, error) {
	mime := fallbackMIME
	body := strings.TrimSpace(raw)
	if m, b, err := splitDataURL(body); err == nil {
		mime = m
		body = b
	}

	data, err := base64.StdEncoding.DecodeString(body)
	if err == nil {
		return Payload{MIMEType: resolveMIME(mime, data), Data: data}, nil
	}

	data, fallbackErr := decodeAlternate(body)
	if fallbackErr != nil {
		return Payload{}, fmt.Errorf("decode media payload: %w", errors.Join(err, fallbackErr))
	}
	return Payload{MIMEType: resolveMIME(mime, data), Data: data}, nil
}

// DecodeImage decodes an image payload and reads its dimensions. The MIME type
// comes from the decoded header, not from the declared or default type.
func DecodeImage(raw string) (Payload, error) {
	payload, err := Decode(raw, DefaultImageMIME)
	if err != nil {
		return Payload{}, err
	}
	cfg, format, err := image.DecodeConfig(bytes.NewReader(payload.Data))
	if err != nil {
		return Payload{}, fmt.Errorf("decode image header: %w", err)
	}
	payload.Width = cfg.Width
	payload.Height = cfg.Height
	payload.MIMEType = "image/" + format
	return payload, nil
}

// ImageDataURL returns raw unchanged when it already is a data URL,
// otherwise wraps bare base64 as a PNG data URL.
func ImageDataURL(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if strings.HasPrefix(trimmed, "data:") {
		return trimmed
	}
	return "data:" + DefaultImageMIME + ";base64," + trimmed
}

// DataURL encodes data as a base64 data URL.
func DataURL(mime string, data []byte) string {
	if mime == "" {
		mime = http.DetectContentType(data)
	}
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(data)
}

func splitDataURL(raw string) (string, string, error) {
	raw = strings.TrimSpace(raw)
	if !strings.HasPrefix(raw, "data:") {
		return "", "", ErrNotDataURL
	}
	header, body, ok := strings.Cut(raw[len("data:"):], ",")
	if !ok {
		return "", "", errors.New("data url without body separator")
	}
	mime, encoding, _ := strings.Cut(header, ";")
	if encoding != "base64" {
		return "", "", fmt.Errorf("unsupported data url encoding %q", encoding)
	}
	return mime, body, nil
}

func decodeAlternate(body string) ([]byte, error) {
	compact := strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\n', '\r', '\t':
			return -1
		}
		return r
	}, body)
	encodings := []*base64.Encoding{
		base64.StdEncoding,
		base64.RawStdEncoding,
		base64.URLEncoding,
		base64.RawURLEncoding,
	}
	var lastErr error
	for _, enc := range encodings {
		data, err := enc.DecodeString(compact)
		if err == nil {
			return data, nil
		}
		lastErr = err
	}
	return nil, lastErr
}

func resolveMIME(declared string, data []byte) string {
	if declared != "" {
		return declared
	}
	return http.DetectContentType(data)
}
