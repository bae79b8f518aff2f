package monitor

import (
	"bytes"
	"context"
	"image"
	"image/draw"
	"image/png"

	"golang.design/x/clipboard"

	apperrors "github.com/mirrorcast/platform/internal/errors"
)

// InitClipboard prepares OS clipboard access. Fails on headless hosts; the
// paste path is then simply absent.
func InitClipboard() error {
	if err := clipboard.Init(); err != nil {
		return apperrors.Wrap(err, apperrors.CodeBridgeUnavailable, "clipboard init failed")
	}
	return nil
}

// WatchClipboard feeds clipboard image changes into the monitor's paste path
// until the context ends. The clipboard yields PNG bytes. Call only after
// InitClipboard succeeded.
func WatchClipboard(ctx context.Context, m *Monitor) {
	ch := clipboard.Watch(ctx, clipboard.FmtImage)
	for data := range ch {
		img, err := decodePNG(data)
		if err != nil {
			continue
		}
		m.Paste(img)
	}
}

func decodePNG(data []byte) (*image.RGBA, error) {
	decoded, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeInvalidArgument, "clipboard image decode failed")
	}
	if rgba, ok := decoded.(*image.RGBA); ok {
		return rgba, nil
	}
	rgba := image.NewRGBA(decoded.Bounds())
	draw.Draw(rgba, rgba.Bounds(), decoded, decoded.Bounds().Min, draw.Src)
	return rgba, nil
}
