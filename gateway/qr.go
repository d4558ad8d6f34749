package gateway

import (
	"encoding/base64"
	"fmt"

	qrcode "github.com/skip2/go-qrcode"
)

// qrPixels is the rendered QR image size. 256px scans reliably from a
// phone camera at typical screen densities.
const qrPixels = 256

// QRDataURL renders a pairing code as a PNG QR image and returns it as a
// base64 data URL, ready for an <img src> in the dashboard.
func QRDataURL(code string) (string, error) {
	png, err := qrcode.Encode(code, qrcode.Medium, qrPixels)
	if err != nil {
		return "", fmt.Errorf("encode pairing code: %w", err)
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(png), nil
}
