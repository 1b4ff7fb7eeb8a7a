package openid4vp

import (
	"bytes"
	"encoding/base64"
	"image/png"

	"github.com/skip2/go-qrcode"

	"github.com/sunet/vcengine/internal/errs"
)

// QRReply is a rendered request URL for cross-device flows: the wallet scans the image,
// the URI is what it decodes to.
type QRReply struct {
	Base64Image string `json:"base64_image"`
	URI         string `json:"uri"`
}

// GenerateQR renders uri as a base64 PNG QR code of the given pixel size (256 if zero).
func GenerateQR(uri string, size int) (*QRReply, error) {
	if size == 0 {
		size = 256
	}
	code, err := qrcode.New(uri, qrcode.Medium)
	if err != nil {
		return nil, errs.Wrap(errs.UsageError, err, "create qr code")
	}

	var buf bytes.Buffer
	encoder := base64.NewEncoder(base64.StdEncoding, &buf)
	if err := png.Encode(encoder, code.Image(size)); err != nil {
		return nil, errs.Wrap(errs.UsageError, err, "encode qr png")
	}
	if err := encoder.Close(); err != nil {
		return nil, errs.Wrap(errs.UsageError, err, "finish qr base64")
	}

	return &QRReply{Base64Image: buf.String(), URI: uri}, nil
}
