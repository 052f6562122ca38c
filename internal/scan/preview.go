package scan

import (
	"bytes"
	"encoding/base64"
	"image"
	"image/jpeg"
	"image/png"

	"golang.org/x/image/draw"
)

const DefaultPreviewEdge = 512

// Preview renders data as a data URL. JPEG and PNG images larger than maxEdge
// on either side are downscaled first; anything else is embedded as is.
func Preview(data []byte, contentType string, maxEdge int) string {
	if maxEdge > 0 && (contentType == "image/jpeg" || contentType == "image/png") {
		if thumb, ok := thumbnail(data, contentType, maxEdge); ok {
			return dataURL(contentType, thumb)
		}
	}
	return dataURL(contentType, data)
}

func dataURL(contentType string, data []byte) string {
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	return "data:" + contentType + ";base64," + base64.StdEncoding.EncodeToString(data)
}

func thumbnail(data []byte, contentType string, maxEdge int) ([]byte, bool) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil || (cfg.Width <= maxEdge && cfg.Height <= maxEdge) {
		return nil, false
	}
	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, false
	}

	w, h := fit(cfg.Width, cfg.Height, maxEdge)
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Over, nil)

	var buf bytes.Buffer
	if contentType == "image/png" {
		err = png.Encode(&buf, dst)
	} else {
		err = jpeg.Encode(&buf, dst, &jpeg.Options{Quality: 85})
	}
	if err != nil {
		return nil, false
	}
	return buf.Bytes(), true
}

func fit(width, height, maxEdge int) (int, int) {
	if width >= height {
		h := height * maxEdge / width
		if h < 1 {
			h = 1
		}
		return maxEdge, h
	}
	w := width * maxEdge / height
	if w < 1 {
		w = 1
	}
	return w, maxEdge
}
