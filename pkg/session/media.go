package session

import (
	"bytes"
	"encoding/base64"
	"fmt"

	"github.com/sunshineplan/imgconv"
)

// prepareImage re-encodes an outbound image as JPEG, capping the width at
// 1024. Oversized uploads are the main cause of stuck sends, so everything
// goes through this. The page generates its own preview thumbnail.
func prepareImage(data []byte) ([]byte, error) {
	decoded, err := imgconv.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}

	var full bytes.Buffer
	if err := imgconv.Write(&full,
		imgconv.Resize(decoded, &imgconv.ResizeOption{Width: 1024}),
		&imgconv.FormatOption{Format: imgconv.JPEG}); err != nil {
		return nil, fmt.Errorf("encode image: %w", err)
	}
	return full.Bytes(), nil
}

func dataURI(mime string, data []byte) string {
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(data)
}
