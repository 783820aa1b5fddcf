package session

import (
	"bytes"
	"image"
	"image/jpeg"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrepareImageCapsWidth(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 2048, 512))))

	out, err := prepareImage(buf.Bytes())
	require.NoError(t, err)

	decoded, err := jpeg.Decode(bytes.NewReader(out))
	require.NoError(t, err)
	assert.Equal(t, 1024, decoded.Bounds().Dx())
}

func TestPrepareImageRejectsGarbage(t *testing.T) {
	_, err := prepareImage([]byte("not an image"))
	assert.Error(t, err)
}

func TestDataURI(t *testing.T) {
	assert.Equal(t, "data:image/jpeg;base64,aGk=", dataURI("image/jpeg", []byte("hi")))
}
