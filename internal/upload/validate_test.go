package upload

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate(t *testing.T) {
	cases := []struct {
		name        string
		contentType string
		size        int64
		limit       int64
		want        string
		reason      error
	}{
		{"png ok", "image/png", 1024, DefaultLimit, "", nil},
		{"jpeg ok at limit", "image/jpeg", DefaultLimit, DefaultLimit, "", nil},
		{"gif rejected", "image/gif", 10, DefaultLimit, "Accepted formats: PNG, JPEG.", ErrUnsupportedType},
		{"too large", "image/png", 10_000_000, 5_000_000, "Max image size: 5MB", ErrTooLarge},
		{"type checked before size", "image/gif", 10_000_000, 5_000_000, "Accepted formats: PNG, JPEG.", ErrUnsupportedType},
		{"fractional limit", "image/jpeg", 3_000_000, 2_500_000, "Max image size: 2.5MB", ErrTooLarge},
		{"parameters ignored", "image/PNG; charset=binary", 1, 0, "", nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := Validate(tc.contentType, tc.size, tc.limit)
			if tc.want == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Equal(t, tc.want, err.Error())
			assert.Equal(t, tc.want, Message(err))
			assert.True(t, errors.Is(err, tc.reason))
		})
	}
}

func pngBytes(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 2, 2))
	img.Set(0, 0, color.RGBA{R: 255, A: 255})
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestServiceAcceptStoresSniffedImage(t *testing.T) {
	dir := t.TempDir()
	store, err := NewLocalStore(dir, "http://localhost/uploads/")
	require.NoError(t, err)
	svc := NewService(store, 0)

	res, err := svc.Accept(context.Background(), "image/png", pngBytes(t))
	require.NoError(t, err)
	assert.Equal(t, "image/png", res.ContentType)
	assert.Contains(t, res.URL, "http://localhost/uploads/"+res.ID+".png")

	_, err = os.Stat(filepath.Join(dir, res.ID+".png"))
	assert.NoError(t, err)
}

func TestServiceRejectsMislabelledContent(t *testing.T) {
	svc := NewService(&LocalStore{Dir: t.TempDir()}, 0)
	gif := []byte("GIF89a\x01\x00\x01\x00\x00\x00\x00;")
	_, err := svc.Accept(context.Background(), "image/png", gif)
	assert.ErrorIs(t, err, ErrUnsupportedType)
}

func TestServiceRejectsOversize(t *testing.T) {
	svc := NewService(&LocalStore{Dir: t.TempDir()}, 10)
	_, err := svc.Accept(context.Background(), "image/png", pngBytes(t))
	assert.ErrorIs(t, err, ErrTooLarge)
	assert.Equal(t, "Max image size: 0.00001MB", Message(err))
}
