package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime"
	"net/http"
	"os"
	"path/filepath"

	"github.com/tokligence/chatrelay/internal/upload"
)

const uploadPath = "/api/v1/uploads"

// UploadResult is the server's record of a stored image.
type UploadResult struct {
	ID          string `json:"id"`
	URL         string `json:"url"`
	ContentType string `json:"contentType"`
	Size        int64  `json:"size"`
}

// Upload validates the image and sends it. Invalid images never reach the network; the
// returned error is an *upload.ValidationError carrying the user-facing message.
func (c *Client) Upload(ctx context.Context, contentType string, data []byte, limit int64) (UploadResult, error) {
	if err := upload.Validate(contentType, int64(len(data)), limit); err != nil {
		return UploadResult{}, err
	}
	req, err := c.newRequest(ctx, http.MethodPost, uploadPath, contentType, bytes.NewReader(data))
	if err != nil {
		return UploadResult{}, err
	}
	resp, err := c.do(req)
	if err != nil {
		return UploadResult{}, err
	}
	defer resp.Body.Close()
	var out UploadResult
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return UploadResult{}, fmt.Errorf("decode upload response: %w", err)
	}
	return out, nil
}

// UploadFile uploads the image at path. Type and size are checked from the file name and
// metadata before the file is read.
func (c *Client) UploadFile(ctx context.Context, path string, limit int64) (UploadResult, error) {
	info, err := os.Stat(path)
	if err != nil {
		return UploadResult{}, err
	}
	contentType := mime.TypeByExtension(filepath.Ext(path))
	if err := upload.Validate(contentType, info.Size(), limit); err != nil {
		return UploadResult{}, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return UploadResult{}, err
	}
	return c.Upload(ctx, contentType, data, limit)
}
