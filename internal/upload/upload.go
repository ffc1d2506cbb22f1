// Package upload hands encoded images to durable storage.
package upload

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// File is an encoded image ready for upload.
type File struct {
	Name string
	Data []byte
	MIME string
	// Fields are extra form fields, e.g. "alt_text" or "targetBucket".
	Fields map[string]string
}

// Response is the outcome reported by the storage endpoint.
type Response struct {
	Success bool   `json:"success"`
	URL     string `json:"url,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Uploader stores a file and returns where it lives.
type Uploader interface {
	Upload(ctx context.Context, f File) (*Response, error)
}

// UploaderFunc adapts a function to Uploader.
type UploaderFunc func(ctx context.Context, f File) (*Response, error)

func (fn UploaderFunc) Upload(ctx context.Context, f File) (*Response, error) { return fn(ctx, f) }

// Result normalises a response: an unsuccessful response or one without a
// URL becomes an error.
func Result(resp *Response, err error) (string, error) {
	if err != nil {
		return "", err
	}
	if resp == nil {
		return "", errors.New("upload: empty response")
	}
	if !resp.Success {
		if resp.Error != "" {
			return "", fmt.Errorf("upload rejected: %s", resp.Error)
		}
		return "", errors.New("upload rejected")
	}
	if resp.URL == "" {
		return "", errors.New("upload succeeded without a url")
	}
	return resp.URL, nil
}

// wireResponse accepts the response shapes of the storage endpoints in use:
// {url}, {fileUrl} and {image: {url}}.
type wireResponse struct {
	Success *bool  `json:"success"`
	URL     string `json:"url"`
	FileURL string `json:"fileUrl"`
	Image   *struct {
		URL string `json:"url"`
	} `json:"image"`
	Error   string `json:"error"`
	Message string `json:"message"`
}

func decodeResponse(data []byte, status int) (*Response, error) {
	ok := status >= 200 && status <= 299
	var w wireResponse
	if err := json.Unmarshal(data, &w); err != nil {
		if !ok {
			return &Response{Error: fmt.Sprintf("status %d", status)}, nil
		}
		return nil, fmt.Errorf("decode upload response (status %d): %w", status, err)
	}
	resp := &Response{Error: w.Error}
	if resp.Error == "" {
		resp.Error = w.Message
	}
	switch {
	case w.Image != nil && w.Image.URL != "":
		resp.URL = w.Image.URL
	case w.FileURL != "":
		resp.URL = w.FileURL
	default:
		resp.URL = w.URL
	}
	if w.Success != nil {
		resp.Success = *w.Success
	} else {
		resp.Success = resp.URL != "" && resp.Error == ""
	}
	if !ok {
		resp.Success = false
		if resp.Error == "" {
			resp.Error = fmt.Sprintf("status %d", status)
		}
	}
	return resp, nil
}
