package upload

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"sort"

	"github.com/AnyUserName/imgedit/internal/logging"
)

// maxResponseBytes bounds the JSON body read back from the endpoint.
const maxResponseBytes = 1 << 20

// HTTPUploader posts files as multipart/form-data.
type HTTPUploader struct {
	// Endpoint is the upload URL, e.g. "https://example.com/api/upload".
	Endpoint string
	Client   *http.Client
	// Fields are sent with every upload; per-file fields override them.
	Fields map[string]string
	// MaxBytes rejects larger files before sending. Zero disables the check.
	MaxBytes int
	Logger   *slog.Logger
}

// Upload implements Uploader.
func (u *HTTPUploader) Upload(ctx context.Context, f File) (*Response, error) {
	log := logging.Or(u.Logger)
	if u.MaxBytes > 0 && len(f.Data) > u.MaxBytes {
		return nil, fmt.Errorf("file %s is %d bytes, limit %d", f.Name, len(f.Data), u.MaxBytes)
	}

	body, contentType, err := u.form(f)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.Endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("build upload request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")

	client := u.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("upload %s: %w", f.Name, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read upload response: %w", err)
	}
	out, err := decodeResponse(data, resp.StatusCode)
	if err != nil {
		return nil, err
	}
	log.Debug("upload finished", "endpoint", u.Endpoint, "name", f.Name,
		"bytes", len(f.Data), "status", resp.StatusCode, "success", out.Success)
	return out, nil
}

func (u *HTTPUploader) form(f File) (io.Reader, string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	fields := make(map[string]string, len(u.Fields)+len(f.Fields))
	for k, v := range u.Fields {
		fields[k] = v
	}
	for k, v := range f.Fields {
		fields[k] = v
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if err := mw.WriteField(k, fields[k]); err != nil {
			return nil, "", fmt.Errorf("write field %s: %w", k, err)
		}
	}

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, f.Name))
	mime := f.MIME
	if mime == "" {
		mime = "application/octet-stream"
	}
	h.Set("Content-Type", mime)
	part, err := mw.CreatePart(h)
	if err != nil {
		return nil, "", fmt.Errorf("create file part: %w", err)
	}
	if _, err := part.Write(f.Data); err != nil {
		return nil, "", fmt.Errorf("write file part: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, "", fmt.Errorf("close form: %w", err)
	}
	return &buf, mw.FormDataContentType(), nil
}
