package removal

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"
)

// MLClient calls the external background removal service. The service
// takes one multipart image and answers with the processed PNG.
type MLClient struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

func NewMLClient(baseURL, apiKey string, timeout time.Duration) *MLClient {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	return &MLClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client:  &http.Client{Timeout: timeout},
	}
}

func (c *MLClient) Process(ctx context.Context, filename, contentType string, data []byte) ([]byte, error) {
	if c.baseURL == "" {
		return nil, fmt.Errorf("%w: base url is not configured", ErrUpstream)
	}
	if len(data) == 0 {
		return nil, ErrValidation
	}

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, filename))
	header.Set("Content-Type", contentType)
	part, err := writer.CreatePart(header)
	if err != nil {
		return nil, fmt.Errorf("create multipart part: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return nil, fmt.Errorf("write multipart body: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/process-image", &body)
	if err != nil {
		return nil, fmt.Errorf("create process request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	if c.apiKey != "" {
		req.Header.Set("x-api-key", c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: call processing service: %v", ErrUpstream, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("%w: processing service returned status %d: %s", ErrUpstream, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	processed, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read processed image: %v", ErrUpstream, err)
	}
	if len(processed) == 0 {
		return nil, fmt.Errorf("%w: processing service returned an empty body", ErrUpstream)
	}

	return processed, nil
}
