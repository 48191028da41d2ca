package results

import (
	"context"
	"fmt"

	"resty.dev/v3"
)

// Uploader posts finalized results to a ladder API.
type Uploader struct {
	url        string
	token      string
	httpClient *resty.Client
}

// NewUploader targets the given endpoint; token is optional.
func NewUploader(url, token string) *Uploader {
	return &Uploader{
		url:        url,
		token:      token,
		httpClient: resty.New(),
	}
}

func (u *Uploader) Upload(ctx context.Context, payload Payload) error {
	req := u.httpClient.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(payload)
	if u.token != "" {
		req.SetHeader("Authorization", "Bearer "+u.token)
	}

	resp, err := req.Post(u.url)
	if err != nil {
		return fmt.Errorf("posting result failed: %v", err)
	}
	if resp.StatusCode() != 200 {
		return fmt.Errorf("posting result failed: %v", resp.Status())
	}
	return nil
}
