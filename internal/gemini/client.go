package gemini

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"
	"photoshopai/backend/internal/provider"
)

type Client struct {
	client *genai.Client
}

// InputImage is one source image passed inline to the model.
type InputImage struct {
	MIME string
	Data []byte
}

func New(ctx context.Context, apiKey string) (*Client, error) {
	if apiKey == "" {
		return nil, nil // gemini optional; routes report 503 when unset
	}
	cl, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, err
	}
	return &Client{client: cl}, nil
}

// GenerateImage sends prompt + inline images to an image-capable Gemini
// model and returns the first inline image part. A text-only answer or a
// safety-filtered empty candidate is an upstream error: the caller refunds.
func (c *Client) GenerateImage(ctx context.Context, model, prompt string, images []InputImage) (provider.Output, error) {
	parts := make([]*genai.Part, 0, len(images)+1)
	if s := strings.TrimSpace(prompt); s != "" {
		parts = append(parts, genai.NewPartFromText(s))
	}
	for _, img := range images {
		mime := img.MIME
		if mime == "" {
			mime = "image/png"
		}
		parts = append(parts, &genai.Part{InlineData: &genai.Blob{MIMEType: mime, Data: img.Data}})
	}
	if len(parts) == 0 {
		return provider.Output{}, fmt.Errorf("gemini: empty request")
	}
	contents := []*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)}
	res, err := c.client.Models.GenerateContent(ctx, model, contents, nil)
	if err != nil {
		return provider.Output{}, fmt.Errorf("gemini %s: %w", model, err)
	}
	if len(res.Candidates) == 0 || res.Candidates[0].Content == nil {
		return provider.Output{}, provider.ErrNoOutput
	}
	for _, part := range res.Candidates[0].Content.Parts {
		if part.InlineData != nil && len(part.InlineData.Data) > 0 {
			return provider.FromInline(part.InlineData.MIMEType, part.InlineData.Data)
		}
	}
	return provider.Output{}, provider.ErrNoOutput
}
