package replicate

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	repgo "github.com/replicate/replicate-go"
	"photoshopai/backend/internal/provider"
)

type Client struct {
	client *repgo.Client
}

func New(token string) (*Client, error) {
	if token == "" {
		token = os.Getenv("REPLICATE_API_TOKEN")
	}
	cl, err := repgo.NewClient(repgo.WithToken(token))
	if err != nil {
		return nil, err
	}
	return &Client{client: cl}, nil
}

// Run runs a model, blocks until done, and resolves the output to a single
// asset URL. identifier e.g. "bria/remove-background". One call per user
// action: no retry, no backoff — these are billed, non-idempotent calls.
func (c *Client) Run(ctx context.Context, identifier string, input repgo.PredictionInput) (provider.Output, error) {
	out, err := c.client.RunWithOptions(ctx, identifier, input, nil, repgo.WithBlockUntilDone())
	if err != nil {
		return provider.Output{}, fmt.Errorf("replicate run %s: %w", identifier, err)
	}
	return Resolve(out)
}

// CancelPrediction cancels a running prediction so it doesn't stay pending.
func (c *Client) CancelPrediction(ctx context.Context, id string) error {
	_, err := c.client.CancelPrediction(ctx, id)
	return err
}

// Resolve normalizes a prediction output to one URL. Replicate models return
// a bare string, an array of strings, or an object with an "output" field;
// anything else is an upstream error, not something to walk generically.
func Resolve(out repgo.PredictionOutput) (provider.Output, error) {
	switch v := out.(type) {
	case string:
		return provider.FromURL(v)
	case []interface{}:
		for _, item := range v {
			if s, ok := item.(string); ok && s != "" {
				return provider.FromURL(s)
			}
		}
		return provider.Output{}, provider.ErrNoOutput
	case map[string]interface{}:
		if inner, ok := v["output"]; ok {
			return Resolve(inner)
		}
		return provider.Output{}, provider.ErrNoOutput
	case nil:
		return provider.Output{}, provider.ErrNoOutput
	}
	// Some models return typed structs; round-trip through JSON once rather
	// than recursing over arbitrary shapes.
	b, err := json.Marshal(out)
	if err != nil {
		return provider.Output{}, provider.ErrNoOutput
	}
	var m map[string]interface{}
	if err := json.Unmarshal(b, &m); err != nil {
		return provider.Output{}, provider.ErrNoOutput
	}
	if inner, ok := m["output"]; ok {
		return Resolve(inner)
	}
	return provider.Output{}, provider.ErrNoOutput
}
