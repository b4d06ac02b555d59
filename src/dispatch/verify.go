package dispatch

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

// VerifyKey checks that the configured endpoint accepts the configured
// credentials. It issues a models listing, the cheapest authenticated call an
// OpenAI-compatible endpoint supports.
func (d *Dispatcher) VerifyKey(ctx context.Context) error {
	_, err := d.client.ListModels(ctx)
	return verifyResult(err)
}

// ListModels returns the model IDs the endpoint advertises.
func (d *Dispatcher) ListModels(ctx context.Context) ([]string, error) {
	list, err := d.client.ListModels(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing models: %w", err)
	}
	return modelIDs(list), nil
}

// Verify probes candidate credentials against baseURL without touching the
// configured dispatcher, so a caller can test an endpoint and key before
// committing them to config. The candidate URL goes through the same SSRF
// checks as a configured one.
func Verify(ctx context.Context, baseURL, apiKey string, allowLocal bool) error {
	client, err := probeClient(ctx, baseURL, apiKey, allowLocal)
	if err != nil {
		return err
	}
	_, err = client.ListModels(ctx)
	return verifyResult(err)
}

// Models lists the model IDs a candidate endpoint advertises.
func Models(ctx context.Context, baseURL, apiKey string, allowLocal bool) ([]string, error) {
	client, err := probeClient(ctx, baseURL, apiKey, allowLocal)
	if err != nil {
		return nil, err
	}
	list, err := client.ListModels(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing models: %w", err)
	}
	return modelIDs(list), nil
}

// probeClient builds a transient client for one credential probe. It carries
// the same guarded transport as a dispatcher client but a tighter timeout.
func probeClient(ctx context.Context, baseURL, apiKey string, allowLocal bool) (*openai.Client, error) {
	if err := CheckEndpoint(ctx, baseURL, allowLocal); err != nil {
		return nil, err
	}
	cfg := openai.DefaultConfig(apiKey)
	cfg.BaseURL = strings.TrimSuffix(baseURL, "/")
	cfg.HTTPClient = &http.Client{
		Transport:     guardedTransport(allowLocal, nil),
		CheckRedirect: noCrossOriginRedirects,
		Timeout:       15 * time.Second,
	}
	return openai.NewClientWithConfig(cfg), nil
}

func verifyResult(err error) error {
	if err == nil {
		return nil
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) && (apiErr.HTTPStatusCode == http.StatusUnauthorized ||
		apiErr.HTTPStatusCode == http.StatusForbidden) {
		return fmt.Errorf("credentials rejected by provider: %w", err)
	}
	return fmt.Errorf("verify request failed: %w", err)
}

func modelIDs(list openai.ModelsList) []string {
	ids := make([]string, 0, len(list.Models))
	for _, m := range list.Models {
		ids = append(ids, m.ID)
	}
	return ids
}
