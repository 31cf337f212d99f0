package pipeline

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"PromptToMovie-server/poller"
	"PromptToMovie-server/providers"
)

// documentBytes returns the JSON document of a finished text job: inline when the
// provider returned it, otherwise fetched from the asset URL.
func (o *Orchestrator) documentBytes(ctx context.Context, res poller.Result) ([]byte, error) {
	if len(res.Payload) > 0 {
		return res.Payload, nil
	}
	if res.Asset == "" || providers.IsSimulated(res.Asset) {
		return nil, fmt.Errorf("provider returned no document")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, res.Asset, nil)
	if err != nil {
		return nil, err
	}
	resp, err := o.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch document: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch document: status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, fmt.Errorf("read document: %w", err)
	}
	return data, nil
}
