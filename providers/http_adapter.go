package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

var (
	jobIDKeys  = []string{"id", "job_id", "jobId", "task_id", "taskId", "request_id", "requestId", "prediction_id", "generation_id"}
	stateKeys  = []string{"status", "state", "job_status", "phase"}
	assetKeys  = []string{"asset_url", "url", "video_url", "output_url", "resource_url", "audio_url", "image_url", "download_url", "result_url", "file_url", "uri"}
	nestedKeys = []string{"result", "output", "outputs", "data", "asset", "video", "audio", "image"}
	errorKeys  = []string{"error", "error_message", "errorMessage", "failure_reason", "failure", "message", "detail"}
)

// HTTPAdapter speaks the JSON gateway protocol shared by our provider gateways:
// POST {endpoint}/v1/generate returns a job id, GET {endpoint}/v1/jobs/{id} its state.
// Gateways disagree on field names, so responses are read tolerantly.
type HTTPAdapter struct {
	res    Resolution
	client *http.Client
}

func NewHTTPAdapter(res Resolution, client *http.Client) *HTTPAdapter {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPAdapter{res: res, client: client}
}

func (a *HTTPAdapter) Submit(ctx context.Context, job Job) (string, error) {
	if job.Model == "" {
		job.Model = a.res.Model
	}
	body, err := json.Marshal(job)
	if err != nil {
		return "", fmt.Errorf("marshal job: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.res.Endpoint+"/v1/generate", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	a.authorize(req)

	data, status, err := a.do(req)
	if err != nil {
		return "", err
	}
	if status != http.StatusOK && status != http.StatusCreated && status != http.StatusAccepted {
		return "", fmt.Errorf("%s rejected job: %s", a.res.ProviderID, providerMessage(data, status))
	}
	var m map[string]interface{}
	if err := json.Unmarshal(data, &m); err != nil {
		return "", fmt.Errorf("decode %s submit response: %w", a.res.ProviderID, err)
	}
	if id := lookupString(m, jobIDKeys, 2); id != "" {
		return id, nil
	}
	return "", fmt.Errorf("%s submit response missing job id", a.res.ProviderID)
}

func (a *HTTPAdapter) Status(ctx context.Context, jobID string) (Status, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.res.Endpoint+"/v1/jobs/"+url.PathEscape(jobID), nil)
	if err != nil {
		return Status{}, err
	}
	a.authorize(req)

	data, status, err := a.do(req)
	if err != nil {
		return Status{}, err
	}
	switch {
	case status == http.StatusOK:
		return ParseStatus(data)
	case permanentStatus(status):
		// the job is gone or was never ours; querying again cannot succeed
		return Status{State: StateFailed, Error: providerMessage(data, status)}, nil
	default:
		return Status{}, fmt.Errorf("%s status query: %s", a.res.ProviderID, providerMessage(data, status))
	}
}

// ParseStatus normalizes one status response body.
func ParseStatus(data []byte) (Status, error) {
	var m map[string]interface{}
	if err := json.Unmarshal(data, &m); err != nil {
		return Status{}, fmt.Errorf("decode status response: %w", err)
	}
	st := Status{State: NormalizeState(lookupString(m, stateKeys, 2))}
	switch st.State {
	case StateSucceeded:
		st.Asset = lookupString(m, assetKeys, 3)
		if doc, ok := m["document"]; ok {
			st.Payload, _ = json.Marshal(doc)
		}
	case StateFailed:
		st.Error = lookupString(m, errorKeys, 2)
		if st.Error == "" {
			st.Error = "provider reported failure without a message"
		}
	}
	return st, nil
}

// permanentStatus reports client errors that will not change on retry.
func permanentStatus(code int) bool {
	if code == http.StatusTooManyRequests || code == http.StatusRequestTimeout {
		return false
	}
	return code >= 400 && code < 500
}

func (a *HTTPAdapter) authorize(req *http.Request) {
	if a.res.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+a.res.APIKey)
	}
}

func (a *HTTPAdapter) do(req *http.Request) ([]byte, int, error) {
	resp, err := a.client.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("read response: %w", err)
	}
	return data, resp.StatusCode, nil
}

// providerMessage keeps the provider's own wording so operators see the real cause.
func providerMessage(data []byte, status int) string {
	var m map[string]interface{}
	if json.Unmarshal(data, &m) == nil {
		if msg := lookupString(m, errorKeys, 2); msg != "" {
			return msg
		}
	}
	body := strings.TrimSpace(string(data))
	if len(body) > 500 {
		body = body[:500] + "..."
	}
	if body == "" {
		return fmt.Sprintf("status %d", status)
	}
	return fmt.Sprintf("status %d: %s", status, body)
}

// lookupString returns the first non-empty string under any of keys, descending into
// the usual wrapper objects and arrays up to depth levels.
func lookupString(v interface{}, keys []string, depth int) string {
	switch t := v.(type) {
	case string:
		return t
	case []interface{}:
		for _, item := range t {
			if s := lookupString(item, keys, depth); s != "" {
				return s
			}
		}
	case map[string]interface{}:
		for _, k := range keys {
			switch val := t[k].(type) {
			case string:
				if val != "" {
					return val
				}
			case float64:
				return fmt.Sprintf("%.0f", val)
			case map[string]interface{}:
				if depth > 0 {
					if s := lookupString(val, keys, depth-1); s != "" {
						return s
					}
				}
			}
		}
		if depth <= 0 {
			return ""
		}
		for _, k := range nestedKeys {
			if inner, ok := t[k]; ok {
				if s := lookupString(inner, keys, depth-1); s != "" {
					return s
				}
			}
		}
	}
	return ""
}
