package sandbox

import (
	"context"
	"io"
	"net/http"
	"strings"
	"time"
)

// DefaultHTTPBodyLimit caps response bytes read per request.
const DefaultHTTPBodyLimit = 128 * 1024

// DefaultHTTPTimeout bounds each request issued for the sandbox.
const DefaultHTTPTimeout = 30 * time.Second

// httpResource performs capped-size, timeout-bounded HTTP requests on
// behalf of sandboxed code.
type httpResource struct {
	BaseResource
	client    *http.Client
	bodyLimit int64
}

func newHTTPResource(name string, config map[string]interface{}, env ResourceEnv) (Resource, error) {
	timeout := DefaultHTTPTimeout
	if v, ok := config["timeout"].(int); ok {
		timeout = time.Duration(v) * time.Second
	} else if v, ok := config["timeout"].(float64); ok {
		timeout = time.Duration(v) * time.Second
	}
	bodyLimit := int64(DefaultHTTPBodyLimit)
	if v, ok := config["data_limit"].(int); ok {
		bodyLimit = int64(v)
	} else if v, ok := config["data_limit"].(float64); ok {
		bodyLimit = int64(v)
	}

	r := &httpResource{
		BaseResource: NewBaseResource(name, config),
		client:       &http.Client{Timeout: timeout},
		bodyLimit:    bodyLimit,
	}
	r.Register("get", r.method(http.MethodGet))
	r.Register("post", r.method(http.MethodPost))
	return r, nil
}

// method builds the handler for one HTTP method. A missing URL fails
// without touching the network.
func (r *httpResource) method(method string) HandlerFunc {
	return func(ctx context.Context, api *API, cmd *Command) (*Command, error) {
		url := cmd.String("url")
		if url == "" {
			return FailureReply(cmd, "No URL given"), nil
		}

		var body io.Reader
		if data := cmd.String("data"); data != "" {
			body = strings.NewReader(data)
		}
		req, err := http.NewRequestWithContext(ctx, method, url, body)
		if err != nil {
			return FailureReply(cmd, err.Error()), nil
		}
		if headers, ok := cmd.Extra["headers"].(map[string]interface{}); ok {
			for k, v := range headers {
				if s, ok := v.(string); ok {
					req.Header.Set(k, s)
				}
			}
		}

		resp, err := r.client.Do(req)
		if err != nil {
			return FailureReply(cmd, err.Error()), nil
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(io.LimitReader(resp.Body, r.bodyLimit))
		if err != nil {
			return FailureReply(cmd, err.Error()), nil
		}
		return SuccessReply(cmd, map[string]interface{}{
			"code": resp.StatusCode,
			"body": string(data),
		}), nil
	}
}
