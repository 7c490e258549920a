package verifier

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/llmproxy/credpool/internal/credential"
)

// HTTPChecker asks an external verification service whether a credential is
// usable: GET {endpoint}/credentials/{id}/check, 200 means usable, 4xx means
// dead. Anything else is a check error and leaves state untouched.
type HTTPChecker struct {
	endpoint string
	client   *http.Client
}

var _ Checker = (*HTTPChecker)(nil)

func NewHTTPChecker(endpoint string) *HTTPChecker {
	return &HTTPChecker{
		endpoint: endpoint,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

func (h *HTTPChecker) Check(ctx context.Context, cred *credential.Credential) (bool, error) {
	url := fmt.Sprintf("%s/credentials/%d/check", h.endpoint, cred.ID)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false, err
	}

	res, err := h.client.Do(req)
	if err != nil {
		return false, err
	}
	defer res.Body.Close()

	switch {
	case res.StatusCode == http.StatusOK:
		return true, nil
	case res.StatusCode >= 400 && res.StatusCode < 500:
		return false, nil
	default:
		return false, fmt.Errorf("verifier: unexpected status %d", res.StatusCode)
	}
}
