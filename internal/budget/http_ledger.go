package budget

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"resty.dev/v3"

	"soundbite/internal/services"
	"soundbite/internal/store"
)

// HTTPLedger talks to a shared usage-ledger service so several daemons can
// draw from one quota pool.
type HTTPLedger struct {
	client *resty.Client
	now    func() time.Time
}

// NewHTTPLedger builds a client for the ledger at baseURL. token may be empty
// for unauthenticated ledgers.
func NewHTTPLedger(baseURL, token string, timeout time.Duration) *HTTPLedger {
	client := resty.New()
	client.SetBaseURL(baseURL)
	if token != "" {
		client.SetAuthToken(token)
	}
	if timeout > 0 {
		client.SetTimeout(timeout)
	}
	client.SetRetryCount(2)
	return &HTTPLedger{client: client, now: time.Now}
}

// Close releases the underlying HTTP client.
func (l *HTTPLedger) Close() error {
	return l.client.Close()
}

type usageResponse struct {
	Period string `json:"period"`
	Limit  int64  `json:"limit"`
	Used   int64  `json:"used"`
}

type reserveRequest struct {
	Calls int64 `json:"calls"`
}

type reserveResponse struct {
	Granted bool   `json:"granted"`
	Reason  string `json:"reason"`
}

// Snapshot reads the ledger's counters for the current period.
func (l *HTTPLedger) Snapshot(ctx context.Context) (Snapshot, error) {
	var body usageResponse
	resp, err := l.client.R().
		SetContext(ctx).
		SetResult(&body).
		Get(fmt.Sprintf("/v1/usage/%s", store.UsagePeriod(l.now())))
	if err != nil {
		return Snapshot{}, services.Wrap(services.ErrTransient, "budget", "snapshot",
			"usage ledger unreachable", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return Snapshot{}, services.Wrap(services.ErrTransient, "budget", "snapshot",
			fmt.Sprintf("usage ledger returned status %d", resp.StatusCode()), nil)
	}
	return Snapshot{Period: body.Period, Limit: body.Limit, Used: body.Used}, nil
}

// Reserve claims calls in the ledger. A 409 or an ungranted reply maps to the
// budget error class so callers fail the stage instead of retrying.
func (l *HTTPLedger) Reserve(ctx context.Context, calls int64) error {
	var body reserveResponse
	resp, err := l.client.R().
		SetContext(ctx).
		SetBody(reserveRequest{Calls: calls}).
		SetResult(&body).
		Post(fmt.Sprintf("/v1/usage/%s/reserve", store.UsagePeriod(l.now())))
	if err != nil {
		return services.Wrap(services.ErrTransient, "budget", "reserve",
			"usage ledger unreachable", err)
	}
	switch {
	case resp.StatusCode() == http.StatusConflict, resp.StatusCode() == http.StatusOK && !body.Granted:
		reason := body.Reason
		if reason == "" {
			reason = "quota exhausted"
		}
		return services.Wrap(services.ErrBudget, "budget", "reserve", reason, nil)
	case resp.StatusCode() != http.StatusOK:
		return services.Wrap(services.ErrTransient, "budget", "reserve",
			fmt.Sprintf("usage ledger returned status %d", resp.StatusCode()), nil)
	}
	return nil
}

// Record reports actual consumption after the fact.
func (l *HTTPLedger) Record(ctx context.Context, calls int64) error {
	resp, err := l.client.R().
		SetContext(ctx).
		SetBody(reserveRequest{Calls: calls}).
		Post(fmt.Sprintf("/v1/usage/%s/record", store.UsagePeriod(l.now())))
	if err != nil {
		return services.Wrap(services.ErrTransient, "budget", "record",
			"usage ledger unreachable", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return services.Wrap(services.ErrTransient, "budget", "record",
			fmt.Sprintf("usage ledger returned status %d", resp.StatusCode()), nil)
	}
	return nil
}

// Release returns reserved-but-unused calls.
func (l *HTTPLedger) Release(ctx context.Context, calls int64) error {
	resp, err := l.client.R().
		SetContext(ctx).
		SetBody(reserveRequest{Calls: calls}).
		Post(fmt.Sprintf("/v1/usage/%s/release", store.UsagePeriod(l.now())))
	if err != nil {
		return services.Wrap(services.ErrTransient, "budget", "release",
			"usage ledger unreachable", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return services.Wrap(services.ErrTransient, "budget", "release",
			fmt.Sprintf("usage ledger returned status %d", resp.StatusCode()), nil)
	}
	return nil
}
