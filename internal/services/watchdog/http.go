package watchdog

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"stagecoach/internal/config"
	"stagecoach/internal/logging"
	"stagecoach/internal/services"
)

const defaultHTTPTimeout = 10 * time.Second

// HTTPBackend POSTs the notice as JSON with an optional bearer credential.
type HTTPBackend struct {
	url    string
	client *http.Client
	creds  CredentialProvider
	logger *slog.Logger
}

// NewHTTPBackend builds the HTTP backend from configuration.
func NewHTTPBackend(cfg config.TransferHTTP, logger *slog.Logger) (*HTTPBackend, error) {
	url := strings.TrimSpace(cfg.URL)
	if url == "" {
		return nil, services.Wrap(services.ErrConfiguration, "", "watchdog",
			"transfer.http.url is required for the http backend", nil)
	}
	creds, err := NewCredentialProvider(cfg.CredentialSource, cfg.CredentialValue)
	if err != nil {
		return nil, err
	}
	timeout := defaultHTTPTimeout
	if cfg.TimeoutSeconds > 0 {
		timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}
	return &HTTPBackend{
		url:    url,
		client: &http.Client{Timeout: timeout},
		creds:  creds,
		logger: componentLogger(logger),
	}, nil
}

func (b *HTTPBackend) Name() string { return "http" }

// Notify delivers the notice. Transport failures and 5xx/429 responses are
// transient; other non-2xx responses are permanent.
func (b *HTTPBackend) Notify(ctx context.Context, notice Notice) error {
	payload, err := json.Marshal(notice)
	if err != nil {
		return services.Wrap(services.ErrTransfer, "", "watchdog", "encode notice", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.url, bytes.NewReader(payload))
	if err != nil {
		return services.Wrap(services.ErrConfiguration, "", "watchdog", "build request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	token, err := b.creds.Credential(ctx)
	if err != nil {
		return err
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := b.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return services.Wrap(services.ErrTransient, "", "watchdog", "post notice", err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		b.logger.Info("watchdog notified",
			logging.String("session_id", notice.SessionID),
			logging.Int("file_count", notice.FileCount),
			logging.Int("status", resp.StatusCode))
		return nil
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return services.Wrap(services.ErrTransient, "", "watchdog",
			fmt.Sprintf("endpoint returned HTTP %d", resp.StatusCode), nil)
	default:
		return services.Wrap(services.ErrExternalTool, "", "watchdog",
			fmt.Sprintf("endpoint rejected notice (HTTP %d)", resp.StatusCode), nil)
	}
}

var _ Backend = (*HTTPBackend)(nil)
