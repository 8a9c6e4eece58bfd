package connector

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"parceltriggers/internal/config"
	"parceltriggers/internal/logging"
	"parceltriggers/internal/model"
	"parceltriggers/internal/normalize"
	"parceltriggers/internal/taxonomy"
)

// live polls a county JSON feed over HTTP. Unless enabled it returns no
// events and makes no network calls.
type live struct {
	key       string
	domain    taxonomy.Domain
	cfg       config.LiveConfig
	client    *http.Client
	watermark Watermark
	logger    *slog.Logger
}

func liveFactory(key string, domain taxonomy.Domain, pick func(config.ConnectorsConfig) config.LiveConfig) Factory {
	return func(d Deps) (Connector, error) {
		cfg := pick(d.Config)
		if cfg.Timeout <= 0 {
			cfg.Timeout = 15 * time.Second
		}
		client := d.HTTPClient
		if client == nil {
			client = NewHTTPClient(cfg.Timeout)
		}
		return &live{
			key:       key,
			domain:    domain,
			cfg:       cfg,
			client:    client,
			watermark: newWatermark(d.Store, key, d.Config),
			logger:    logging.With(d.Logger, "connector"),
		}, nil
	}
}

func (c *live) Key() string             { return c.key }
func (c *live) Domain() taxonomy.Domain { return c.domain }

func (c *live) Enabled() bool {
	return c.cfg.Enabled && c.cfg.BaseURL != ""
}

type feedEvent struct {
	ParcelID   string         `json:"parcel_id"`
	ObservedAt string         `json:"observed_at"`
	EventType  string         `json:"event_type"`
	Payload    map[string]any `json:"payload"`
}

type feedResponse struct {
	Events []feedEvent `json:"events"`
}

func (c *live) Poll(ctx context.Context, county string, now time.Time, limit int) ([]model.RawEvent, error) {
	if !c.Enabled() {
		return nil, nil
	}
	return c.watermark.poll(ctx, county, now, limit, func(since time.Time) ([]model.RawEvent, error) {
		endpoint, err := c.feedURL(county, since, limit)
		if err != nil {
			return nil, err
		}
		var body feedResponse
		err = Retry(ctx, c.cfg.Retries+1, 250*time.Millisecond, 4*time.Second, func() error {
			var fetchErr error
			body, fetchErr = c.fetch(ctx, endpoint)
			if fetchErr != nil && c.logger != nil {
				c.logger.Debug("live feed attempt failed", "connector", c.key, "county", county, "error", fetchErr)
			}
			return fetchErr
		})
		if err != nil {
			return nil, fmt.Errorf("%s feed: %w", c.key, err)
		}
		events := make([]model.RawEvent, 0, len(body.Events))
		for _, fe := range body.Events {
			if strings.TrimSpace(fe.ParcelID) == "" {
				continue
			}
			observed, err := normalize.ParseTimestamp(fe.ObservedAt, time.UTC)
			if err != nil {
				continue
			}
			if observed.Before(since) {
				continue
			}
			events = append(events, model.RawEvent{
				ConnectorKey: c.key,
				County:       county,
				ParcelID:     strings.TrimSpace(fe.ParcelID),
				ObservedAt:   observed,
				EventType:    fe.EventType,
				Payload:      fe.Payload,
			})
		}
		return events, nil
	})
}

func (c *live) feedURL(county string, since time.Time, limit int) (string, error) {
	u, err := url.Parse(c.cfg.BaseURL)
	if err != nil {
		return "", fmt.Errorf("base_url: %w", err)
	}
	q := u.Query()
	q.Set("county", county)
	q.Set("since", since.UTC().Format(time.RFC3339))
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// errPermanent marks responses that retrying cannot fix.
type errPermanent struct{ err error }

func (e errPermanent) Error() string { return e.err.Error() }
func (e errPermanent) Unwrap() error { return e.err }

func (c *live) fetch(ctx context.Context, endpoint string) (feedResponse, error) {
	reqCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, endpoint, nil)
	if err != nil {
		return feedResponse{}, errPermanent{err}
	}
	req.Header.Set("Accept", "application/json")
	resp, err := c.client.Do(req)
	if err != nil {
		return feedResponse{}, err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return feedResponse{}, err
	}
	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		return feedResponse{}, fmt.Errorf("status %d", resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return feedResponse{}, errPermanent{fmt.Errorf("status %d", resp.StatusCode)}
	}
	var out feedResponse
	trimmed := strings.TrimSpace(string(data))
	if strings.HasPrefix(trimmed, "[") {
		err = json.Unmarshal(data, &out.Events)
	} else {
		err = json.Unmarshal(data, &out)
	}
	if err != nil {
		return feedResponse{}, errPermanent{fmt.Errorf("decode feed: %w", err)}
	}
	return out, nil
}

func (c *live) Normalize(ev model.RawEvent, now time.Time) (model.TriggerEvent, bool) {
	if strings.TrimSpace(ev.ParcelID) == "" {
		return model.TriggerEvent{}, false
	}
	text := payloadText(ev.Payload)
	key := normalize.Classify(c.domain, ev.EventType, text...)
	return triggerFrom(ev, key, c.domain, now, map[string]any{"text": strings.Join(text, " | "), "live": true}), true
}

func NewHTTPClient(timeout time.Duration) *http.Client {
	tr := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		DialContext:         (&net.Dialer{Timeout: 5 * time.Second, KeepAlive: 60 * time.Second}).DialContext,
		MaxIdleConns:        20,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 5 * time.Second,
	}
	return &http.Client{Timeout: timeout, Transport: tr}
}

// Retry calls fn up to attempts times with doubling backoff capped at max.
// Errors wrapped as permanent stop the loop early.
func Retry(ctx context.Context, attempts int, initial, max time.Duration, fn func() error) error {
	if attempts < 1 {
		attempts = 1
	}
	d := initial
	var err error
	for i := 0; i < attempts; i++ {
		if i > 0 {
			timer := time.NewTimer(d)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			}
			if d < max {
				d *= 2
				if d > max {
					d = max
				}
			}
		}
		if err = fn(); err == nil {
			return nil
		}
		var perm errPermanent
		if errors.As(err, &perm) {
			return perm.err
		}
	}
	return err
}
