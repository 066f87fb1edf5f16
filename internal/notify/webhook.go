package notify

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/tls"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/noah-isme/toko-fulfillment/internal/obs"
	"github.com/noah-isme/toko-fulfillment/internal/resilience"
)

// WebhookReporter posts signed error reports to an external error tracker.
// Notify never blocks the caller: each report is delivered on its own goroutine
// and delivery failures are only logged.
type WebhookReporter struct {
	URL         string
	Secret      string
	Source      string
	Environment string
	HTTP        *resilience.HTTPClient
	Logger      zerolog.Logger
	Replay      ReplayProtector
	ReplayTTL   time.Duration
	Timeout     time.Duration

	wg sync.WaitGroup
}

type errorReport struct {
	ReportID    string            `json:"reportId"`
	Source      string            `json:"source"`
	Environment string            `json:"environment,omitempty"`
	Error       string            `json:"error"`
	Fields      map[string]string `json:"fields,omitempty"`
	OccurredAt  time.Time         `json:"occurredAt"`
}

// Notify implements fulfillment.ErrorReporter.
func (r *WebhookReporter) Notify(ctx context.Context, err error, fields map[string]string) {
	if r == nil || err == nil {
		return
	}
	report := errorReport{
		ReportID:    uuid.NewString(),
		Source:      valueOr(r.Source, "toko-fulfillment"),
		Environment: r.Environment,
		Error:       err.Error(),
		Fields:      copyFields(fields),
		OccurredAt:  time.Now().UTC(),
	}
	detached := context.WithoutCancel(ctx)
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if deliverErr := r.deliver(detached, report); deliverErr != nil {
			obs.ObserveErrorReport("failed")
			r.Logger.Warn().
				Err(deliverErr).
				Str("report_id", report.ReportID).
				Str("reported_error", report.Error).
				Msg("error report delivery failed")
		}
	}()
}

// Flush waits for in-flight reports. Used during shutdown and in tests.
func (r *WebhookReporter) Flush() {
	if r == nil {
		return
	}
	r.wg.Wait()
}

func (r *WebhookReporter) deliver(ctx context.Context, report errorReport) error {
	if err := validateURL(r.URL); err != nil {
		return err
	}
	ctx, span := otel.Tracer("notify.WebhookReporter").Start(ctx, "WebhookReporter.deliver")
	defer span.End()
	span.SetAttributes(attribute.String("error_report.id", report.ReportID))

	timeout := r.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	key := replayKey(report)
	if r.Replay != nil && r.ReplayTTL > 0 {
		ok, err := r.Replay.Acquire(ctx, key, r.ReplayTTL)
		if err != nil {
			span.RecordError(err)
			return err
		}
		if !ok {
			span.AddEvent("duplicate report suppressed")
			obs.ObserveErrorReport("suppressed")
			return nil
		}
	}

	body, err := json.Marshal(report)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.URL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	ts := time.Now().Unix()
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "toko-fulfillment-reports/1.0")
	req.Header.Set("X-Report-ID", report.ReportID)
	req.Header.Set("X-Timestamp", strconv.FormatInt(ts, 10))
	req.Header.Set("X-Signature", ComputeSignature(r.Secret, ts, report.ReportID, body))

	resp, err := r.client().Do(ctx, req)
	if err != nil {
		span.RecordError(err)
		r.release(key)
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, resp.Body)
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		r.release(key)
		return fmt.Errorf("error tracker responded with status %d", resp.StatusCode)
	}
	obs.ObserveErrorReport("sent")
	return nil
}

// release drops the replay guard so an undelivered report is retried on the
// next occurrence instead of being suppressed for the whole TTL.
func (r *WebhookReporter) release(key string) {
	if r.Replay == nil || r.ReplayTTL <= 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := r.Replay.Release(ctx, key); err != nil {
		r.Logger.Warn().Err(err).Msg("release error report guard")
	}
}

func (r *WebhookReporter) client() *resilience.HTTPClient {
	if r.HTTP != nil {
		return r.HTTP
	}
	return &resilience.HTTPClient{Client: HttpClient(5000, false), MaxAttempts: 1}
}

func validateURL(raw string) error {
	parsed, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid report url: %w", err)
	}
	if parsed.Scheme != "https" && parsed.Scheme != "http" {
		return errors.New("report url must be http or https")
	}
	if parsed.Scheme == "http" {
		host := parsed.Hostname()
		if host != "localhost" && host != "127.0.0.1" {
			return errors.New("http report url only allowed for localhost")
		}
	}
	if parsed.Host == "" {
		return errors.New("report url must include host")
	}
	return nil
}

// ComputeSignature calculates the report signature for the provided payload. The
// format is HMAC-SHA256 over "<ts>.<reportID>.<body>" using the shared secret.
func ComputeSignature(secret string, ts int64, reportID string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write([]byte(strconv.FormatInt(ts, 10)))
	_, _ = mac.Write([]byte("."))
	_, _ = mac.Write([]byte(reportID))
	_, _ = mac.Write([]byte("."))
	_, _ = mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// HttpClient returns an HTTP client configured for outbound calls.
func HttpClient(timeoutMs int, insecure bool) *http.Client {
	if timeoutMs <= 0 {
		timeoutMs = 5000
	}
	transport := &http.Transport{}
	if insecure {
		transport.TLSClientConfig = insecureTLSConfig
	}
	return &http.Client{
		Timeout:   time.Duration(timeoutMs) * time.Millisecond,
		Transport: otelhttp.NewTransport(transport),
	}
}

var insecureTLSConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec

func copyFields(fields map[string]string) map[string]string {
	if len(fields) == 0 {
		return nil
	}
	out := make(map[string]string, len(fields))
	for k, v := range fields {
		if strings.TrimSpace(v) == "" {
			continue
		}
		out[k] = v
	}
	return out
}

func valueOr(value, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return value
}

// LogReporter writes error reports to the log. It is used when no error
// tracker URL is configured.
type LogReporter struct {
	Logger zerolog.Logger
}

// Notify implements fulfillment.ErrorReporter.
func (r LogReporter) Notify(_ context.Context, err error, fields map[string]string) {
	if err == nil {
		return
	}
	evt := r.Logger.Error().Err(err)
	for k, v := range fields {
		evt = evt.Str(k, v)
	}
	evt.Msg("error_report")
}
