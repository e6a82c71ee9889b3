// Package messaging talks to the WhatsApp Cloud API on behalf of the
// coordinator: interactive approval prompts, confirmation texts and
// recording delivery.
package messaging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

const (
	DefaultAPIBase = "https://graph.facebook.com/v21.0"

	sendTimeout  = 20 * time.Second
	mediaTimeout = 90 * time.Second

	// WhatsApp rejects longer media captions.
	maxCaptionRunes = 1024
	// Bytes of a failed response kept for diagnostics.
	maxErrorBody = 2048
)

// ErrNotConfigured means the token, phone number id or owner number is
// missing.
var ErrNotConfigured = errors.New("whatsapp credentials are not configured")

// DeliveryError is a transport failure or non-2xx response from the
// provider.
type DeliveryError struct {
	Op         string
	StatusCode int
	Body       string
	Err        error
}

func (e *DeliveryError) Error() string {
	switch {
	case e.Err != nil:
		return fmt.Sprintf("whatsapp %s: %v", e.Op, e.Err)
	case e.Body != "":
		return fmt.Sprintf("whatsapp %s: status %d: %s", e.Op, e.StatusCode, e.Body)
	default:
		return fmt.Sprintf("whatsapp %s: status %d", e.Op, e.StatusCode)
	}
}

func (e *DeliveryError) Unwrap() error { return e.Err }

type Config struct {
	Token       string
	PhoneID     string
	OwnerNumber string
	APIBase     string

	// HTTPClient defaults to a client without a global timeout; each
	// call sets its own deadline.
	HTTPClient *http.Client
	// Limiter paces outbound calls. Nil means 20 calls/s, burst 5.
	Limiter *rate.Limiter
}

type Client struct {
	token   string
	phoneID string
	owner   string
	base    string
	http    *http.Client
	limiter *rate.Limiter
}

func New(cfg Config) *Client {
	base := strings.TrimRight(cfg.APIBase, "/")
	if base == "" {
		base = DefaultAPIBase
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{}
	}
	lim := cfg.Limiter
	if lim == nil {
		lim = rate.NewLimiter(rate.Limit(20), 5)
	}
	return &Client{
		token:   strings.TrimSpace(cfg.Token),
		phoneID: strings.TrimSpace(cfg.PhoneID),
		owner:   strings.TrimSpace(cfg.OwnerNumber),
		base:    base,
		http:    hc,
		limiter: lim,
	}
}

// Configured reports whether every credential needed to message the
// owner is present.
func (c *Client) Configured() bool {
	return c.token != "" && c.phoneID != "" && c.owner != ""
}

func (c *Client) requireConfig(needOwner bool) error {
	if c.token == "" || c.phoneID == "" || (needOwner && c.owner == "") {
		return ErrNotConfigured
	}
	return nil
}

// SendButtons sends text to the owner with YES/NO reply buttons whose
// ids are yes_<actionID> and no_<actionID>.
func (c *Client) SendButtons(ctx context.Context, text, actionID string) error {
	if err := c.requireConfig(true); err != nil {
		return err
	}
	payload := map[string]any{
		"messaging_product": "whatsapp",
		"to":                c.owner,
		"type":              "interactive",
		"interactive": map[string]any{
			"type": "button",
			"body": map[string]any{"text": text},
			"action": map[string]any{
				"buttons": []map[string]any{
					{"type": "reply", "reply": map[string]string{"id": "yes_" + actionID, "title": "YES"}},
					{"type": "reply", "reply": map[string]string{"id": "no_" + actionID, "title": "NO"}},
				},
			},
		},
	}
	return c.postMessage(ctx, "send_buttons", payload)
}

func (c *Client) SendText(ctx context.Context, text string) error {
	if err := c.requireConfig(true); err != nil {
		return err
	}
	payload := map[string]any{
		"messaging_product": "whatsapp",
		"to":                c.owner,
		"type":              "text",
		"text":              map[string]string{"body": text},
	}
	return c.postMessage(ctx, "send_text", payload)
}

// UploadMedia uploads the file at path and returns the provider media
// id.
func (c *Client) UploadMedia(ctx context.Context, path, mimeType string) (string, error) {
	if err := c.requireConfig(false); err != nil {
		return "", err
	}
	const op = "upload_media"

	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open media: %w", err)
	}
	defer f.Close()

	pr, pw := io.Pipe()
	defer pr.Close()
	mw := multipart.NewWriter(pw)
	go func() {
		pw.CloseWithError(writeMediaForm(mw, f, filepath.Base(path), mimeType))
	}()

	ctx, cancel := context.WithTimeout(ctx, mediaTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/"+c.phoneID+"/media", pr)
	if err != nil {
		return "", &DeliveryError{Op: op, Err: err}
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	body, err := c.do(req, op)
	if err != nil {
		return "", err
	}
	var out struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(body, &out); err != nil || out.ID == "" {
		return "", &DeliveryError{Op: op, StatusCode: http.StatusOK, Body: truncate(string(body), maxErrorBody), Err: errors.New("response has no media id")}
	}
	return out.ID, nil
}

// SendVideo sends an uploaded video to the owner. Captions are cut to
// 1024 characters.
func (c *Client) SendVideo(ctx context.Context, mediaID, caption string) error {
	if err := c.requireConfig(true); err != nil {
		return err
	}
	payload := map[string]any{
		"messaging_product": "whatsapp",
		"to":                c.owner,
		"type":              "video",
		"video":             map[string]string{"id": mediaID, "caption": truncate(caption, maxCaptionRunes)},
	}
	return c.postMessage(ctx, "send_video", payload)
}

func (c *Client) postMessage(ctx context.Context, op string, payload any) error {
	b, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s: %w", op, err)
	}
	ctx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/"+c.phoneID+"/messages", bytes.NewReader(b))
	if err != nil {
		return &DeliveryError{Op: op, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	_, err = c.do(req, op)
	return err
}

func (c *Client) do(req *http.Request, op string) ([]byte, error) {
	if err := c.limiter.Wait(req.Context()); err != nil {
		return nil, &DeliveryError{Op: op, Err: err}
	}
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &DeliveryError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, &DeliveryError{Op: op, StatusCode: resp.StatusCode, Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &DeliveryError{Op: op, StatusCode: resp.StatusCode, Body: truncate(string(body), maxErrorBody)}
	}
	return body, nil
}

func writeMediaForm(mw *multipart.Writer, r io.Reader, name, mimeType string) error {
	if err := mw.WriteField("messaging_product", "whatsapp"); err != nil {
		return err
	}
	if err := mw.WriteField("type", mimeType); err != nil {
		return err
	}
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, name))
	h.Set("Content-Type", mimeType)
	part, err := mw.CreatePart(h)
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, r); err != nil {
		return err
	}
	return mw.Close()
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
