package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BrandonDHaskell/zorder/internal/reqauth"
	"github.com/BrandonDHaskell/zorder/internal/zorder/types"
)

const (
	requestTimeout = 10 * time.Second
	uploadTimeout  = 300 * time.Second
	maxErrorBody   = 4 << 10
)

// Coordinator is the part of the coordinator API the agent loop and the
// recorder use.
type Coordinator interface {
	Tasks(ctx context.Context) ([]types.Task, error)
	Consume(ctx context.Context, id string) error
	UploadRecording(ctx context.Context, path string, meta types.RecordingMeta) error
}

// Client talks to the coordinator over HTTP. Requests are signed when a
// shared secret is configured.
type Client struct {
	baseURL   string
	machineID string
	signer    *reqauth.Signer

	http   *http.Client
	upload *http.Client
}

func NewClient(baseURL, machineID, secret string) *Client {
	return &Client{
		baseURL:   strings.TrimRight(baseURL, "/"),
		machineID: machineID,
		signer:    reqauth.NewSigner(secret, machineID),
		http:      &http.Client{Timeout: requestTimeout},
		upload:    &http.Client{Timeout: uploadTimeout},
	}
}

func (c *Client) MachineID() string { return c.machineID }

// Tasks lists allowed, unconsumed approvals for this machine.
func (c *Client) Tasks(ctx context.Context) ([]types.Task, error) {
	var out []types.Task
	err := c.getJSON(ctx, "tasks", "/tasks/"+url.PathEscape(c.machineID), &out)
	return out, err
}

// ArmStatus reads whether the coordinator holds an armable approval.
func (c *Client) ArmStatus(ctx context.Context) (types.ArmStatus, error) {
	var out types.ArmStatus
	err := c.getJSON(ctx, "arm-status", "/agent/arm-status/"+url.PathEscape(c.machineID), &out)
	return out, err
}

func (c *Client) Consume(ctx context.Context, id string) error {
	body, err := json.Marshal(types.ConsumeRequest{ID: id})
	if err != nil {
		return err
	}
	return c.postJSON(ctx, "consume", "/tasks/consume", body, nil)
}

// SendBillEdited creates an approval request and returns its action id.
func (c *Client) SendBillEdited(ctx context.Context, req types.BillEditedRequest) (string, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return "", err
	}
	var out types.BillEditedResponse
	if err := c.postJSON(ctx, "bill-edited", "/event/bill-edited", body, &out); err != nil {
		return "", err
	}
	return out.ActionID, nil
}

// UploadRecording streams the file at path with meta as a multipart
// form. The signature covers the encoded meta value.
func (c *Client) UploadRecording(ctx context.Context, path string, meta types.RecordingMeta) error {
	const op = "upload"
	target := c.baseURL + "/upload/recording"

	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return err
	}
	f, err := os.Open(path)
	if err != nil {
		return &NetworkError{Op: op, URL: target, Err: err}
	}
	defer f.Close()

	pr, pw := io.Pipe()
	defer pr.Close()
	mw := multipart.NewWriter(pw)
	go func() {
		pw.CloseWithError(writeRecordingForm(mw, f, filepath.Base(path), metaJSON))
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, pr)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	c.signer.Apply(req.Header, metaJSON)

	resp, err := c.upload.Do(req)
	if err != nil {
		return &NetworkError{Op: op, URL: target, Err: err}
	}
	defer resp.Body.Close()
	return checkStatus(op, target, resp, nil)
}

func writeRecordingForm(mw *multipart.Writer, r io.Reader, filename string, meta []byte) error {
	if err := mw.WriteField("meta", string(meta)); err != nil {
		return err
	}
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, r); err != nil {
		return err
	}
	return mw.Close()
}

func (c *Client) getJSON(ctx context.Context, op, path string, out any) error {
	target := c.baseURL + path
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return err
	}
	c.signer.Apply(req.Header, nil)
	return c.do(op, target, req, out)
}

func (c *Client) postJSON(ctx context.Context, op, path string, body []byte, out any) error {
	target := c.baseURL + path
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	c.signer.Apply(req.Header, body)
	return c.do(op, target, req, out)
}

func (c *Client) do(op, target string, req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return &NetworkError{Op: op, URL: target, Err: err}
	}
	defer resp.Body.Close()
	return checkStatus(op, target, resp, out)
}

func checkStatus(op, target string, resp *http.Response, out any) error {
	if resp.StatusCode/100 != 2 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		msg := strings.TrimSpace(string(b))
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return &NetworkError{Op: op, URL: target, StatusCode: resp.StatusCode, Err: errors.New(msg)}
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &NetworkError{Op: op, URL: target, StatusCode: resp.StatusCode, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}
