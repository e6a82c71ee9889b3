package agent

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BrandonDHaskell/zorder/internal/reqauth"
	"github.com/BrandonDHaskell/zorder/internal/zorder/types"
)

const clientSecret = "agent-secret"

func TestClientTasksSigned(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/tasks/M 1", r.URL.Path)
		_, err := reqauth.VerifyRequest([]byte(clientSecret), r, nil, "M 1")
		assert.NoError(t, err)
		_ = json.NewEncoder(w).Encode([]types.Task{taskA})
	}))
	defer ts.Close()

	c := NewClient(ts.URL+"/", "M 1", clientSecret)
	tasks, err := c.Tasks(context.Background())
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, "act-A", tasks[0].ID)
}

func TestClientUnsignedWithoutSecret(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get(reqauth.HeaderSignature))
		assert.Empty(t, r.Header.Get(reqauth.HeaderMachineID))
		_, _ = io.WriteString(w, "[]")
	}))
	defer ts.Close()

	tasks, err := NewClient(ts.URL, "M1", "").Tasks(context.Background())
	require.NoError(t, err)
	assert.Empty(t, tasks)
}

func TestClientConsumeSignsBody(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		assert.NoError(t, err)
		assert.JSONEq(t, `{"id":"act-A"}`, string(body))
		_, err = reqauth.VerifyRequest([]byte(clientSecret), r, body, "M1")
		assert.NoError(t, err)
		_, _ = io.WriteString(w, `{"ok":true}`)
	}))
	defer ts.Close()

	require.NoError(t, NewClient(ts.URL, "M1", clientSecret).Consume(context.Background(), "act-A"))
}

func TestClientNonSuccessIsNetworkError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = io.WriteString(w, `{"error":"unauthorized"}`)
	}))
	defer ts.Close()

	_, err := NewClient(ts.URL, "M1", "").Tasks(context.Background())
	var nerr *NetworkError
	require.ErrorAs(t, err, &nerr)
	assert.Equal(t, http.StatusUnauthorized, nerr.StatusCode)
	assert.Equal(t, "tasks", nerr.Op)
	assert.Contains(t, nerr.Error(), "unauthorized")
}

func TestClientTransportFailure(t *testing.T) {
	ts := httptest.NewServer(http.NotFoundHandler())
	url := ts.URL
	ts.Close()

	err := NewClient(url, "M1", "").Consume(context.Background(), "x")
	var nerr *NetworkError
	require.ErrorAs(t, err, &nerr)
	assert.Zero(t, nerr.StatusCode)
}

func TestClientUploadRecording(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rec.mp4")
	require.NoError(t, os.WriteFile(path, []byte("video bytes"), 0o600))
	meta := types.RecordingMeta{MachineID: "M1", ActionID: "act-A", FileSize: 11}

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/upload/recording", r.URL.Path)
		if !assert.NoError(t, r.ParseMultipartForm(1<<20)) {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		metaField := r.FormValue("meta")
		var got types.RecordingMeta
		assert.NoError(t, json.Unmarshal([]byte(metaField), &got))
		assert.Equal(t, meta, got)
		_, err := reqauth.VerifyRequest([]byte(clientSecret), r, []byte(metaField), "M1")
		assert.NoError(t, err)

		f, hdr, err := r.FormFile("file")
		if assert.NoError(t, err) {
			defer f.Close()
			assert.Equal(t, "rec.mp4", hdr.Filename)
			b, _ := io.ReadAll(f)
			assert.Equal(t, "video bytes", string(b))
		}
		_, _ = io.WriteString(w, `{"ok":true}`)
	}))
	defer ts.Close()

	require.NoError(t, NewClient(ts.URL, "M1", clientSecret).UploadRecording(context.Background(), path, meta))
}

func TestClientUploadMissingFile(t *testing.T) {
	err := NewClient("http://127.0.0.1:1", "M1", "").UploadRecording(context.Background(),
		filepath.Join(t.TempDir(), "gone.mp4"), types.RecordingMeta{})
	var nerr *NetworkError
	require.ErrorAs(t, err, &nerr)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestClientSendBillEditedAndArmStatus(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /event/bill-edited", func(w http.ResponseWriter, r *http.Request) {
		var req types.BillEditedRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "INV-1", req.InvoiceID)
		_ = json.NewEncoder(w).Encode(types.BillEditedResponse{OK: true, ActionID: "act-9"})
	})
	mux.HandleFunc("GET /agent/arm-status/{machine}", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(types.ArmStatus{Armed: true, ActionID: "act-9", MachineID: r.PathValue("machine")})
	})
	ts := httptest.NewServer(mux)
	defer ts.Close()

	c := NewClient(ts.URL, "M1", "")
	id, err := c.SendBillEdited(context.Background(), types.BillEditedRequest{InvoiceID: "INV-1", BillerID: "B", MachineID: "M1"})
	require.NoError(t, err)
	assert.Equal(t, "act-9", id)

	st, err := c.ArmStatus(context.Background())
	require.NoError(t, err)
	assert.True(t, st.Armed)
	assert.Equal(t, "M1", st.MachineID)
}
