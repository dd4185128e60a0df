package server

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dicomconv/internal/auth"
	"dicomconv/internal/convert"
	dcm "dicomconv/internal/dicom"
	"dicomconv/internal/encode"
	"dicomconv/internal/staging"
	"dicomconv/internal/synth"
)

const testKey = "test-key"

func init() {
	gin.SetMode(gin.TestMode)
}

func newServer(t *testing.T) *Server {
	t.Helper()
	dir := t.TempDir()

	root, err := staging.NewRoot(filepath.Join(dir, "staging"), nil)
	require.NoError(t, err)
	store, err := staging.OpenStore(filepath.Join(dir, "artifacts"))
	require.NoError(t, err)
	t.Cleanup(func() {
		root.Close()
		store.Close()
	})

	return &Server{
		Convert: &convert.Service{
			Encoder: encode.New(nil, nil),
			Synth:   synth.New(nil, nil),
			Staging: root,
			Store:   store,
			Workers: 2,
		},
		Tokens:  auth.TokenService{Secret: []byte("secret"), Issuer: "test", Duration: time.Hour},
		APIKeys: auth.APIKeys{testKey},
	}
}

func dicomBytes(t *testing.T) []byte {
	t.Helper()
	frame := make([]byte, 6*5)
	for i := range frame {
		frame[i] = byte(i * 8)
	}
	ds, err := dcm.NewSecondaryCapture(dcm.Capture{
		Rows: 5, Cols: 6, Frames: [][]byte{frame}, PatientName: "Jane Roe", PatientID: "P-1",
	})
	require.NoError(t, err)
	var buf bytes.Buffer
	require.NoError(t, ds.Write(&buf))
	return buf.Bytes()
}

type upload struct {
	field, name string
	data        []byte
}

func multipartRequest(t *testing.T, target string, uploads []upload, fields map[string][]string) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for _, u := range uploads {
		w, err := mw.CreateFormFile(u.field, u.name)
		require.NoError(t, err)
		_, err = w.Write(u.data)
		require.NoError(t, err)
	}
	for k, vs := range fields {
		for _, v := range vs {
			require.NoError(t, mw.WriteField(k, v))
		}
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, target, &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set(auth.APIKeyHeader, testKey)
	return req
}

func serve(s *Server, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)
	return w
}

func TestHealthIsPublic(t *testing.T) {
	s := newServer(t)
	w := serve(s, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"ok"`)
}

func TestProtectedRoutesRequireCredentials(t *testing.T) {
	s := newServer(t)
	req := multipartRequest(t, "/convert", []upload{{"file", "a.dcm", dicomBytes(t)}}, nil)
	req.Header.Del(auth.APIKeyHeader)

	w := serve(s, req)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestConvertAndDownload(t *testing.T) {
	s := newServer(t)
	req := multipartRequest(t, "/convert?format=png", []upload{{"file", "scan.dcm", dicomBytes(t)}}, nil)

	w := serve(s, req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var body artifactView
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.FileExists(t, body.FilePath)
	assert.NotEmpty(t, body.Digest)

	get := httptest.NewRequest(http.MethodGet, body.DownloadURL, nil)
	get.Header.Set(auth.APIKeyHeader, testKey)
	w = serve(s, get)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "\x89PNG", w.Body.String()[:4])
}

func TestConvertErrorStatus(t *testing.T) {
	s := newServer(t)

	tests := []struct {
		name   string
		req    *http.Request
		status int
		kind   string
	}{
		{"unsupported format", multipartRequest(t, "/convert?format=gif", []upload{{"file", "a.dcm", dicomBytes(t)}}, nil), http.StatusBadRequest, "unsupported_format"},
		{"undecodable", multipartRequest(t, "/convert", []upload{{"file", "a.dcm", []byte("junk")}}, nil), http.StatusUnprocessableEntity, "decode_failure"},
		{"missing file", multipartRequest(t, "/convert", nil, map[string][]string{"format": {"png"}}), http.StatusBadRequest, "validation"},
		{"bad quality", multipartRequest(t, "/convert?quality=high", []upload{{"file", "a.dcm", dicomBytes(t)}}, nil), http.StatusBadRequest, "validation"},
		{"bad metadata", multipartRequest(t, "/metadata", []upload{{"file", "a.dcm", []byte("junk")}}, nil), http.StatusInternalServerError, "extraction_failure"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := serve(s, tt.req)
			assert.Equal(t, tt.status, w.Code, w.Body.String())

			var body map[string]string
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			assert.Equal(t, tt.kind, body["kind"])
			assert.NotEmpty(t, body["error"])
		})
	}
}

func TestArtifactNotFound(t *testing.T) {
	s := newServer(t)
	req := httptest.NewRequest(http.MethodGet, "/artifacts/missing.png", nil)
	req.Header.Set(auth.APIKeyHeader, testKey)
	assert.Equal(t, http.StatusNotFound, serve(s, req).Code)
}

func TestConvertBatchShape(t *testing.T) {
	s := newServer(t)
	req := multipartRequest(t, "/convert-batch?formats=jpeg&formats=png",
		[]upload{{"files", "a.dcm", dicomBytes(t)}, {"files", "b.dcm", []byte("junk")}}, nil)

	w := serve(s, req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var body []fileView
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Len(t, body, 2)
	assert.Equal(t, "a.dcm", body[0].InputFile)
	require.Len(t, body[0].Outputs, 2)
	assert.Equal(t, "jpeg", body[0].Outputs[0].Format)
	assert.NotEmpty(t, body[0].Outputs[0].FilePath)
	assert.Equal(t, "png", body[0].Outputs[1].Format)

	require.Len(t, body[1].Outputs, 2)
	for _, out := range body[1].Outputs {
		assert.Equal(t, "failed", out.Status)
		assert.Empty(t, out.FilePath)
		assert.NotEmpty(t, out.Error)
	}
}

func TestMetadataBatch(t *testing.T) {
	s := newServer(t)
	req := multipartRequest(t, "/metadata-batch",
		[]upload{{"files", "a.dcm", dicomBytes(t)}, {"files", "b.dcm", []byte("junk")}}, nil)

	w := serve(s, req)
	require.Equal(t, http.StatusOK, w.Code)

	var body []map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Len(t, body, 2)
	assert.Equal(t, "Jane Roe", body[0]["metadata"].(map[string]any)["PatientName"])
	assert.NotContains(t, body[1], "metadata")
	assert.NotEmpty(t, body[1]["error"])
}

func TestToDICOMBatchMismatch(t *testing.T) {
	s := newServer(t)
	req := multipartRequest(t, "/convert-to-dicom-batch",
		[]upload{{"files", "a.png", []byte("x")}, {"files", "b.png", []byte("y")}},
		map[string][]string{"input_formats": {"png"}})

	w := serve(s, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), `"kind":"validation"`)
}

func TestToDICOMBatchShape(t *testing.T) {
	s := newServer(t)
	req := multipartRequest(t, "/convert-to-dicom-batch",
		[]upload{{"files", "a.png", []byte("not a png")}},
		map[string][]string{"input_formats": {"png"}, "patient_name": {"X"}})

	w := serve(s, req)
	require.Equal(t, http.StatusOK, w.Code)

	var body []map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Len(t, body, 1)
	assert.Equal(t, "failed", body[0]["status"])
	assert.Nil(t, body[0]["output_file"])
	assert.NotNil(t, body[0]["error"])
}

func TestConvertBatchDefaultsToJPEG(t *testing.T) {
	s := newServer(t)
	req := multipartRequest(t, "/convert-batch", []upload{{"files", "a.dcm", dicomBytes(t)}}, nil)

	w := serve(s, req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var body []fileView
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Len(t, body, 1)
	require.Len(t, body[0].Outputs, 1)
	assert.Equal(t, "jpeg", body[0].Outputs[0].Format)
	assert.Equal(t, "success", body[0].Outputs[0].Status)
}

func TestInvalidTrustedProxiesAreLogged(t *testing.T) {
	var logs bytes.Buffer
	s := newServer(t)
	s.TrustedProxies = []string{"not-an-address"}
	s.Logger = hclog.New(&hclog.LoggerOptions{Output: &logs, Level: hclog.Warn})

	w := serve(s, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, logs.String(), "invalid trusted proxies")
}
