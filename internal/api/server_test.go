package api

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"scribeline/internal/audit"
	"scribeline/internal/pipeline"
	"scribeline/internal/stage"
	"scribeline/internal/store"
	"scribeline/internal/testsupport"
)

func newTestServer(t *testing.T, token string) (*Server, *store.Store, *audit.Log) {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	cfg.Paths.APIToken = token
	st := testsupport.MustOpenStore(t, cfg)
	crypto := testsupport.NewCryptoManager(t, st)
	auditLog := testsupport.NewAuditLog(t, st)
	scheduler := pipeline.NewScheduler(cfg, st, crypto, auditLog, stage.Registry{}, nil)
	return NewServer(cfg, st, crypto, auditLog, scheduler, nil), st, auditLog
}

func doJSON(t *testing.T, handler http.Handler, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, req)
	return recorder
}

func TestSubmitAndGet(t *testing.T) {
	server, _, _ := newTestServer(t, "")
	handler := server.Handler()

	resp := doJSON(t, handler, http.MethodPost, "/api/appointments", "", submitRequest{
		PatientRef: "patient-42",
		Audio:      base64.StdEncoding.EncodeToString([]byte("visit audio")),
	})
	if resp.Code != http.StatusCreated {
		t.Fatalf("submit status = %d, body %s", resp.Code, resp.Body.String())
	}
	var created appointmentView
	if err := json.Unmarshal(resp.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode submit response: %v", err)
	}
	if created.Status != string(store.StatusRecorded) {
		t.Errorf("created status = %s, want recorded", created.Status)
	}

	resp = doJSON(t, handler, http.MethodGet, "/api/appointments/"+created.ID, "", nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("get status = %d", resp.Code)
	}
	var fetched appointmentView
	if err := json.Unmarshal(resp.Body.Bytes(), &fetched); err != nil {
		t.Fatalf("decode get response: %v", err)
	}
	if fetched.PatientRef != "patient-42" {
		t.Errorf("patient_ref = %s, want patient-42", fetched.PatientRef)
	}
}

func TestGetUnknownAppointment(t *testing.T) {
	server, _, _ := newTestServer(t, "")

	resp := doJSON(t, server.Handler(), http.MethodGet, "/api/appointments/nope", "", nil)
	if resp.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.Code)
	}
}

func TestSubmitValidation(t *testing.T) {
	server, _, _ := newTestServer(t, "")
	handler := server.Handler()

	resp := doJSON(t, handler, http.MethodPost, "/api/appointments", "", submitRequest{
		PatientRef: "",
		Audio:      base64.StdEncoding.EncodeToString([]byte("audio")),
	})
	if resp.Code != http.StatusBadRequest {
		t.Errorf("blank patient_ref status = %d, want 400", resp.Code)
	}

	resp = doJSON(t, handler, http.MethodPost, "/api/appointments", "", submitRequest{
		PatientRef: "patient-1",
		Audio:      "not base64!!",
	})
	if resp.Code != http.StatusBadRequest {
		t.Errorf("bad base64 status = %d, want 400", resp.Code)
	}
}

func TestListFiltersByStatus(t *testing.T) {
	server, st, _ := newTestServer(t, "")
	handler := server.Handler()
	ctx := context.Background()

	for _, id := range []string{"a", "b"} {
		if err := st.Create(ctx, &store.Appointment{ID: id, PatientRef: "p"}); err != nil {
			t.Fatalf("create: %v", err)
		}
	}
	if err := st.MarkFailed(ctx, "b", "boom"); err != nil {
		t.Fatalf("mark failed: %v", err)
	}

	resp := doJSON(t, handler, http.MethodGet, "/api/appointments?status=failed", "", nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("list status = %d", resp.Code)
	}
	var views []appointmentView
	if err := json.Unmarshal(resp.Body.Bytes(), &views); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(views) != 1 || views[0].ID != "b" {
		t.Errorf("filtered list = %+v, want only b", views)
	}

	resp = doJSON(t, handler, http.MethodGet, "/api/appointments?status=bogus", "", nil)
	if resp.Code != http.StatusBadRequest {
		t.Errorf("bogus status filter = %d, want 400", resp.Code)
	}
}

func TestArtifactReadDecryptsAndAudits(t *testing.T) {
	server, _, auditLog := newTestServer(t, "")
	handler := server.Handler()

	resp := doJSON(t, handler, http.MethodPost, "/api/appointments", "", submitRequest{
		PatientRef: "patient-1",
		Audio:      base64.StdEncoding.EncodeToString([]byte("raw audio")),
	})
	if resp.Code != http.StatusCreated {
		t.Fatalf("submit status = %d", resp.Code)
	}
	var created appointmentView
	if err := json.Unmarshal(resp.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode submit: %v", err)
	}

	resp = doJSON(t, handler, http.MethodGet, "/api/appointments/"+created.ID+"/artifacts/audio", "", nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("artifact status = %d, body %s", resp.Code, resp.Body.String())
	}
	if resp.Body.String() != "raw audio" {
		t.Errorf("artifact body = %q, want decrypted audio", resp.Body.String())
	}

	accessed := 0
	for event, err := range auditLog.EventsFor(context.Background(), created.ID) {
		if err != nil {
			t.Fatalf("EventsFor yielded error: %v", err)
		}
		if event.Action == audit.ActionKeyAccessed {
			accessed++
		}
	}
	if accessed != 1 {
		t.Errorf("KEY_ACCESSED count = %d, want 1", accessed)
	}
}

func TestArtifactMissingKind(t *testing.T) {
	server, _, _ := newTestServer(t, "")
	handler := server.Handler()

	resp := doJSON(t, handler, http.MethodPost, "/api/appointments", "", submitRequest{
		PatientRef: "patient-1",
		Audio:      base64.StdEncoding.EncodeToString([]byte("raw audio")),
	})
	var created appointmentView
	if err := json.Unmarshal(resp.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode submit: %v", err)
	}

	resp = doJSON(t, handler, http.MethodGet, "/api/appointments/"+created.ID+"/artifacts/transcript", "", nil)
	if resp.Code != http.StatusNotFound {
		t.Errorf("missing artifact status = %d, want 404", resp.Code)
	}

	resp = doJSON(t, handler, http.MethodGet, "/api/appointments/"+created.ID+"/artifacts/blueprint", "", nil)
	if resp.Code != http.StatusBadRequest {
		t.Errorf("unknown kind status = %d, want 400", resp.Code)
	}
}

func TestAuditVerifyEndpoint(t *testing.T) {
	server, st, auditLog := newTestServer(t, "")
	handler := server.Handler()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := auditLog.Append(ctx, audit.ActionStateChange, "appt-x", "step"); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	resp := doJSON(t, handler, http.MethodGet, "/api/audit/verify", "", nil)
	var view verifyView
	if err := json.Unmarshal(resp.Body.Bytes(), &view); err != nil {
		t.Fatalf("decode verify: %v", err)
	}
	if !view.OK || view.Events != 3 {
		t.Errorf("verify = %+v, want ok with 3 events", view)
	}

	if _, err := st.DB().ExecContext(ctx, `UPDATE audit_events SET details = 'edited' WHERE seq = 2`); err != nil {
		t.Fatalf("tamper: %v", err)
	}
	resp = doJSON(t, handler, http.MethodGet, "/api/audit/verify", "", nil)
	if err := json.Unmarshal(resp.Body.Bytes(), &view); err != nil {
		t.Fatalf("decode verify: %v", err)
	}
	if view.OK || view.BrokenSeq != 2 {
		t.Errorf("verify after tamper = %+v, want broken_seq 2", view)
	}
}

func TestBearerTokenRequired(t *testing.T) {
	server, _, _ := newTestServer(t, "secret-token")
	handler := server.Handler()

	resp := doJSON(t, handler, http.MethodGet, "/api/appointments", "", nil)
	if resp.Code != http.StatusUnauthorized {
		t.Errorf("unauthenticated status = %d, want 401", resp.Code)
	}

	resp = doJSON(t, handler, http.MethodGet, "/api/appointments", "wrong", nil)
	if resp.Code != http.StatusUnauthorized {
		t.Errorf("wrong token status = %d, want 401", resp.Code)
	}

	resp = doJSON(t, handler, http.MethodGet, "/api/appointments", "secret-token", nil)
	if resp.Code != http.StatusOK {
		t.Errorf("authenticated status = %d, want 200", resp.Code)
	}

	// Liveness stays open for probes.
	resp = doJSON(t, handler, http.MethodGet, "/api/healthz", "", nil)
	if resp.Code != http.StatusOK {
		t.Errorf("healthz status = %d, want 200", resp.Code)
	}
}

func TestStatusEndpoint(t *testing.T) {
	server, st, _ := newTestServer(t, "")
	handler := server.Handler()
	ctx := context.Background()

	if err := st.Create(ctx, &store.Appointment{ID: "a", PatientRef: "p"}); err != nil {
		t.Fatalf("create: %v", err)
	}

	resp := doJSON(t, handler, http.MethodGet, "/api/status", "", nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("status endpoint = %d", resp.Code)
	}
	var view statusView
	if err := json.Unmarshal(resp.Body.Bytes(), &view); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if view.Health.Total != 1 || view.Health.Ready != 1 {
		t.Errorf("health = %+v, want one ready appointment", view.Health)
	}
	if view.Running {
		t.Error("scheduler reported running before Start")
	}
}

func TestLogsEndpoint(t *testing.T) {
	server, _, _ := newTestServer(t, "")
	handler := server.Handler()

	logPath := server.cfg.DaemonLogPath()
	if err := os.WriteFile(logPath, []byte("line one\nline two\n"), 0o600); err != nil {
		t.Fatalf("write log file: %v", err)
	}

	resp := doJSON(t, handler, http.MethodGet, "/api/logs?offset=0", "", nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("logs status = %d, body %s", resp.Code, resp.Body.String())
	}
	var page logsView
	if err := json.Unmarshal(resp.Body.Bytes(), &page); err != nil {
		t.Fatalf("decode logs response: %v", err)
	}
	if len(page.Lines) != 2 || page.Lines[1] != "line two" {
		t.Errorf("lines = %v", page.Lines)
	}

	// Resume from the returned offset picks up only appended lines.
	f, err := os.OpenFile(logPath, os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		t.Fatalf("open log for append: %v", err)
	}
	if _, err := f.WriteString("line three\n"); err != nil {
		t.Fatalf("append: %v", err)
	}
	f.Close()

	resp = doJSON(t, handler, http.MethodGet, fmt.Sprintf("/api/logs?offset=%d", page.NextOffset), "", nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("logs resume status = %d", resp.Code)
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &page); err != nil {
		t.Fatalf("decode logs response: %v", err)
	}
	if len(page.Lines) != 1 || page.Lines[0] != "line three" {
		t.Errorf("resumed lines = %v", page.Lines)
	}
}

func TestLogsEndpointRejectsBadOffset(t *testing.T) {
	server, _, _ := newTestServer(t, "")

	resp := doJSON(t, server.Handler(), http.MethodGet, "/api/logs?offset=abc", "", nil)
	if resp.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.Code)
	}
}

func TestArtifactReadDetectsTamperedBlob(t *testing.T) {
	server, st, _ := newTestServer(t, "")
	handler := server.Handler()

	resp := doJSON(t, handler, http.MethodPost, "/api/appointments", "", submitRequest{
		PatientRef: "patient-1",
		Audio:      base64.StdEncoding.EncodeToString([]byte("raw audio")),
	})
	if resp.Code != http.StatusCreated {
		t.Fatalf("submit status = %d", resp.Code)
	}
	var created appointmentView
	if err := json.Unmarshal(resp.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode submit: %v", err)
	}

	descriptor, err := st.ArtifactByKind(context.Background(), created.ID, store.ArtifactAudio)
	if err != nil {
		t.Fatalf("artifact descriptor: %v", err)
	}
	blob, err := os.ReadFile(descriptor.Path)
	if err != nil {
		t.Fatalf("read blob: %v", err)
	}
	blob[len(blob)-1] ^= 0xff
	if err := os.WriteFile(descriptor.Path, blob, 0o600); err != nil {
		t.Fatalf("write tampered blob: %v", err)
	}

	resp = doJSON(t, handler, http.MethodGet, "/api/appointments/"+created.ID+"/artifacts/audio", "", nil)
	if resp.Code != http.StatusInternalServerError {
		t.Fatalf("tampered artifact status = %d, want 500", resp.Code)
	}
	if !strings.Contains(resp.Body.String(), "checksum mismatch") {
		t.Errorf("tampered artifact body = %q", resp.Body.String())
	}
}
