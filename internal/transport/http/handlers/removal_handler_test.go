package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"testing"
	"time"

	"github.com/lucaszub/background-remover/internal/services/quota"
	removalsvc "github.com/lucaszub/background-remover/internal/services/removal"
	"github.com/lucaszub/background-remover/internal/transport/http/handlers"
)

type stubLedger struct {
	snapshot quota.Snapshot
}

func (l *stubLedger) Check(context.Context, quota.Identity) (quota.Snapshot, error) {
	return l.snapshot, nil
}

func (l *stubLedger) Consume(context.Context, quota.Identity, quota.UsageMeta) (quota.Snapshot, error) {
	if l.snapshot.Remaining <= 0 {
		return l.snapshot, quota.ErrQuotaExceeded
	}
	l.snapshot.Usage++
	l.snapshot.Remaining--
	l.snapshot.CanUse = l.snapshot.Remaining > 0
	return l.snapshot, nil
}

type stubProcessor struct {
	response []byte
	err      error
}

func (p *stubProcessor) Process(context.Context, string, string, []byte) ([]byte, error) {
	if p.err != nil {
		return nil, p.err
	}
	return p.response, nil
}

func multipartBody(t *testing.T, field, filename, contentType string, data []byte) (*bytes.Buffer, string) {
	t.Helper()

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, field, filename))
	header.Set("Content-Type", contentType)
	part, err := writer.CreatePart(header)
	if err != nil {
		t.Fatalf("create part: %v", err)
	}
	if _, err := part.Write(data); err != nil {
		t.Fatalf("write part: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}
	return &body, writer.FormDataContentType()
}

func TestRemovalHandlerSuccess(t *testing.T) {
	ledger := &stubLedger{snapshot: quota.Snapshot{
		Limit:     5,
		Remaining: 5,
		CanUse:    true,
		ResetAt:   time.Now().UTC().Add(time.Hour),
	}}
	service := removalsvc.NewService(ledger, &stubProcessor{response: []byte("png-bytes")}, nil, 0, nil)
	handler := handlers.NewRemovalHandler(service)

	body, contentType := multipartBody(t, "file", "photo.jpg", "image/jpeg", []byte("jpeg-bytes"))
	req := httptest.NewRequest(http.MethodPost, "/api/remove-background", body)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("X-Forwarded-For", "203.0.113.7")

	rr := httptest.NewRecorder()
	handler.Handle(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("unexpected status: got %d body %s", rr.Code, rr.Body.String())
	}
	if got := rr.Header().Get("Content-Disposition"); got != `attachment; filename="background-removed.png"` {
		t.Fatalf("unexpected disposition %q", got)
	}
	if rr.Header().Get("Content-Type") != "image/png" {
		t.Fatalf("unexpected content type %q", rr.Header().Get("Content-Type"))
	}
	if rr.Header().Get("X-Quota-Usage") != "1" || rr.Header().Get("X-Quota-Remaining") != "4" {
		t.Fatalf("unexpected quota headers: usage=%s remaining=%s",
			rr.Header().Get("X-Quota-Usage"), rr.Header().Get("X-Quota-Remaining"))
	}
	if !bytes.Equal(rr.Body.Bytes(), []byte("png-bytes")) {
		t.Fatalf("unexpected body")
	}
}

func TestRemovalHandlerQuotaExceeded(t *testing.T) {
	ledger := &stubLedger{snapshot: quota.Snapshot{
		Usage:   5,
		Limit:   5,
		CanUse:  false,
		Message: "Daily limit reached. Try again after the reset.",
		ResetAt: time.Now().UTC().Add(time.Hour),
	}}
	service := removalsvc.NewService(ledger, &stubProcessor{response: []byte("png")}, nil, 0, nil)
	handler := handlers.NewRemovalHandler(service)

	body, contentType := multipartBody(t, "file", "photo.png", "image/png", []byte("png-in"))
	req := httptest.NewRequest(http.MethodPost, "/api/remove-background", body)
	req.Header.Set("Content-Type", contentType)

	rr := httptest.NewRecorder()
	handler.Handle(rr, req)

	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("unexpected status %d", rr.Code)
	}

	var payload struct {
		Code      string `json:"code"`
		Usage     int    `json:"usage"`
		Limit     int    `json:"limit"`
		Remaining int    `json:"remaining"`
	}
	if err := json.NewDecoder(rr.Body).Decode(&payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if payload.Code != "QUOTA_EXCEEDED" || payload.Usage != 5 || payload.Limit != 5 || payload.Remaining != 0 {
		t.Fatalf("unexpected payload: %+v", payload)
	}
}

func TestRemovalHandlerUpstreamFailure(t *testing.T) {
	ledger := &stubLedger{snapshot: quota.Snapshot{Limit: 5, Remaining: 5, CanUse: true}}
	service := removalsvc.NewService(ledger, &stubProcessor{err: removalsvc.ErrUpstream}, nil, 0, nil)
	handler := handlers.NewRemovalHandler(service)

	body, contentType := multipartBody(t, "file", "photo.png", "image/png", []byte("png-in"))
	req := httptest.NewRequest(http.MethodPost, "/api/remove-background", body)
	req.Header.Set("Content-Type", contentType)

	rr := httptest.NewRecorder()
	handler.Handle(rr, req)

	if rr.Code != http.StatusBadGateway {
		t.Fatalf("unexpected status %d", rr.Code)
	}
}

func TestRemovalHandlerRejectsUnsupportedType(t *testing.T) {
	ledger := &stubLedger{snapshot: quota.Snapshot{Limit: 5, Remaining: 5, CanUse: true}}
	service := removalsvc.NewService(ledger, &stubProcessor{response: []byte("png")}, nil, 0, nil)
	handler := handlers.NewRemovalHandler(service)

	body, contentType := multipartBody(t, "file", "doc.tiff", "image/tiff", []byte("tiff"))
	req := httptest.NewRequest(http.MethodPost, "/api/remove-background", body)
	req.Header.Set("Content-Type", contentType)

	rr := httptest.NewRecorder()
	handler.Handle(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("unexpected status %d", rr.Code)
	}
}

func TestRemovalHandlerMissingFile(t *testing.T) {
	ledger := &stubLedger{snapshot: quota.Snapshot{Limit: 5, Remaining: 5, CanUse: true}}
	service := removalsvc.NewService(ledger, &stubProcessor{response: []byte("png")}, nil, 0, nil)
	handler := handlers.NewRemovalHandler(service)

	req := httptest.NewRequest(http.MethodPost, "/api/remove-background", bytes.NewBufferString("{}"))
	req.Header.Set("Content-Type", "application/json")

	rr := httptest.NewRecorder()
	handler.Handle(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("unexpected status %d", rr.Code)
	}
}
