package handlers_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	miniredis "github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"

	redrepo "github.com/lucaszub/background-remover/internal/repo/redis"
	"github.com/lucaszub/background-remover/internal/services/quota"
	"github.com/lucaszub/background-remover/internal/transport/http/dto"
	"github.com/lucaszub/background-remover/internal/transport/http/handlers"
)

func TestQuotaHandlerAnonymous(t *testing.T) {
	mini, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	defer mini.Close()
	client := goredis.NewClient(&goredis.Options{Addr: mini.Addr()})
	defer client.Close()

	service := quota.NewService(nil, redrepo.NewAnonQuotaRepo(client), nil, quota.Limits{}, nil, nil)
	handler := handlers.NewQuotaHandler(service)

	req := httptest.NewRequest(http.MethodGet, "/api/quota", nil)
	req.Header.Set("X-Real-IP", "203.0.113.7")

	rr := httptest.NewRecorder()
	handler.Handle(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("unexpected status %d body %s", rr.Code, rr.Body.String())
	}

	var payload dto.QuotaResponse
	if err := json.NewDecoder(rr.Body).Decode(&payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if payload.Authenticated {
		t.Fatalf("anonymous caller should not be authenticated")
	}
	if payload.Limit != 5 || payload.Remaining != 5 || !payload.CanUse {
		t.Fatalf("unexpected snapshot: %+v", payload)
	}
	if payload.Status != "safe" {
		t.Fatalf("fresh quota should be safe, got %q", payload.Status)
	}
}
