package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"testing"

	"github.com/nerrad567/sitewatch-core/internal/adapter"
	"github.com/nerrad567/sitewatch-core/internal/audit"
)

func TestAudit_RecordsCommandsAndEdits(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(t, http.MethodPost, "/api/v1/controllers", map[string]any{
		"name": "Entry gate", "code": "FAKE", "host": "10.0.0.9",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d: %s", rec.Code, rec.Body)
	}
	id := decode[struct {
		ID int64 `json:"id"`
	}](t, rec).ID
	base := fmt.Sprintf("/api/v1/controllers/%d", id)

	env.do(t, http.MethodPost, base+"/gate/open", `{"lane":"1"}`)
	env.device.err = adapter.NewDeviceError(adapter.CapCloseGate, id, "1", adapter.ErrTimeout, errors.New("slow"))
	env.do(t, http.MethodPost, base+"/gate/close", `{"lane":"1"}`)

	rec = env.do(t, http.MethodGet, "/api/v1/audit?action=command&entity_id="+strconv.FormatInt(id, 10), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list status = %d: %s", rec.Code, rec.Body)
	}
	page := decode[audit.ListResult](t, rec)
	if page.Total != 2 {
		t.Fatalf("Total = %d, want 2: %+v", page.Total, page.Entries)
	}

	outcomes := map[string]string{}
	for _, e := range page.Entries {
		cmd, _ := e.Details["command"].(string) //nolint:errcheck // type assertion, not an error
		outcomes[cmd] = e.Outcome
		if e.Lane != "1" || e.Source != "api" || e.RequestID == "" {
			t.Errorf("entry = %+v", e)
		}
	}
	if outcomes["gate_open"] != audit.OutcomeOK || outcomes["gate_close"] != ErrCodeDeviceTimeout {
		t.Errorf("outcomes = %v", outcomes)
	}

	rec = env.do(t, http.MethodGet, "/api/v1/audit?action=create", nil)
	if page := decode[audit.ListResult](t, rec); page.Total != 1 {
		t.Errorf("create entries = %d, want 1", page.Total)
	}
}

func TestAudit_BadPaging(t *testing.T) {
	env := newTestEnv(t, nil)
	rec := env.do(t, http.MethodGet, "/api/v1/audit?limit=-3", nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}
