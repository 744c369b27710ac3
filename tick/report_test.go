package tick_test

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/xraph/settle/id"
	"github.com/xraph/settle/tick"
)

func TestReportJSON(t *testing.T) {
	r := &tick.Report{ID: id.NewTickID(), Fetched: 3, Errors: []string{"REF1: status check: boom"}}

	data, err := json.Marshal(r)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if !strings.Contains(string(data), `"id":"tick_`) {
		t.Errorf("id not encoded as tick TypeID: %s", data)
	}

	var out tick.Report
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if out.ID.Prefix() != id.PrefixTick {
		t.Errorf("Prefix: got %q, want %q", out.ID.Prefix(), id.PrefixTick)
	}
	if out.Idle() || !out.HasErrors() {
		t.Errorf("Idle=%v HasErrors=%v, want false/true", out.Idle(), out.HasErrors())
	}
}
