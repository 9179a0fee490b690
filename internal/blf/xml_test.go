package blf

import (
	"strings"
	"testing"

	"github.com/Badareenadh/sip-event-processor/internal/model"
)

func TestBuildDialogInfoOutboundOrdering(t *testing.T) {
	body, err := BuildDialogInfo(1, "sip:200@test.com", "call-1", "outbound",
		model.CallStateConfirmed, "sip:200@test.com", "sip:300@test.com", "call-1")
	if err != nil {
		t.Fatalf("BuildDialogInfo: %v", err)
	}
	localIdx := strings.Index(body, "<local>")
	remoteIdx := strings.Index(body, "<remote>")
	if localIdx == -1 || remoteIdx == -1 {
		t.Fatalf("expected both local and remote elements, got %s", body)
	}
	if localIdx > remoteIdx {
		t.Fatalf("outbound call must place <local> before <remote>, got %s", body)
	}
	if !strings.Contains(body, "<identity>sip:200@test.com</identity>") {
		t.Fatalf("expected watched line identity present: %s", body)
	}
	if !strings.Contains(body, "<state>confirmed</state>") {
		t.Fatalf("expected confirmed state: %s", body)
	}
}

func TestBuildDialogInfoInboundOrdering(t *testing.T) {
	body, err := BuildDialogInfo(1, "sip:300@test.com", "call-1", "inbound",
		model.CallStateRinging, "sip:200@test.com", "sip:300@test.com", "call-1")
	if err != nil {
		t.Fatalf("BuildDialogInfo: %v", err)
	}
	localIdx := strings.Index(body, "<local>")
	remoteIdx := strings.Index(body, "<remote>")
	if remoteIdx > localIdx {
		t.Fatalf("inbound call must place <remote> before <local>, got %s", body)
	}
	if !strings.Contains(body, "<state>early</state>") {
		t.Fatalf("expected early state for ringing: %s", body)
	}
}

func TestBuildDialogInfoTerminatedNoPresenceCallIDOmitsDialog(t *testing.T) {
	body, err := BuildDialogInfo(1, "sip:200@test.com", "", "", model.CallStateTerminated, "", "", "")
	if err != nil {
		t.Fatalf("BuildDialogInfo: %v", err)
	}
	if strings.Contains(body, "<dialog ") {
		t.Fatalf("expected no dialog element in empty-state envelope, got %s", body)
	}
	if !strings.Contains(body, `entity="sip:200@test.com"`) {
		t.Fatalf("expected entity attribute present, got %s", body)
	}
}

func TestBuildDialogInfoCallStateMapping(t *testing.T) {
	cases := []struct {
		state model.CallState
		want  string
	}{
		{model.CallStateTrying, "trying"},
		{model.CallStateRinging, "early"},
		{model.CallStateConfirmed, "confirmed"},
		{model.CallStateHeld, "confirmed"},
		{model.CallStateResumed, "confirmed"},
		{model.CallStateTerminated, "terminated"},
	}
	for _, tc := range cases {
		body, err := BuildDialogInfo(1, "sip:200@test.com", "call-1", "inbound", tc.state, "a", "b", "call-1")
		if err != nil {
			t.Fatalf("BuildDialogInfo(%v): %v", tc.state, err)
		}
		want := "<state>" + tc.want + "</state>"
		if !strings.Contains(body, want) {
			t.Fatalf("state %v: expected %q in %s", tc.state, want, body)
		}
	}
}

func TestParseDialogInfoExtractsEntityAndState(t *testing.T) {
	body := `<?xml version="1.0"?><dialog-info xmlns="urn:ietf:params:xml:ns:dialog-info" version="1" state="full" entity="sip:200@test.com"><dialog id="x" call-id="x"><state>confirmed</state></dialog></dialog-info>`
	parsed := ParseDialogInfo(body)
	if parsed.Entity != "sip:200@test.com" {
		t.Fatalf("Entity = %q", parsed.Entity)
	}
	if parsed.State != "confirmed" {
		t.Fatalf("State = %q", parsed.State)
	}
}

func TestParseDialogInfoMalformedReturnsZeroValue(t *testing.T) {
	parsed := ParseDialogInfo("not xml at all")
	if parsed.Entity != "" || parsed.State != "" {
		t.Fatalf("expected zero value for malformed input, got %+v", parsed)
	}
}

func TestParseDialogInfoTolerantOfUnknownChildren(t *testing.T) {
	body := `<dialog-info entity="sip:1@a.com"><dialog><state>trying</state><unknown-thing/></dialog></dialog-info>`
	parsed := ParseDialogInfo(body)
	if parsed.State != "trying" {
		t.Fatalf("State = %q, want trying", parsed.State)
	}
}
