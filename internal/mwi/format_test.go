package mwi

import "testing"

func TestParseSummaryBasic(t *testing.T) {
	body := "Messages-Waiting: yes\r\nMessage-Account: sip:200@test.com\r\nVoice-Message: 4/7\r\n"
	s := ParseSummary(body)
	if !s.MessagesWaiting {
		t.Fatalf("MessagesWaiting = false, want true")
	}
	if s.Account != "sip:200@test.com" {
		t.Fatalf("Account = %q", s.Account)
	}
	if s.New != 4 || s.Old != 7 {
		t.Fatalf("New/Old = %d/%d, want 4/7", s.New, s.Old)
	}
	if s.HasUrgent {
		t.Fatalf("HasUrgent = true, want false")
	}
}

func TestParseSummaryWithUrgentCounts(t *testing.T) {
	body := "Messages-Waiting: yes\nVoice-Message: 4/7 (1/2)\n"
	s := ParseSummary(body)
	if !s.HasUrgent {
		t.Fatalf("HasUrgent = false, want true")
	}
	if s.NewUrgent != 1 || s.OldUrgent != 2 {
		t.Fatalf("NewUrgent/OldUrgent = %d/%d, want 1/2", s.NewUrgent, s.OldUrgent)
	}
}

func TestParseSummaryCaseInsensitiveHeaders(t *testing.T) {
	body := "MESSAGES-WAITING: NO\r\nmessage-account:   sip:1@a.com  \r\n"
	s := ParseSummary(body)
	if s.MessagesWaiting {
		t.Fatalf("MessagesWaiting = true, want false")
	}
	if s.Account != "sip:1@a.com" {
		t.Fatalf("Account = %q", s.Account)
	}
}

func TestBuildSummaryRoundTrip(t *testing.T) {
	in := Summary{MessagesWaiting: true, Account: "sip:1@a.com", New: 3, Old: 5, HasUrgent: true, NewUrgent: 1, OldUrgent: 0}
	body := BuildSummary(in)
	out := ParseSummary(body)
	if out != in {
		t.Fatalf("round trip mismatch: in=%+v out=%+v body=%q", in, out, body)
	}
}

func TestParseSummaryIgnoresUnknownLines(t *testing.T) {
	body := "X-Vendor-Extension: whatever\r\nMessages-Waiting: yes\r\n"
	s := ParseSummary(body)
	if !s.MessagesWaiting {
		t.Fatalf("expected known header parsed despite unknown line")
	}
}
