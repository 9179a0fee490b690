package blf

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"strings"

	"github.com/Badareenadh/sip-event-processor/internal/model"
)

// dialogInfoDoc mirrors the RFC 4235 dialog-info+xml envelope this
// processor builds and parses, using encoding/xml struct tags the way
// other_examples/alephcom-teams-sip-blf__parser.go does.
type dialogInfoDoc struct {
	XMLName xml.Name    `xml:"dialog-info"`
	XMLNS   string      `xml:"xmlns,attr"`
	Version int         `xml:"version,attr"`
	State   string      `xml:"state,attr"`
	Entity  string      `xml:"entity,attr"`
	Dialog  *dialogElem `xml:"dialog,omitempty"`
}

type dialogElem struct {
	ID        string     `xml:"id,attr"`
	CallID    string     `xml:"call-id,attr"`
	Direction string     `xml:"direction,attr"`
	State     string     `xml:"state"`
	Parties   []party    `xml:",any"`
}

// party is a <local> or <remote> child; its element name comes from
// XMLName, so the slice order is the order the elements are written in.
type party struct {
	XMLName  xml.Name
	Identity string `xml:"identity"`
}

// dialogState maps a presence CallState to the dialog-info <state> text.
// CallStateUnknown never reaches here: BuildDialogInfo omits the <dialog>
// element entirely whenever there is no known presence-call-id, which is
// the only time the state is Unknown.
func dialogState(s model.CallState) string {
	switch s {
	case model.CallStateTrying:
		return "trying"
	case model.CallStateRinging:
		return "early"
	case model.CallStateConfirmed, model.CallStateHeld, model.CallStateResumed:
		return "confirmed"
	case model.CallStateTerminated:
		return "terminated"
	default:
		return "terminated"
	}
}

// BuildDialogInfo renders the NOTIFY body for a BLF watcher. When there is
// no known presence-call-id (an idle line — no in-progress call has ever
// been observed, or the last one fully terminated), the envelope carries
// no <dialog> child, matching an initial or final empty-state NOTIFY.
//
// Direction-sensitive ordering: on an outbound call the watched line is the
// caller, so its identity goes in <local> and the remote party in <remote>;
// on inbound the watched line is the callee, so the roles swap. This mirrors
// the spec's encoding of the corpus's direction-sensitive element order
// (see SPEC_FULL.md design notes on the open question).
func BuildDialogInfo(version int, monitoredURI string, callID string, direction string, state model.CallState, callerURI, calleeURI string, presenceCallID string) (string, error) {
	doc := dialogInfoDoc{
		XMLNS:   "urn:ietf:params:xml:ns:dialog-info",
		Version: version,
		State:   "full",
		Entity:  monitoredURI,
	}

	if presenceCallID != "" {
		d := &dialogElem{
			ID:        callID,
			CallID:    callID,
			Direction: direction,
			State:     dialogState(state),
		}
		if callerURI != "" || calleeURI != "" {
			if strings.EqualFold(direction, "outbound") {
				d.Parties = []party{
					{XMLName: xml.Name{Local: "local"}, Identity: callerURI},
					{XMLName: xml.Name{Local: "remote"}, Identity: calleeURI},
				}
			} else {
				d.Parties = []party{
					{XMLName: xml.Name{Local: "remote"}, Identity: callerURI},
					{XMLName: xml.Name{Local: "local"}, Identity: calleeURI},
				}
			}
		}
		doc.Dialog = d
	}

	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	enc := xml.NewEncoder(&buf)
	if err := enc.Encode(doc); err != nil {
		return "", fmt.Errorf("encode dialog-info: %w", err)
	}
	return buf.String(), nil
}

// ParsedDialogInfo is the subset of an incoming dialog-info+xml document the
// BLF processor needs when the SIP peer itself is the publisher.
type ParsedDialogInfo struct {
	Entity string
	State  string // raw <state> text, lowercased
}

// ParseDialogInfo tolerantly extracts entity and state from an incoming
// dialog-info+xml body. Unknown child elements are ignored; malformed XML
// yields a zero-value result rather than an error, consistent with the
// parser being a best-effort scan rather than a strict validator.
func ParseDialogInfo(body string) ParsedDialogInfo {
	var doc dialogInfoDoc
	if err := xml.Unmarshal([]byte(body), &doc); err != nil {
		return ParsedDialogInfo{}
	}
	state := ""
	if doc.Dialog != nil {
		state = strings.ToLower(strings.TrimSpace(doc.Dialog.State))
	}
	return ParsedDialogInfo{
		Entity: strings.TrimSpace(doc.Entity),
		State:  state,
	}
}
