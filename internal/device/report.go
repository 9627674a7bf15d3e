package device

import (
	"fmt"
	"strconv"
	"unicode/utf8"

	"github.com/eliteGoblin/camelpad/internal/domain"
)

const (
	// ReportSize is the fixed HID report length in both directions.
	ReportSize = 64

	// MsgDisplayText is the opcode of an outbound text report.
	MsgDisplayText = 0x01
	// MsgButton is the opcode of an inbound button-edge report.
	MsgButton = 0x02
)

// Edge is a decoded button transition.
type Edge struct {
	Input   domain.InputID
	Pressed bool
}

// InputName returns the identifier of the button at index.
func InputName(index byte) domain.InputID {
	return domain.InputID("key" + strconv.Itoa(int(index)))
}

// EncodeText builds a display-text report. Text longer than the report
// payload is cut at a rune boundary; the rest of the report is zero.
func EncodeText(text string) []byte {
	buf := make([]byte, ReportSize)
	buf[0] = MsgDisplayText
	copy(buf[1:], truncateUTF8(text, ReportSize-1))
	return buf
}

// DecodeEdge parses an inbound report. Reports that are short or carry
// another opcode return ok=false.
func DecodeEdge(report []byte) (Edge, bool) {
	if len(report) < 3 || report[0] != MsgButton {
		return Edge{}, false
	}
	return Edge{
		Input:   InputName(report[1]),
		Pressed: report[2] == 1,
	}, true
}

func truncateUTF8(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

// FormatID renders a vendor or product id as 0x%04x.
func FormatID(id uint16) string {
	return fmt.Sprintf("0x%04x", id)
}
