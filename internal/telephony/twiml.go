package telephony

import (
	"encoding/xml"
	"strings"
)

// ConnectStreamTwiML renders the voice response the provider fetches when an
// outbound call answers. It connects the call to the media-stream websocket;
// the call stays on that stream until one side hangs up.
func ConnectStreamTwiML(streamURL string) string {
	var buf strings.Builder
	buf.WriteString(xml.Header)
	buf.WriteString(`<Response><Connect><Stream url="`)
	_ = xml.EscapeText(&buf, []byte(streamURL))
	buf.WriteString(`" track="inbound_track"/></Connect></Response>`)
	return buf.String()
}

// StreamURLFromBase derives the media-stream websocket URL from the service's
// public HTTP base URL.
func StreamURLFromBase(publicBaseURL string) string {
	base := strings.TrimRight(publicBaseURL, "/")
	base = strings.Replace(base, "https://", "wss://", 1)
	base = strings.Replace(base, "http://", "ws://", 1)
	return base + "/media-stream"
}
