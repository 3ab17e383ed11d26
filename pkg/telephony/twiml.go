package telephony

import (
	"encoding/xml"
	"fmt"
)

type twimlResponse struct {
	XMLName xml.Name      `xml:"Response"`
	Say     string        `xml:"Say,omitempty"`
	Connect *twimlConnect `xml:"Connect,omitempty"`
}

type twimlConnect struct {
	Stream twimlStream `xml:"Stream"`
}

type twimlStream struct {
	URL string `xml:"url,attr"`
}

// ConnectStreamTwiML renders the voice webhook response that greets the caller
// and connects the call to the bidirectional media stream endpoint.
func ConnectStreamTwiML(greeting, streamURL string) ([]byte, error) {
	doc := twimlResponse{
		Say:     greeting,
		Connect: &twimlConnect{Stream: twimlStream{URL: streamURL}},
	}

	body, err := xml.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("marshal twiml: %w", err)
	}
	return append([]byte(xml.Header), body...), nil
}
