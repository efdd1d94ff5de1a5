package stage

import (
	"bytes"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"net/http"
	"strconv"
)

const soapEnvelopeNS = "http://schemas.xmlsoap.org/soap/envelope/"

// Param is one named scalar of a stage message.
type Param struct {
	Name  string
	Value any // string, float64, int or bool
}

// Message is a stage request or response ready for encoding.
type Message struct {
	Operation string
	Namespace string
	// Wrapper, when set, nests the params in one complex element.
	Wrapper string
	Params  []Param
}

// Codec encodes stage messages and decodes replies for one wire format.
type Codec interface {
	// Name identifies the codec in configuration ("soap", "json").
	Name() string
	// Header returns the HTTP headers to send with msg.
	Header(msg Message) http.Header
	// Encode serializes a request (or, for servers, a response).
	Encode(msg Message) ([]byte, error)
	// Decode flattens a received message.
	Decode(body []byte) (*Document, error)
}

// CodecByName returns the codec registered under name. An empty name selects SOAP.
func CodecByName(name string) (Codec, error) {
	switch name {
	case "", "soap":
		return SOAPCodec{}, nil
	case "json":
		return JSONCodec{}, nil
	default:
		return nil, fmt.Errorf("unknown stage codec %q (must be 'soap' or 'json')", name)
	}
}

// SOAPCodec speaks SOAP 1.1 envelopes.
type SOAPCodec struct{}

func (SOAPCodec) Name() string { return "soap" }

func (SOAPCodec) Header(msg Message) http.Header {
	h := http.Header{}
	h.Set("Content-Type", "text/xml; charset=utf-8")
	h.Set("Accept", "text/xml")
	h.Set("SOAPAction", msg.Operation)
	return h
}

func (SOAPCodec) Encode(msg Message) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(xml.Header)

	enc := xml.NewEncoder(&buf)

	envelope := xml.StartElement{
		Name: xml.Name{Local: "soapenv:Envelope"},
		Attr: []xml.Attr{
			{Name: xml.Name{Local: "xmlns:soapenv"}, Value: soapEnvelopeNS},
			{Name: xml.Name{Local: "xmlns:urn"}, Value: msg.Namespace},
		},
	}
	body := xml.StartElement{Name: xml.Name{Local: "soapenv:Body"}}
	op := xml.StartElement{Name: xml.Name{Local: "urn:" + msg.Operation}}

	open := []xml.StartElement{envelope, body, op}
	if msg.Wrapper != "" {
		open = append(open, xml.StartElement{Name: xml.Name{Local: "urn:" + msg.Wrapper}})
	}

	for _, el := range open {
		if err := enc.EncodeToken(el); err != nil {
			return nil, fmt.Errorf("encode envelope: %w", err)
		}
	}

	for _, p := range msg.Params {
		el := xml.StartElement{Name: xml.Name{Local: "urn:" + p.Name}}
		if err := enc.EncodeToken(el); err != nil {
			return nil, fmt.Errorf("encode param %s: %w", p.Name, err)
		}
		if err := enc.EncodeToken(xml.CharData(formatValue(p.Value))); err != nil {
			return nil, fmt.Errorf("encode param %s: %w", p.Name, err)
		}
		if err := enc.EncodeToken(el.End()); err != nil {
			return nil, fmt.Errorf("encode param %s: %w", p.Name, err)
		}
	}

	for i := len(open) - 1; i >= 0; i-- {
		if err := enc.EncodeToken(open[i].End()); err != nil {
			return nil, fmt.Errorf("encode envelope: %w", err)
		}
	}

	if err := enc.Flush(); err != nil {
		return nil, fmt.Errorf("encode envelope: %w", err)
	}

	return buf.Bytes(), nil
}

func (SOAPCodec) Decode(body []byte) (*Document, error) {
	return ParseXML(body)
}

// JSONCodec speaks webhook-style JSON bodies.
type JSONCodec struct{}

type jsonMessage struct {
	Operation string         `json:"operation,omitempty"`
	Namespace string         `json:"namespace"`
	Params    map[string]any `json:"params"`
}

func (JSONCodec) Name() string { return "json" }

func (JSONCodec) Header(msg Message) http.Header {
	h := http.Header{}
	h.Set("Content-Type", "application/json")
	h.Set("Accept", "application/json")
	return h
}

func (JSONCodec) Encode(msg Message) ([]byte, error) {
	params := make(map[string]any, len(msg.Params))
	for _, p := range msg.Params {
		params[p.Name] = p.Value
	}

	out := jsonMessage{
		Operation: msg.Operation,
		Namespace: msg.Namespace,
		Params:    params,
	}
	if msg.Wrapper != "" {
		out.Params = map[string]any{msg.Wrapper: params}
	}

	b, err := json.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("marshal stage message: %w", err)
	}
	return b, nil
}

func (JSONCodec) Decode(body []byte) (*Document, error) {
	return ParseJSON(body)
}

func formatValue(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	case bool:
		return strconv.FormatBool(t)
	case fmt.Stringer:
		return t.String()
	default:
		return fmt.Sprint(t)
	}
}
