package stage

import (
	"bytes"
	"encoding/json"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
)

// Leaf is a scalar value found in a decoded stage message.
type Leaf struct {
	// Space is the namespace the value was declared in, empty if none.
	Space string
	// Local is the unqualified field name.
	Local string
	// Value is the textual form of the value.
	Value string
	// Nil marks explicitly null values (xsi:nil or JSON null).
	Nil bool
}

// Document is a decoded stage message flattened to its scalar leaves,
// in document order.
type Document struct {
	Leaves []Leaf
}

// FaultError is returned when a stage answers with a SOAP fault.
type FaultError struct {
	Code   string
	String string
}

func (e *FaultError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("stage fault: %s", e.String)
	}
	return fmt.Sprintf("stage fault %s: %s", e.Code, e.String)
}

// ErrEmptyDocument is returned when a message carries no values at all.
var ErrEmptyDocument = errors.New("empty document")

// ParseXML flattens a SOAP (or plain XML) message. Namespace prefixes are
// resolved to their URIs. A soap Fault element is reported as *FaultError.
func ParseXML(body []byte) (*Document, error) {
	dec := xml.NewDecoder(bytes.NewReader(body))

	type frame struct {
		name     xml.Name
		nil      bool
		text     strings.Builder
		children int
	}

	var (
		stack   []*frame
		doc     = &Document{}
		inFault bool
		fault   FaultError
		seenAny bool
	)

	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("decode xml: %w", err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			seenAny = true
			if len(stack) > 0 {
				stack[len(stack)-1].children++
			}
			f := &frame{name: t.Name}
			for _, a := range t.Attr {
				if a.Name.Local == "nil" && (a.Value == "true" || a.Value == "1") {
					f.nil = true
				}
			}
			if t.Name.Local == "Fault" {
				inFault = true
			}
			stack = append(stack, f)

		case xml.CharData:
			if len(stack) > 0 {
				stack[len(stack)-1].text.Write(t)
			}

		case xml.EndElement:
			if len(stack) == 0 {
				return nil, fmt.Errorf("decode xml: unbalanced element %s", t.Name.Local)
			}
			f := stack[len(stack)-1]
			stack = stack[:len(stack)-1]

			if f.children > 0 {
				continue
			}
			value := strings.TrimSpace(f.text.String())
			if inFault {
				switch f.name.Local {
				case "faultcode":
					fault.Code = value
				case "faultstring":
					fault.String = value
				}
				continue
			}
			doc.Leaves = append(doc.Leaves, Leaf{
				Space: f.name.Space,
				Local: f.name.Local,
				Value: value,
				Nil:   f.nil,
			})
		}
	}

	if inFault {
		return nil, &fault
	}
	if !seenAny {
		return nil, ErrEmptyDocument
	}

	return doc, nil
}

// ParseJSON flattens a JSON message. A leaf takes its namespace from the
// "namespace" key of the nearest enclosing object that declares one.
func ParseJSON(body []byte) (*Document, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()

	var root any
	if err := dec.Decode(&root); err != nil {
		return nil, fmt.Errorf("decode json: %w", err)
	}

	obj, ok := root.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("decode json: expected object, got %T", root)
	}

	doc := &Document{}
	flattenJSON(obj, "", doc)
	if len(doc.Leaves) == 0 {
		return nil, ErrEmptyDocument
	}

	return doc, nil
}

func flattenJSON(obj map[string]any, space string, doc *Document) {
	if ns, ok := obj["namespace"].(string); ok {
		space = ns
	}

	// Map iteration order is random; keep leaf order stable.
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		if k == "namespace" || k == "operation" {
			continue
		}
		switch v := obj[k].(type) {
		case map[string]any:
			// An object keyed by a namespace URI scopes its fields.
			if strings.Contains(k, ":") {
				flattenJSON(v, k, doc)
			} else {
				flattenJSON(v, space, doc)
			}
		case []any:
			// Stage messages are flat records; arrays carry nothing we read.
		case nil:
			doc.Leaves = append(doc.Leaves, jsonLeaf(space, k, "", true))
		case string:
			doc.Leaves = append(doc.Leaves, jsonLeaf(space, k, v, false))
		case json.Number:
			doc.Leaves = append(doc.Leaves, jsonLeaf(space, k, v.String(), false))
		case bool:
			doc.Leaves = append(doc.Leaves, jsonLeaf(space, k, fmt.Sprintf("%t", v), false))
		}
	}
}

// jsonLeaf splits qualified keys of the form "<namespace>:<field>".
func jsonLeaf(space, key, value string, isNil bool) Leaf {
	if i := strings.LastIndex(key, ":"); i > 0 && i < len(key)-1 {
		space, key = key[:i], key[i+1:]
	}
	return Leaf{Space: space, Local: key, Value: value, Nil: isNil}
}
