package extract

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
)

// Kind tags the variant held by a Node.
type Kind int

// Node kinds.
const (
	KindNull Kind = iota
	KindBool
	KindNumber
	KindString
	KindArray
	KindObject
)

// Field is one member of a JSON object, in document order.
type Field struct {
	Key   string
	Value *Node
}

// Node is a decoded JSON value. Exactly the members matching Kind are set.
type Node struct {
	Kind   Kind
	Bool   bool
	Number json.Number
	String string
	Items  []*Node
	Fields []Field
}

// ParseJSON decodes a single JSON document into a Node tree. Trailing data
// after the document is an error.
func ParseJSON(body []byte) (*Node, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	root, err := parseValue(dec)
	if err != nil {
		return nil, err
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, errors.New("trailing data after json document")
	}
	return root, nil
}

func parseValue(dec *json.Decoder) (*Node, error) {
	tok, err := dec.Token()
	if err != nil {
		return nil, fmt.Errorf("read json token: %w", err)
	}
	switch v := tok.(type) {
	case nil:
		return &Node{Kind: KindNull}, nil
	case bool:
		return &Node{Kind: KindBool, Bool: v}, nil
	case json.Number:
		return &Node{Kind: KindNumber, Number: v}, nil
	case string:
		return &Node{Kind: KindString, String: v}, nil
	case json.Delim:
		switch v {
		case '[':
			node := &Node{Kind: KindArray}
			for dec.More() {
				item, err := parseValue(dec)
				if err != nil {
					return nil, err
				}
				node.Items = append(node.Items, item)
			}
			if _, err := dec.Token(); err != nil {
				return nil, fmt.Errorf("close json array: %w", err)
			}
			return node, nil
		case '{':
			node := &Node{Kind: KindObject}
			for dec.More() {
				keyTok, err := dec.Token()
				if err != nil {
					return nil, fmt.Errorf("read json key: %w", err)
				}
				key, ok := keyTok.(string)
				if !ok {
					return nil, fmt.Errorf("unexpected json key %v", keyTok)
				}
				value, err := parseValue(dec)
				if err != nil {
					return nil, err
				}
				node.Fields = append(node.Fields, Field{Key: key, Value: value})
			}
			if _, err := dec.Token(); err != nil {
				return nil, fmt.Errorf("close json object: %w", err)
			}
			return node, nil
		}
	}
	return nil, fmt.Errorf("unexpected json token %v", tok)
}

// Walk visits n and every descendant depth first, stopping early when visit
// returns false.
func Walk(n *Node, visit func(*Node) bool) bool {
	if n == nil {
		return true
	}
	if !visit(n) {
		return false
	}
	switch n.Kind {
	case KindArray:
		for _, item := range n.Items {
			if !Walk(item, visit) {
				return false
			}
		}
	case KindObject:
		for _, field := range n.Fields {
			if !Walk(field.Value, visit) {
				return false
			}
		}
	}
	return true
}

// JSON extracts every string leaf that is an absolute http(s) URL.
type JSON struct{}

// Extract implements Extractor.
func (JSON) Extract(ctx context.Context, _ *url.URL, body []byte) (Result, error) {
	root, err := ParseJSON(body)
	if err != nil {
		return Result{}, fmt.Errorf("parse json: %w", err)
	}
	var res Result
	Walk(root, func(n *Node) bool {
		if ctx.Err() != nil {
			return false
		}
		if n.Kind == KindString {
			if link, ok := absoluteHTTP(n.String); ok {
				res.Links = append(res.Links, link)
			}
		}
		return true
	})
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	return res, nil
}
