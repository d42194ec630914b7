// Package contentstream parses page content into operations and traces
// what those operations paint.
package contentstream

import (
	"errors"
	"fmt"
	"io"
	"sort"

	"github.com/wudi/scanclean/ir/raw"
	"github.com/wudi/scanclean/recovery"
	"github.com/wudi/scanclean/scanner"
)

// Operation is one operator with its operands. Inline images are a single
// "BI" operation carrying the image dictionary and data.
type Operation struct {
	Operator string
	Operands []raw.Object
	Inline   *InlineImage
}

type InlineImage struct {
	Dict *raw.DictObj
	Data []byte
}

type Parser struct {
	cfg scanner.Config
}

// NewParser returns a content parser. A nil strategy makes every lexical
// error fatal.
func NewParser(rec recovery.Strategy) *Parser {
	return &Parser{cfg: scanner.Config{ContentStream: true, Recovery: rec}}
}

// Parse parses data with a strict parser.
func Parse(data []byte) ([]Operation, error) {
	return NewParser(nil).Parse(data)
}

func (p *Parser) Parse(data []byte) ([]Operation, error) {
	s := scanner.FromBytes(data, p.cfg)
	var (
		ops      []Operation
		operands []raw.Object
	)
	for {
		tok, err := s.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return ops, fmt.Errorf("content stream: %w", err)
		}
		if tok.Type != scanner.TokenKeyword {
			obj, err := scanner.ParseFrom(s, tok)
			if err != nil {
				return ops, fmt.Errorf("content stream operand: %w", err)
			}
			operands = append(operands, obj)
			continue
		}
		switch tok.Str {
		case "]", ">>", "}", "{", ">":
			// stray delimiters carry no operator
			continue
		case "BI":
			img, err := parseInlineImage(s)
			if err != nil {
				return ops, err
			}
			ops = append(ops, Operation{Operator: "BI", Inline: img})
			operands = nil
			continue
		}
		ops = append(ops, Operation{Operator: tok.Str, Operands: operands})
		operands = nil
	}
	return ops, nil
}

func parseInlineImage(s scanner.Scanner) (*InlineImage, error) {
	dict := raw.Dict()
	for {
		tok, err := s.Next()
		if err != nil {
			return nil, fmt.Errorf("inline image: %w", err)
		}
		if tok.Type == scanner.TokenInlineImage {
			return &InlineImage{Dict: dict, Data: tok.Bytes}, nil
		}
		if tok.Type != scanner.TokenName {
			return nil, fmt.Errorf("inline image: %w %s", scanner.ErrUnexpectedToken, tok.Type)
		}
		key := tok.Str
		vtok, err := s.Next()
		if err != nil {
			return nil, fmt.Errorf("inline image: %w", err)
		}
		if vtok.Type == scanner.TokenInlineImage {
			return &InlineImage{Dict: dict, Data: vtok.Bytes}, nil
		}
		val, err := scanner.ParseFrom(s, vtok)
		if err != nil {
			return nil, fmt.Errorf("inline image /%s: %w", key, err)
		}
		dict.SetKey(key, val)
	}
}

// Serialize writes operations back to content stream syntax, one operator
// per line.
func Serialize(ops []Operation) []byte {
	var buf []byte
	for _, op := range ops {
		buf = AppendOperation(buf, op)
	}
	return buf
}

func AppendOperation(buf []byte, op Operation) []byte {
	if op.Inline != nil {
		buf = append(buf, "BI"...)
		keys := make([]string, 0, len(op.Inline.Dict.KV))
		for k := range op.Inline.Dict.KV {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			buf = append(buf, ' ')
			buf = raw.AppendName(buf, k)
			buf = append(buf, ' ')
			buf = raw.AppendObject(buf, op.Inline.Dict.KV[k])
		}
		buf = append(buf, " ID\n"...)
		buf = append(buf, op.Inline.Data...)
		return append(buf, "\nEI\n"...)
	}
	for _, operand := range op.Operands {
		buf = raw.AppendObject(buf, operand)
		buf = append(buf, ' ')
	}
	buf = append(buf, op.Operator...)
	return append(buf, '\n')
}

// Numbers returns the operands as floats, or false when any is not numeric.
func (op Operation) Numbers() ([]float64, bool) {
	out := make([]float64, len(op.Operands))
	for i, o := range op.Operands {
		f, ok := raw.NumberValue(o)
		if !ok {
			return nil, false
		}
		out[i] = f
	}
	return out, true
}
