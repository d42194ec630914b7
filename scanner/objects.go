package scanner

import (
	"errors"
	"fmt"
	"io"

	"github.com/wudi/scanclean/ir/raw"
	"github.com/wudi/scanclean/recovery"
)

// ErrUnexpectedToken reports a token that cannot start or continue an object.
var ErrUnexpectedToken = errors.New("unexpected token")

// LengthFunc resolves a stream's /Length entry, which may be indirect.
type LengthFunc func(obj raw.Object) (int64, bool)

// ParseObject reads one direct object starting at the next token.
func ParseObject(s Scanner) (raw.Object, error) {
	tok, err := s.Next()
	if err != nil {
		return nil, err
	}
	return ParseFrom(s, tok)
}

// ParseFrom builds an object whose first token has already been read.
func ParseFrom(s Scanner, tok Token) (raw.Object, error) {
	switch tok.Type {
	case TokenNumber:
		if tok.IsInt {
			return raw.NumberInt(tok.Int), nil
		}
		return raw.NumberFloat(tok.Float), nil
	case TokenName:
		return raw.NameLiteral(tok.Str), nil
	case TokenString:
		return raw.StringObj{Bytes: tok.Bytes, Hex: tok.Hex}, nil
	case TokenBoolean:
		return raw.Bool(tok.Bool), nil
	case TokenNull:
		return raw.NullObj{}, nil
	case TokenRef:
		return raw.Ref(tok.Num, tok.Gen), nil
	case TokenArray:
		return parseArray(s)
	case TokenDict:
		return parseDict(s)
	}
	return nil, fmt.Errorf("%w %s %q at %d", ErrUnexpectedToken, tok.Type, tok.Str, tok.Pos)
}

func parseArray(s Scanner) (raw.Object, error) {
	arr := raw.NewArray()
	for {
		tok, err := s.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return arr, fmt.Errorf("unterminated array: %w", io.ErrUnexpectedEOF)
			}
			return arr, err
		}
		if tok.Type == TokenKeyword && tok.Str == "]" {
			return arr, nil
		}
		if tok.Type == TokenKeyword && (tok.Str == "endobj" || tok.Str == ">>") {
			return arr, fmt.Errorf("%w %q inside array at %d", ErrUnexpectedToken, tok.Str, tok.Pos)
		}
		item, err := ParseFrom(s, tok)
		if err != nil {
			return arr, err
		}
		arr.Append(item)
	}
}

func parseDict(s Scanner) (raw.Object, error) {
	dict := raw.Dict()
	for {
		tok, err := s.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return dict, fmt.Errorf("unterminated dictionary: %w", io.ErrUnexpectedEOF)
			}
			return dict, err
		}
		if tok.Type == TokenKeyword && tok.Str == ">>" {
			return dict, nil
		}
		if tok.Type != TokenName {
			return dict, fmt.Errorf("%w %s %q as dictionary key at %d", ErrUnexpectedToken, tok.Type, tok.Str, tok.Pos)
		}
		key := tok.Str
		vtok, err := s.Next()
		if err != nil {
			return dict, err
		}
		if vtok.Type == TokenKeyword && vtok.Str == ">>" {
			// key without value; PDF readers treat it as null
			return dict, nil
		}
		val, err := ParseFrom(s, vtok)
		if err != nil {
			return dict, err
		}
		if _, isNull := val.(raw.NullObj); !isNull {
			dict.SetKey(key, val)
		}
	}
}

// IndirectObject is the result of reading an "n g obj ... endobj" block.
type IndirectObject struct {
	Ref    raw.ObjectRef
	Object raw.Object
	Pos    int64
}

// ParseIndirect reads an indirect object at the scanner's position. Streams
// use length to size their payload; a nil length, or an unresolvable one,
// makes the scanner search for endstream instead.
func ParseIndirect(s Scanner, length LengthFunc) (IndirectObject, error) {
	numTok, err := s.Next()
	if err != nil {
		return IndirectObject{}, err
	}
	genTok, err := s.Next()
	if err != nil {
		return IndirectObject{}, err
	}
	kwTok, err := s.Next()
	if err != nil {
		return IndirectObject{}, err
	}
	if numTok.Type != TokenNumber || !numTok.IsInt || genTok.Type != TokenNumber || !genTok.IsInt ||
		kwTok.Type != TokenKeyword || kwTok.Str != "obj" {
		return IndirectObject{}, fmt.Errorf("%w: no object header at %d", ErrUnexpectedToken, numTok.Pos)
	}
	out := IndirectObject{Ref: raw.ObjectRef{Num: int(numTok.Int), Gen: int(genTok.Int)}, Pos: numTok.Pos}
	s.SetRecoveryLocation(recoveryLocation(out))

	obj, err := ParseObject(s)
	if err != nil {
		return out, err
	}
	out.Object = obj

	dict, isDict := obj.(*raw.DictObj)
	if !isDict {
		return out, nil
	}
	save := s.Position()
	s.SetNextStreamLength(-1)
	if length != nil {
		if lv, ok := dict.Lookup("Length"); ok {
			if n, ok := length(lv); ok && n >= 0 {
				s.SetNextStreamLength(n)
			}
		}
	}
	tok, err := s.Next()
	if err == nil && tok.Type == TokenStream {
		out.Object = raw.NewStream(dict, tok.Bytes)
		return out, nil
	}
	s.SetNextStreamLength(-1)
	if err != nil && !errors.Is(err, io.EOF) {
		return out, err
	}
	_ = s.Seek(save)
	return out, nil
}

func recoveryLocation(o IndirectObject) recovery.Location {
	return recovery.Location{ObjectNum: o.Ref.Num, ObjectGen: o.Ref.Gen, ByteOffset: o.Pos, Component: "object"}
}
