// Package scanner tokenises PDF object and content-stream syntax.
package scanner

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/wudi/scanclean/recovery"
)

type TokenType int

const (
	TokenDict        TokenType = iota // '<<'
	TokenArray                        // '['
	TokenName                         // '/Name'
	TokenString                       // literal or hex string
	TokenNumber                       // numeric value
	TokenBoolean                      // true/false
	TokenNull                         // null
	TokenRef                          // indirect ref '5 0 R'
	TokenStream                       // 'stream' keyword with its payload
	TokenInlineImage                  // inline image data following ID (content streams)
	TokenKeyword                      // other keywords (obj, endobj, >>, ], operators)
)

func (t TokenType) String() string {
	switch t {
	case TokenDict:
		return "dict"
	case TokenArray:
		return "array"
	case TokenName:
		return "name"
	case TokenString:
		return "string"
	case TokenNumber:
		return "number"
	case TokenBoolean:
		return "boolean"
	case TokenNull:
		return "null"
	case TokenRef:
		return "ref"
	case TokenStream:
		return "stream"
	case TokenInlineImage:
		return "inline-image"
	case TokenKeyword:
		return "keyword"
	}
	return fmt.Sprintf("token(%d)", int(t))
}

// Token is one lexical element. Only the fields relevant to Type are set.
type Token struct {
	Type  TokenType
	Str   string // names and keywords
	Bytes []byte // strings, stream payloads, inline image data
	Hex   bool   // string was written in hex form
	Int   int64
	Float float64
	IsInt bool
	Bool  bool
	Num   int // reference object number
	Gen   int // reference generation
	Pos   int64
}

// Number returns the numeric value of a TokenNumber.
func (t Token) Number() float64 {
	if t.IsInt {
		return float64(t.Int)
	}
	return t.Float
}

type Scanner interface {
	Next() (Token, error)
	Position() int64
	Seek(offset int64) error
	SetNextStreamLength(n int64)
	SetRecoveryLocation(loc recovery.Location)
	// Bytes exposes the underlying data; callers must not modify it.
	Bytes() []byte
}

type Config struct {
	MaxStringLength int64
	MaxArrayDepth   int
	MaxDictDepth    int
	MaxStreamLength int64
	MaxStreamScan   int64
	MaxInlineImage  int64
	WindowSize      int64
	// ContentStream disables 'n g R' reference detection, which would
	// otherwise misread operands followed by operators such as RG.
	ContentStream bool
	Recovery      recovery.Strategy
}

type ReaderAt interface {
	ReadAt(p []byte, off int64) (n int, err error)
}

var (
	ErrUnterminatedString = errors.New("unterminated string")
	ErrStreamTooLong      = errors.New("stream too long")
	ErrLimitExceeded      = errors.New("scanner limit exceeded")
)

type pdfScanner struct {
	data          []byte
	readErr       error
	pos           int64
	cfg           Config
	nextStreamLen int64
	arrayDepth    int
	dictDepth     int
	recLoc        recovery.Location
}

// New buffers the whole ReaderAt in WindowSize chunks and returns a scanner.
func New(r ReaderAt, cfg Config) Scanner {
	data, err := ReadAll(r, cfg.WindowSize)
	s := &pdfScanner{data: data, cfg: cfg, nextStreamLen: -1}
	if err != nil {
		s.readErr = err
	}
	return s
}

// FromBytes returns a scanner over data without copying it.
func FromBytes(data []byte, cfg Config) Scanner {
	return &pdfScanner{data: data, cfg: cfg, nextStreamLen: -1}
}

// ReadAll reads r from offset zero until EOF in chunk-sized windows.
func ReadAll(r ReaderAt, chunk int64) ([]byte, error) {
	if chunk <= 0 {
		chunk = 64 * 1024
	}
	var out []byte
	buf := make([]byte, chunk)
	var off int64
	for {
		n, err := r.ReadAt(buf, off)
		out = append(out, buf[:n]...)
		off += int64(n)
		if errors.Is(err, io.EOF) || (err == nil && n == 0) {
			return out, nil
		}
		if err != nil {
			return out, fmt.Errorf("read at %d: %w", off, err)
		}
	}
}

func (s *pdfScanner) Position() int64 { return s.pos }
func (s *pdfScanner) Bytes() []byte   { return s.data }

func (s *pdfScanner) Seek(offset int64) error {
	if offset < 0 || offset > int64(len(s.data)) {
		return fmt.Errorf("seek %d out of range", offset)
	}
	s.pos = offset
	return nil
}

func (s *pdfScanner) SetNextStreamLength(n int64)               { s.nextStreamLen = n }
func (s *pdfScanner) SetRecoveryLocation(loc recovery.Location) { s.recLoc = loc }

func (s *pdfScanner) Next() (Token, error) {
	if s.readErr != nil {
		return Token{}, s.readErr
	}
	s.skipWSAndComments()
	if s.pos >= int64(len(s.data)) {
		return Token{}, io.EOF
	}
	start := s.pos
	c := s.data[s.pos]
	switch c {
	case '<':
		if s.peek(1) == '<' {
			s.pos += 2
			return s.emit(Token{Type: TokenDict, Str: "<<", Pos: start})
		}
		return s.scanHexString()
	case '>':
		if s.peek(1) == '>' {
			s.pos += 2
			return s.emit(Token{Type: TokenKeyword, Str: ">>", Pos: start})
		}
		s.pos++
		return s.emit(Token{Type: TokenKeyword, Str: ">", Pos: start})
	case '[':
		s.pos++
		return s.emit(Token{Type: TokenArray, Str: "[", Pos: start})
	case ']':
		s.pos++
		return s.emit(Token{Type: TokenKeyword, Str: "]", Pos: start})
	case '{', '}', ')':
		s.pos++
		return s.emit(Token{Type: TokenKeyword, Str: string(c), Pos: start})
	case '(':
		return s.scanLiteralString()
	case '/':
		return s.scanName()
	}
	if isDigitStart(c) {
		return s.scanNumberOrRef()
	}
	return s.scanKeyword()
}

func (s *pdfScanner) peek(n int64) byte {
	if s.pos+n >= int64(len(s.data)) {
		return 0
	}
	return s.data[s.pos+n]
}

func (s *pdfScanner) skipWSAndComments() {
	for s.pos < int64(len(s.data)) {
		c := s.data[s.pos]
		if isWhitespace(c) {
			s.pos++
			continue
		}
		if c != '%' {
			return
		}
		for s.pos < int64(len(s.data)) && !isEOL(s.data[s.pos]) {
			s.pos++
		}
	}
}

func (s *pdfScanner) scanName() (Token, error) {
	start := s.pos
	s.pos++
	var out bytes.Buffer
	for s.pos < int64(len(s.data)) {
		c := s.data[s.pos]
		if isDelimiter(c) {
			break
		}
		if c == '#' && s.pos+2 < int64(len(s.data)) && isHex(s.data[s.pos+1]) && isHex(s.data[s.pos+2]) {
			out.WriteByte(fromHex(s.data[s.pos+1])<<4 | fromHex(s.data[s.pos+2]))
			s.pos += 3
			continue
		}
		out.WriteByte(c)
		s.pos++
	}
	return s.emit(Token{Type: TokenName, Str: out.String(), Pos: start})
}

func (s *pdfScanner) scanLiteralString() (Token, error) {
	start := s.pos
	s.pos++
	var buf bytes.Buffer
	depth := 1
	n := int64(len(s.data))
	for s.pos < n && depth > 0 {
		c := s.data[s.pos]
		s.pos++
		switch c {
		case '\\':
			if s.pos >= n {
				break
			}
			esc := s.data[s.pos]
			s.pos++
			switch {
			case esc == '\r':
				if s.pos < n && s.data[s.pos] == '\n' {
					s.pos++
				}
			case esc == '\n':
			case esc >= '0' && esc <= '7':
				val := int(esc - '0')
				for k := 0; k < 2 && s.pos < n && s.data[s.pos] >= '0' && s.data[s.pos] <= '7'; k++ {
					val = val<<3 + int(s.data[s.pos]-'0')
					s.pos++
				}
				buf.WriteByte(byte(val))
			default:
				buf.WriteByte(translateEscape(esc))
			}
		case '(':
			depth++
			buf.WriteByte(c)
		case ')':
			depth--
			if depth > 0 {
				buf.WriteByte(c)
			}
		default:
			buf.WriteByte(c)
		}
		if s.cfg.MaxStringLength > 0 && int64(buf.Len()) > s.cfg.MaxStringLength {
			return Token{}, fmt.Errorf("literal string at %d: %w", start, ErrLimitExceeded)
		}
	}
	if depth != 0 {
		if err := s.recover(fmt.Errorf("literal string at %d: %w", start, ErrUnterminatedString), "literal"); err != nil {
			return Token{}, err
		}
	}
	return s.emit(Token{Type: TokenString, Bytes: buf.Bytes(), Pos: start})
}

func (s *pdfScanner) scanHexString() (Token, error) {
	start := s.pos
	s.pos++
	var nibbles []byte
	closed := false
	for s.pos < int64(len(s.data)) {
		c := s.data[s.pos]
		s.pos++
		if c == '>' {
			closed = true
			break
		}
		if isHex(c) {
			nibbles = append(nibbles, fromHex(c))
		}
	}
	if !closed {
		if err := s.recover(fmt.Errorf("hex string at %d: %w", start, ErrUnterminatedString), "hex"); err != nil {
			return Token{}, err
		}
	}
	if len(nibbles)%2 == 1 {
		nibbles = append(nibbles, 0)
	}
	if s.cfg.MaxStringLength > 0 && int64(len(nibbles)/2) > s.cfg.MaxStringLength {
		return Token{}, fmt.Errorf("hex string at %d: %w", start, ErrLimitExceeded)
	}
	out := make([]byte, len(nibbles)/2)
	for i := range out {
		out[i] = nibbles[2*i]<<4 | nibbles[2*i+1]
	}
	return s.emit(Token{Type: TokenString, Bytes: out, Hex: true, Pos: start})
}

func (s *pdfScanner) scanKeyword() (Token, error) {
	start := s.pos
	for s.pos < int64(len(s.data)) && !isDelimiter(s.data[s.pos]) {
		s.pos++
	}
	if s.pos == start {
		// lone delimiter we do not otherwise handle
		s.pos++
	}
	kw := string(s.data[start:s.pos])
	switch kw {
	case "true", "false":
		return Token{Type: TokenBoolean, Bool: kw == "true", Str: kw, Pos: start}, nil
	case "null":
		return Token{Type: TokenNull, Str: kw, Pos: start}, nil
	case "stream":
		if !s.cfg.ContentStream {
			return s.scanStream(start)
		}
	case "ID":
		if s.cfg.ContentStream {
			return s.scanInlineImage(start)
		}
	}
	return Token{Type: TokenKeyword, Str: kw, Pos: start}, nil
}

func (s *pdfScanner) scanNumberOrRef() (Token, error) {
	start := s.pos
	num1 := s.scanNumberString()
	if num1 == "" {
		s.pos++
		return Token{Type: TokenKeyword, Str: string(s.data[start]), Pos: start}, nil
	}
	if !s.cfg.ContentStream && isUnsigned(num1) {
		save := s.pos
		s.skipWSAndComments()
		num2 := s.scanNumberString()
		if num2 != "" && isUnsigned(num2) {
			s.skipWSAndComments()
			if s.pos < int64(len(s.data)) && s.data[s.pos] == 'R' &&
				(s.pos+1 >= int64(len(s.data)) || isDelimiter(s.data[s.pos+1])) {
				s.pos++
				n, _ := strconv.Atoi(num1)
				g, _ := strconv.Atoi(num2)
				return Token{Type: TokenRef, Num: n, Gen: g, Pos: start}, nil
			}
		}
		s.pos = save
	}
	return s.emit(numberToken(num1, start))
}

func numberToken(lit string, pos int64) Token {
	if i, err := strconv.ParseInt(lit, 10, 64); err == nil {
		return Token{Type: TokenNumber, Int: i, Float: float64(i), IsInt: true, Pos: pos}
	}
	f, err := strconv.ParseFloat(lit, 64)
	if err != nil {
		// forms like "--5" or "1.2.3" written by broken producers
		f = lenientFloat(lit)
	}
	return Token{Type: TokenNumber, Float: f, Pos: pos}
}

func lenientFloat(lit string) float64 {
	neg := false
	var digits []byte
	dot := false
	for i := 0; i < len(lit); i++ {
		c := lit[i]
		switch {
		case c == '-' && len(digits) == 0:
			neg = true
		case c == '.' && !dot:
			dot = true
			digits = append(digits, c)
		case c >= '0' && c <= '9':
			digits = append(digits, c)
		}
	}
	f, _ := strconv.ParseFloat(string(digits), 64)
	if neg {
		f = -f
	}
	return f
}

func (s *pdfScanner) scanNumberString() string {
	start := s.pos
	seenDigit := false
	for s.pos < int64(len(s.data)) {
		c := s.data[s.pos]
		if c >= '0' && c <= '9' {
			seenDigit = true
		} else if c != '+' && c != '-' && c != '.' {
			break
		}
		s.pos++
	}
	if !seenDigit {
		s.pos = start
		return ""
	}
	return string(s.data[start:s.pos])
}

func isUnsigned(lit string) bool {
	for i := 0; i < len(lit); i++ {
		if lit[i] < '0' || lit[i] > '9' {
			return false
		}
	}
	return true
}

// skipEOL consumes a single CR, LF or CRLF at the current position.
func (s *pdfScanner) skipEOL() bool {
	if s.pos >= int64(len(s.data)) {
		return false
	}
	switch s.data[s.pos] {
	case '\r':
		s.pos++
		if s.pos < int64(len(s.data)) && s.data[s.pos] == '\n' {
			s.pos++
		}
		return true
	case '\n':
		s.pos++
		return true
	}
	return false
}

var endstream = []byte("endstream")

func (s *pdfScanner) scanStream(start int64) (Token, error) {
	if !s.skipEOL() {
		// some writers put spaces before the EOL
		for s.pos < int64(len(s.data)) && s.data[s.pos] == ' ' {
			s.pos++
		}
		if !s.skipEOL() {
			if err := s.recover(errors.New("stream keyword not followed by EOL"), "stream"); err != nil {
				return Token{}, err
			}
		}
	}
	dataStart := s.pos
	declared := s.nextStreamLen
	s.nextStreamLen = -1

	if declared >= 0 {
		if s.cfg.MaxStreamLength > 0 && declared > s.cfg.MaxStreamLength {
			return Token{}, fmt.Errorf("stream at %d: %w", start, ErrStreamTooLong)
		}
		end := dataStart + declared
		if end <= int64(len(s.data)) && s.endstreamAt(end) {
			payload := s.data[dataStart:end]
			s.pos = end
			s.skipWSAndComments()
			s.pos += int64(len(endstream))
			return s.emit(Token{Type: TokenStream, Bytes: payload, Pos: start})
		}
		if err := s.recover(fmt.Errorf("stream at %d: declared length %d does not reach endstream", start, declared), "stream"); err != nil {
			return Token{}, err
		}
	}

	idx := s.findEndstream(dataStart)
	if idx < 0 {
		if err := s.recover(fmt.Errorf("stream at %d: endstream not found", start), "stream"); err != nil {
			return Token{}, err
		}
		idx = int64(len(s.data))
	}
	end := idx
	if end > dataStart && s.data[end-1] == '\n' {
		end--
	}
	if end > dataStart && s.data[end-1] == '\r' {
		end--
	}
	if s.cfg.MaxStreamLength > 0 && end-dataStart > s.cfg.MaxStreamLength {
		return Token{}, fmt.Errorf("stream at %d: %w", start, ErrStreamTooLong)
	}
	s.pos = idx + int64(len(endstream))
	if s.pos > int64(len(s.data)) {
		s.pos = int64(len(s.data))
	}
	return s.emit(Token{Type: TokenStream, Bytes: s.data[dataStart:end], Pos: start})
}

// endstreamAt reports whether the endstream keyword follows off, allowing
// an EOL and whitespace in between.
func (s *pdfScanner) endstreamAt(off int64) bool {
	for off < int64(len(s.data)) && isWhitespace(s.data[off]) {
		off++
	}
	return bytes.HasPrefix(s.data[off:], endstream)
}

func (s *pdfScanner) findEndstream(from int64) int64 {
	limit := int64(len(s.data))
	if s.cfg.MaxStreamScan > 0 && from+s.cfg.MaxStreamScan < limit {
		limit = from + s.cfg.MaxStreamScan
	}
	for i := from; i < limit; {
		j := bytes.Index(s.data[i:limit], endstream)
		if j < 0 {
			return -1
		}
		at := i + int64(j)
		after := at + int64(len(endstream))
		if (at == from || isWhitespace(s.data[at-1])) && (after >= int64(len(s.data)) || isDelimiter(s.data[after])) {
			return at
		}
		i = at + 1
	}
	return -1
}

// scanInlineImage consumes the data between ID and the terminating EI.
func (s *pdfScanner) scanInlineImage(start int64) (Token, error) {
	if s.pos < int64(len(s.data)) && isWhitespace(s.data[s.pos]) {
		s.pos++
	}
	dataStart := s.pos
	n := int64(len(s.data))
	for i := dataStart; i+1 < n; i++ {
		if s.data[i] != 'E' || s.data[i+1] != 'I' {
			continue
		}
		if i > dataStart && !isWhitespace(s.data[i-1]) {
			continue
		}
		if i+2 < n && !isDelimiter(s.data[i+2]) {
			continue
		}
		end := i
		if end > dataStart && isWhitespace(s.data[end-1]) {
			end--
		}
		if s.cfg.MaxInlineImage > 0 && end-dataStart > s.cfg.MaxInlineImage {
			return Token{}, fmt.Errorf("inline image at %d: %w", start, ErrLimitExceeded)
		}
		s.pos = i + 2
		return Token{Type: TokenInlineImage, Bytes: s.data[dataStart:end], Pos: start}, nil
	}
	s.pos = n
	return Token{}, s.recoverOrErr(fmt.Errorf("inline image at %d: missing EI", start), "inline_image")
}

func (s *pdfScanner) recoverOrErr(err error, loc string) error {
	if rerr := s.recover(err, loc); rerr != nil {
		return rerr
	}
	return io.EOF
}

// recover consults the recovery strategy. A nil return means the caller
// should continue with a best-effort result.
func (s *pdfScanner) recover(err error, loc string) error {
	if s.cfg.Recovery == nil {
		return err
	}
	location := s.recLoc
	location.ByteOffset = s.pos
	if location.Component != "" {
		location.Component += "->"
	}
	location.Component += "scanner:" + loc
	if recovery.Continue(s.cfg.Recovery.OnError(nil, err, location)) {
		return nil
	}
	return err
}

func (s *pdfScanner) emit(tok Token) (Token, error) {
	switch tok.Type {
	case TokenArray:
		s.arrayDepth++
		if s.cfg.MaxArrayDepth > 0 && s.arrayDepth > s.cfg.MaxArrayDepth {
			return Token{}, fmt.Errorf("array depth %d: %w", s.arrayDepth, ErrLimitExceeded)
		}
	case TokenDict:
		s.dictDepth++
		if s.cfg.MaxDictDepth > 0 && s.dictDepth > s.cfg.MaxDictDepth {
			return Token{}, fmt.Errorf("dict depth %d: %w", s.dictDepth, ErrLimitExceeded)
		}
	case TokenKeyword:
		if tok.Str == "]" && s.arrayDepth > 0 {
			s.arrayDepth--
		}
		if tok.Str == ">>" && s.dictDepth > 0 {
			s.dictDepth--
		}
	}
	return tok, nil
}

func isDigitStart(c byte) bool { return c == '+' || c == '-' || c == '.' || (c >= '0' && c <= '9') }

func isWhitespace(c byte) bool {
	return c == 0x00 || c == 0x09 || c == 0x0A || c == 0x0C || c == 0x0D || c == 0x20
}

func isEOL(c byte) bool { return c == '\r' || c == '\n' }

func isDelimiter(c byte) bool {
	switch c {
	case '(', ')', '<', '>', '[', ']', '{', '}', '/', '%':
		return true
	default:
		return isWhitespace(c)
	}
}

func isHex(c byte) bool {
	return (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')
}

func fromHex(c byte) byte {
	switch {
	case c >= '0' && c <= '9':
		return c - '0'
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10
	}
	return 0
}

func translateEscape(c byte) byte {
	switch c {
	case 'n':
		return '\n'
	case 'r':
		return '\r'
	case 't':
		return '\t'
	case 'b':
		return '\b'
	case 'f':
		return '\f'
	}
	return c
}
