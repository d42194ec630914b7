package scanner

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/wudi/scanclean/recovery"
)

func newScanner(t *testing.T, data string, cfg Config) Scanner {
	t.Helper()
	return New(bytes.NewReader([]byte(data)), cfg)
}

func nextToken(t *testing.T, s Scanner) Token {
	t.Helper()
	tok, err := s.Next()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return tok
}

func TestScanner_BasicTokens(t *testing.T) {
	s := newScanner(t, "%PDF-1.7\n1 0 obj\n<< /Name /Value /Nums [1 2.5 -3] /Flag true /Null null >>\nendobj", Config{})

	tok := nextToken(t, s)
	if tok.Type != TokenNumber || !tok.IsInt || tok.Int != 1 {
		t.Fatalf("expected first token number 1, got %+v", tok)
	}
	if tok = nextToken(t, s); tok.Type != TokenNumber || tok.Int != 0 {
		t.Fatalf("expected generation number 0, got %+v", tok)
	}
	if tok = nextToken(t, s); tok.Type != TokenKeyword || tok.Str != "obj" {
		t.Fatalf("expected obj keyword, got %+v", tok)
	}
	if tok = nextToken(t, s); tok.Type != TokenDict {
		t.Fatalf("expected dict start, got %+v", tok)
	}
	if tok = nextToken(t, s); tok.Type != TokenName || tok.Str != "Name" {
		t.Fatalf("expected Name key, got %+v", tok)
	}
	if tok = nextToken(t, s); tok.Type != TokenName || tok.Str != "Value" {
		t.Fatalf("expected Name value, got %+v", tok)
	}
	nextToken(t, s) // /Nums
	if tok = nextToken(t, s); tok.Type != TokenArray {
		t.Fatalf("expected array start, got %+v", tok)
	}
	want := []float64{1, 2.5, -3}
	for _, w := range want {
		tok = nextToken(t, s)
		if tok.Type != TokenNumber || tok.Number() != w {
			t.Fatalf("expected array number %v, got %+v", w, tok)
		}
	}
	if tok = nextToken(t, s); tok.Type != TokenKeyword || tok.Str != "]" {
		t.Fatalf("expected array close, got %+v", tok)
	}
	nextToken(t, s) // /Flag
	if tok = nextToken(t, s); tok.Type != TokenBoolean || !tok.Bool {
		t.Fatalf("expected true boolean, got %+v", tok)
	}
	nextToken(t, s) // /Null
	if tok = nextToken(t, s); tok.Type != TokenNull {
		t.Fatalf("expected null value, got %+v", tok)
	}
	if tok = nextToken(t, s); tok.Str != ">>" {
		t.Fatalf("expected dict close, got %+v", tok)
	}
	if tok = nextToken(t, s); tok.Str != "endobj" {
		t.Fatalf("expected endobj, got %+v", tok)
	}
	if _, err := s.Next(); !errors.Is(err, io.EOF) {
		t.Fatalf("expected EOF, got %v", err)
	}
}

func TestScanner_NameHexEscapes(t *testing.T) {
	tok := nextToken(t, newScanner(t, "/Name#20With#23Hash", Config{}))
	if tok.Type != TokenName || tok.Str != "Name With#Hash" {
		t.Fatalf("unexpected name decode: %+v", tok)
	}
}

func TestScanner_LiteralStringEscapes(t *testing.T) {
	tok := nextToken(t, newScanner(t, "(Hi\\n\\050\\051\\t (nested))", Config{}))
	if tok.Type != TokenString || !bytes.Equal(tok.Bytes, []byte("Hi\n()\t (nested)")) {
		t.Fatalf("unexpected literal string: %q", tok.Bytes)
	}
}

func TestScanner_LiteralStringLineContinuation(t *testing.T) {
	tok := nextToken(t, newScanner(t, "(Line\\\r\ncontinued)", Config{}))
	if got := string(tok.Bytes); got != "Linecontinued" {
		t.Fatalf("unexpected literal string with continuation: %q", got)
	}
}

func TestScanner_HexStringOddLength(t *testing.T) {
	tok := nextToken(t, newScanner(t, "<48656c6c6f3>", Config{}))
	if tok.Type != TokenString || !tok.Hex || !bytes.Equal(tok.Bytes, []byte("Hello0")) {
		t.Fatalf("expected padded hex string, got %+v", tok)
	}
}

func TestScanner_ReferenceDetection(t *testing.T) {
	tok := nextToken(t, newScanner(t, "12 5 R %comment\n", Config{}))
	if tok.Type != TokenRef || tok.Num != 12 || tok.Gen != 5 {
		t.Fatalf("unexpected ref: %+v", tok)
	}
}

func TestScanner_ContentStreamDoesNotReadRefs(t *testing.T) {
	s := newScanner(t, "1 0 0 RG", Config{ContentStream: true})
	for i := 0; i < 3; i++ {
		if tok := nextToken(t, s); tok.Type != TokenNumber {
			t.Fatalf("operand %d: expected number, got %+v", i, tok)
		}
	}
	if tok := nextToken(t, s); tok.Type != TokenKeyword || tok.Str != "RG" {
		t.Fatalf("expected RG operator, got %+v", tok)
	}
}

func TestScanner_RequiresDelimiterAfterR(t *testing.T) {
	s := newScanner(t, "0 0 RG", Config{})
	if tok := nextToken(t, s); tok.Type != TokenNumber {
		t.Fatalf("expected number, got %+v", tok)
	}
}

func TestScanner_StreamWithLength(t *testing.T) {
	s := newScanner(t, "stream\r\nabcde\r\nendstream", Config{})
	s.SetNextStreamLength(5)
	tok := nextToken(t, s)
	if tok.Type != TokenStream || string(tok.Bytes) != "abcde" {
		t.Fatalf("unexpected stream: %+v", tok)
	}
}

func TestScanner_StreamFallbackToEndstream(t *testing.T) {
	tok := nextToken(t, newScanner(t, "stream\nabc\r\nendstream\n", Config{}))
	if tok.Type != TokenStream || string(tok.Bytes) != "abc" {
		t.Fatalf("unexpected stream payload: %q", tok.Bytes)
	}
}

func TestScanner_WrongLengthFallsBackUnderLenient(t *testing.T) {
	rec := recovery.NewLenientStrategy(nil)
	s := newScanner(t, "stream\nabcdef\nendstream", Config{Recovery: rec})
	s.SetNextStreamLength(3)
	tok := nextToken(t, s)
	if string(tok.Bytes) != "abcdef" {
		t.Fatalf("expected payload up to endstream, got %q", tok.Bytes)
	}
	if len(rec.Errors()) != 1 {
		t.Fatalf("expected one recorded error, got %v", rec.Errors())
	}
}

func TestScanner_WrongLengthFailsUnderStrict(t *testing.T) {
	s := newScanner(t, "stream\nabcdef\nendstream", Config{Recovery: recovery.NewStrictStrategy()})
	s.SetNextStreamLength(3)
	if _, err := s.Next(); err == nil || !strings.Contains(err.Error(), "declared length") {
		t.Fatalf("expected length error, got %v", err)
	}
}

func TestScanner_Limits(t *testing.T) {
	cases := []struct {
		name string
		data string
		cfg  Config
	}{
		{"hex", "<000102>", Config{MaxStringLength: 2}},
		{"literal", "(abcdef)", Config{MaxStringLength: 3}},
		{"dict depth", "<< /A << /B << >> >> >>", Config{MaxDictDepth: 2}},
		{"inline image", "ID \nabcdefghijk\nEI", Config{MaxInlineImage: 5, ContentStream: true}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := newScanner(t, tc.data, tc.cfg)
			var err error
			for err == nil {
				_, err = s.Next()
			}
			if !errors.Is(err, ErrLimitExceeded) {
				t.Fatalf("expected limit error, got %v", err)
			}
		})
	}
}

func TestScanner_MaxStreamLength(t *testing.T) {
	s := newScanner(t, "stream\nabcdef\nendstream", Config{MaxStreamLength: 3})
	s.SetNextStreamLength(6)
	if _, err := s.Next(); !errors.Is(err, ErrStreamTooLong) {
		t.Fatalf("expected stream too long error, got %v", err)
	}
}

func TestScanner_InlineImage(t *testing.T) {
	s := newScanner(t, "ID abc\nEI\nBT", Config{ContentStream: true})
	tok := nextToken(t, s)
	if tok.Type != TokenInlineImage || string(tok.Bytes) != "abc" {
		t.Fatalf("unexpected inline image: %+v", tok)
	}
	if tok = nextToken(t, s); tok.Type != TokenKeyword || tok.Str != "BT" {
		t.Fatalf("expected BT after inline image, got %+v", tok)
	}
}

func TestScanner_UnterminatedStrings(t *testing.T) {
	for _, data := range []string{"(abc", "<abc"} {
		if _, err := newScanner(t, data, Config{}).Next(); !errors.Is(err, ErrUnterminatedString) {
			t.Fatalf("%q: expected unterminated string error, got %v", data, err)
		}
	}
}

type fixRecovery struct{}

func (f *fixRecovery) OnError(ctx recovery.Context, err error, loc recovery.Location) recovery.Action {
	return recovery.ActionFix
}

func TestScanner_FixUnterminatedHexString(t *testing.T) {
	s := New(bytes.NewReader([]byte("<4142")), Config{Recovery: &fixRecovery{}})
	tok := nextToken(t, s)
	if tok.Type != TokenString || string(tok.Bytes) != "AB" {
		t.Fatalf("unexpected token after recovery: %+v", tok)
	}
}

func TestScanner_FixTruncatedStream(t *testing.T) {
	s := New(bytes.NewReader([]byte("stream\nabc")), Config{Recovery: &fixRecovery{}})
	s.SetNextStreamLength(5)
	tok := nextToken(t, s)
	if tok.Type != TokenStream || string(tok.Bytes) != "abc" {
		t.Fatalf("unexpected stream payload after recovery: %+v", tok)
	}
}

type recordRecovery struct {
	loc recovery.Location
}

func (r *recordRecovery) OnError(ctx recovery.Context, err error, loc recovery.Location) recovery.Action {
	r.loc = loc
	return recovery.ActionFail
}

func TestScanner_RecoveryLocationIncludesObject(t *testing.T) {
	rec := &recordRecovery{}
	s := New(bytes.NewReader([]byte("<abc")), Config{Recovery: rec})
	s.SetRecoveryLocation(recovery.Location{ObjectNum: 5, ObjectGen: 2, Component: "parser"})
	if _, err := s.Next(); err == nil {
		t.Fatalf("expected unterminated hex string error")
	}
	if rec.loc.ObjectNum != 5 || rec.loc.ObjectGen != 2 {
		t.Fatalf("expected object context 5 2, got %+v", rec.loc)
	}
	if !strings.Contains(rec.loc.Component, "scanner:hex") {
		t.Fatalf("expected component to include scanner:hex, got %q", rec.loc.Component)
	}
}

type chunkedReader struct{ data []byte }

func (c chunkedReader) ReadAt(p []byte, off int64) (int, error) {
	if off >= int64(len(c.data)) {
		return 0, io.EOF
	}
	return copy(p, c.data[off:]), nil
}

func TestReadAll_SmallWindows(t *testing.T) {
	want := strings.Repeat("0123456789", 10)
	got, err := ReadAll(chunkedReader{[]byte(want)}, 7)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(got) != want {
		t.Fatalf("read %d bytes, want %d", len(got), len(want))
	}
}
