package writer

import (
	"bytes"
	"context"
	"crypto/md5"
	"crypto/rc4"
	"errors"
	"fmt"
	"testing"

	"github.com/wudi/scanclean/ir"
	"github.com/wudi/scanclean/ir/raw"
	"github.com/wudi/scanclean/ir/semantic"
)

func buildPDF(objects ...string) []byte {
	buf := &bytes.Buffer{}
	buf.WriteString("%PDF-1.4\n")
	offsets := make([]int, len(objects))
	for i, body := range objects {
		offsets[i] = buf.Len()
		fmt.Fprintf(buf, "%d 0 obj\n%s\nendobj\n", i+1, body)
	}
	xrefOff := buf.Len()
	fmt.Fprintf(buf, "xref\n0 %d\n0000000000 65535 f \n", len(objects)+1)
	for _, off := range offsets {
		fmt.Fprintf(buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(buf, "trailer << /Size %d /Root 1 0 R /Info 6 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(objects)+1, xrefOff)
	return buf.Bytes()
}

const pageContent = "0 g 100 100 200 300 re f 0 g 100 100 200 300 re f 0 g 100 100 200 300 re f"

func sampleDoc(t *testing.T) *semantic.Document {
	t.Helper()
	pdf := buildPDF(
		"<< /Type /Catalog /Pages 3 0 R >>",
		"(orphan)",
		"<< /Type /Pages /Kids [4 0 R] /Count 1 /MediaBox [0 0 612 792] >>",
		"<< /Type /Page /Parent 3 0 R /Contents 5 0 R /Annots [9 0 R] >>",
		fmt.Sprintf("<< /Length %d >>\nstream\n%s\nendstream", len(pageContent), pageContent),
		"<< /Producer (scanner) >>",
	)
	doc, err := ir.NewDefault().Parse(context.Background(), bytes.NewReader(pdf))
	if err != nil {
		t.Fatalf("parse source: %v", err)
	}
	return doc
}

func reparse(t *testing.T, data []byte) *semantic.Document {
	t.Helper()
	doc, err := ir.NewDefault().Parse(context.Background(), bytes.NewReader(data))
	if err != nil {
		t.Fatalf("reparse output: %v\n%s", err, data)
	}
	return doc
}

func TestWriteCollectsAndRenumbers(t *testing.T) {
	doc := sampleDoc(t)
	var out bytes.Buffer
	if err := New().Write(context.Background(), doc, &out, Config{}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if bytes.Contains(out.Bytes(), []byte("orphan")) {
		t.Fatalf("unreachable object was written")
	}
	got := reparse(t, out.Bytes())
	if len(got.Raw.Objects) != 5 {
		t.Fatalf("expected 5 objects, got %d", len(got.Raw.Objects))
	}
	for num := 1; num <= 5; num++ {
		if _, ok := got.Raw.Objects[raw.ObjectRef{Num: num}]; !ok {
			t.Fatalf("object %d missing after dense renumbering", num)
		}
	}
	if len(got.Pages) != 1 {
		t.Fatalf("expected 1 page, got %d", len(got.Pages))
	}
	// The dangling annotation reference becomes null.
	annots, _ := got.Pages[0].Dict.Lookup("Annots")
	if arr, ok := annots.(*raw.ArrayObj); !ok || arr.Len() != 1 || arr.Items[0] != (raw.NullObj{}) {
		t.Fatalf("unexpected /Annots %#v", annots)
	}
	content, err := got.PageContent(context.Background(), got.Pages[0])
	if err != nil || string(content) != pageContent {
		t.Fatalf("content %q, err %v", content, err)
	}
	if info, ok := got.Raw.Trailer.Lookup("Info"); !ok {
		t.Fatalf("/Info dropped")
	} else if d, ok := got.ResolveDict(info); !ok || string(d.KV["Producer"].(raw.StringObj).Bytes) != "scanner" {
		t.Fatalf("unexpected /Info %#v", info)
	}
}

func TestWriteCompressesStreams(t *testing.T) {
	doc := sampleDoc(t)
	var out bytes.Buffer
	if err := New().Write(context.Background(), doc, &out, Config{Compress: true}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if !bytes.Contains(out.Bytes(), []byte("/Filter /FlateDecode")) {
		t.Fatalf("content stream not compressed")
	}
	got := reparse(t, out.Bytes())
	content, err := got.PageContent(context.Background(), got.Pages[0])
	if err != nil || string(content) != pageContent {
		t.Fatalf("content %q, err %v", content, err)
	}
}

func TestWriteObjectStreams(t *testing.T) {
	doc := sampleDoc(t)
	var out bytes.Buffer
	cfg := Config{Compress: true, ObjectStreams: true, ObjectsPerStream: 2}
	if err := New().Write(context.Background(), doc, &out, cfg); err != nil {
		t.Fatalf("write: %v", err)
	}
	if !bytes.HasPrefix(out.Bytes(), []byte("%PDF-1.5\n")) {
		t.Fatalf("header not raised to 1.5: %q", out.Bytes()[:9])
	}
	if bytes.Contains(out.Bytes(), []byte("\nxref\n")) {
		t.Fatalf("classic xref table written with object streams")
	}
	got := reparse(t, out.Bytes())
	if len(got.Pages) != 1 {
		t.Fatalf("expected 1 page, got %d", len(got.Pages))
	}
	content, err := got.PageContent(context.Background(), got.Pages[0])
	if err != nil || string(content) != pageContent {
		t.Fatalf("content %q, err %v", content, err)
	}
}

func TestWriteDeterministic(t *testing.T) {
	for _, cfg := range []Config{{}, {Compress: true, ObjectStreams: true}} {
		var a, b bytes.Buffer
		if err := New().Write(context.Background(), sampleDoc(t), &a, cfg); err != nil {
			t.Fatal(err)
		}
		if err := New().Write(context.Background(), sampleDoc(t), &b, cfg); err != nil {
			t.Fatal(err)
		}
		if !bytes.Equal(a.Bytes(), b.Bytes()) {
			t.Fatalf("output differs between runs with %+v", cfg)
		}
	}
}

func TestWriteNoRoot(t *testing.T) {
	doc := semantic.NewDocument(&raw.Document{Objects: map[raw.ObjectRef]raw.Object{}, Trailer: raw.Dict()}, nil)
	if err := New().Write(context.Background(), doc, &bytes.Buffer{}, Config{}); !errors.Is(err, ErrNoRoot) {
		t.Fatalf("expected ErrNoRoot, got %v", err)
	}
}

func TestWriteCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := New().Write(ctx, sampleDoc(t), &bytes.Buffer{}, Config{}); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

type countingInterceptor struct {
	before, after int
	bytes         int64
}

func (c *countingInterceptor) BeforeWrite(context.Context, raw.ObjectRef, raw.Object) error {
	c.before++
	return nil
}

func (c *countingInterceptor) AfterWrite(_ context.Context, _ raw.ObjectRef, _ raw.Object, n int64) error {
	c.after++
	c.bytes += n
	return nil
}

func TestWriterInterceptors(t *testing.T) {
	counter := &countingInterceptor{}
	w := (&WriterBuilder{}).WithInterceptor(counter).Build()
	if err := w.Write(context.Background(), sampleDoc(t), &bytes.Buffer{}, Config{}); err != nil {
		t.Fatal(err)
	}
	if counter.before != 5 || counter.after != 5 || counter.bytes == 0 {
		t.Fatalf("unexpected interceptor counts %+v", counter)
	}
}

// encryptedPDF builds sampleDoc's page encrypted with 40-bit RC4 and an
// empty user password.
func encryptedPDF(t *testing.T) []byte {
	t.Helper()
	padding := []byte{
		0x28, 0xbf, 0x4e, 0x5e, 0x4e, 0x75, 0x8a, 0x41, 0x64, 0x00, 0x4e, 0x56, 0xff, 0xfa, 0x01, 0x08,
		0x2e, 0x2e, 0x00, 0xb6, 0xd0, 0x68, 0x3e, 0x80, 0x2f, 0x0c, 0xa9, 0xfe, 0x64, 0x53, 0x69, 0x7a,
	}
	xor := func(key, data []byte) []byte {
		c, err := rc4.NewCipher(key)
		if err != nil {
			t.Fatal(err)
		}
		out := make([]byte, len(data))
		c.XORKeyStream(out, data)
		return out
	}
	id := []byte("writer-test-id00")
	o := bytes.Repeat([]byte{0x4f}, 32)
	seed := append(append(append([]byte{}, padding...), o...), 0xfc, 0xff, 0xff, 0xff)
	sum := md5.Sum(append(seed, id...))
	key := sum[:5]
	objKey := func(num int) []byte {
		s := md5.Sum(append(append([]byte{}, key...), byte(num), 0, 0, 0, 0))
		return s[:10]
	}
	content := xor(objKey(4), []byte(pageContent))

	buf := &bytes.Buffer{}
	buf.WriteString("%PDF-1.4\n")
	bodies := []string{
		"<< /Type /Catalog /Pages 2 0 R >>",
		"<< /Type /Pages /Kids [3 0 R] /Count 1 /MediaBox [0 0 612 792] >>",
		"<< /Type /Page /Parent 2 0 R /Contents 4 0 R >>",
		fmt.Sprintf("<< /Length %d >>\nstream\n%s\nendstream", len(content), content),
		fmt.Sprintf("<< /Filter /Standard /V 1 /R 2 /P -4 /O <%x> /U <%x> >>", o, xor(key, padding)),
	}
	offsets := make([]int, len(bodies))
	for i, body := range bodies {
		offsets[i] = buf.Len()
		fmt.Fprintf(buf, "%d 0 obj\n%s\nendobj\n", i+1, body)
	}
	xrefOff := buf.Len()
	fmt.Fprintf(buf, "xref\n0 %d\n0000000000 65535 f \n", len(bodies)+1)
	for _, off := range offsets {
		fmt.Fprintf(buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(buf, "trailer << /Size %d /Root 1 0 R /Encrypt 5 0 R /ID [<%x> <%x>] >>\nstartxref\n%d\n%%%%EOF\n",
		len(bodies)+1, id, id, xrefOff)
	return buf.Bytes()
}

func TestWriteDecryptedDocumentInClear(t *testing.T) {
	doc, err := ir.NewDefault().Parse(context.Background(), bytes.NewReader(encryptedPDF(t)))
	if err != nil {
		t.Fatalf("parse encrypted source: %v", err)
	}
	var out bytes.Buffer
	if err := New().Write(context.Background(), doc, &out, Config{}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if bytes.Contains(out.Bytes(), []byte("/Encrypt")) || bytes.Contains(out.Bytes(), []byte("/Standard")) {
		t.Fatalf("encryption dictionary written to output")
	}
	if !bytes.Contains(out.Bytes(), []byte(pageContent)) {
		t.Fatalf("content stream not written in the clear")
	}
	got := reparse(t, out.Bytes())
	content, err := got.PageContent(context.Background(), got.Pages[0])
	if err != nil || string(content) != pageContent {
		t.Fatalf("content %q, err %v", content, err)
	}
}
