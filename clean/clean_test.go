package clean

import (
	"bytes"
	"compress/zlib"
	"context"
	"fmt"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wudi/scanclean/edit"
	"github.com/wudi/scanclean/filters"
	"github.com/wudi/scanclean/ir"
	"github.com/wudi/scanclean/raster"
	"github.com/wudi/scanclean/scripting"
)

// scanImage is an 800×1000 grey scan: ten text lines between x=200 and
// x=600 from y=300, a stain near the top-left corner and an edge shadow.
func scanImage() []byte {
	const w, h = 800, 1000
	pix := bytes.Repeat([]byte{0xff}, w*h)
	fill := func(r image.Rectangle, v byte) {
		for y := r.Min.Y; y < r.Max.Y; y++ {
			for x := r.Min.X; x < r.Max.X; x++ {
				pix[y*w+x] = v
			}
		}
	}
	for i := 0; i < 10; i++ {
		y := 300 + i*20
		fill(image.Rect(200, y, 600, y+12), 20)
	}
	fill(image.Rect(50, 50, 80, 80), 90)
	fill(image.Rect(780, 0, 785, 1000), 60)
	return pix
}

// scannedPDF has three 4×5 inch pages: a scan, a blank page and a page
// whose image uses an unsupported codec.
func scannedPDF(t *testing.T) []byte {
	t.Helper()
	scan, err := filters.EncodeFlate(scanImage(), zlib.DefaultCompression)
	require.NoError(t, err)
	content := "q 288 0 0 360 0 0 cm /Im1 Do Q"
	objects := []string{
		"<< /Type /Catalog /Pages 2 0 R >>",
		"<< /Type /Pages /Kids [3 0 R 4 0 R 5 0 R] /Count 3 /MediaBox [0 0 288 360] >>",
		"<< /Type /Page /Parent 2 0 R /Contents 6 0 R /Resources << /XObject << /Im1 7 0 R >> >> >>",
		"<< /Type /Page /Parent 2 0 R /Contents 8 0 R >>",
		"<< /Type /Page /Parent 2 0 R /Contents 6 0 R /Resources << /XObject << /Im1 9 0 R >> >> >>",
		fmt.Sprintf("<< /Length %d >>\nstream\n%s\nendstream", len(content), content),
		fmt.Sprintf("<< /Type /XObject /Subtype /Image /Width 800 /Height 1000 /ColorSpace /DeviceGray /BitsPerComponent 8 /Filter /FlateDecode /Length %d >>\nstream\n%s\nendstream", len(scan), scan),
		"<< /Length 0 >>\nstream\n\nendstream",
		"<< /Type /XObject /Subtype /Image /Width 8 /Height 8 /ColorSpace /DeviceGray /BitsPerComponent 8 /Filter /JPXDecode /Length 4 >>\nstream\nJPX!\nendstream",
	}
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
	fmt.Fprintf(buf, "trailer << /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(objects)+1, xrefOff)
	return buf.Bytes()
}

func isDark(c color.RGBA) bool { return c.R < 128 && c.G < 128 && c.B < 128 }

func TestProcessCleansAndCentres(t *testing.T) {
	p, err := NewProcessor(Options{DPI: 200, Center: edit.CenterShift, Workers: 2})
	require.NoError(t, err)

	var out bytes.Buffer
	report, err := p.Process(context.Background(), bytes.NewReader(scannedPDF(t)), &out)
	require.NoError(t, err)

	assert.Equal(t, 3, report.TotalPages)
	assert.Equal(t, []int{1, 2}, report.EditedPages)
	assert.Equal(t, []int{1}, report.Centered)
	assert.Equal(t, []int{2}, report.Fallback)
	require.Len(t, report.Skipped, 1)
	assert.Equal(t, 3, report.Skipped[0].Page)
	assert.Contains(t, report.Skipped[0].Reason, "unsupported codec")
	assert.Greater(t, report.Objects, 0)
	assert.InDelta(t, 2.0/3.0, report.EditRatio(), 1e-9)

	doc, err := ir.NewDefault().Parse(context.Background(), bytes.NewReader(out.Bytes()))
	require.NoError(t, err)
	require.Len(t, doc.Pages, 3)

	img, err := raster.NewRenderer(raster.Config{}).Render(context.Background(), doc, doc.Pages[0], 200)
	require.NoError(t, err)
	assert.False(t, isDark(img.RGBAAt(65, 65)), "stain should be painted over")
	assert.False(t, isDark(img.RGBAAt(782, 500)), "edge shadow should be painted over")

	// The text block sat above the middle of the page and moves down.
	first := -1
	for y := 0; y < 1000; y++ {
		if isDark(img.RGBAAt(400, y)) {
			first = y
			break
		}
	}
	assert.InDelta(t, 404, first, 25)
}

func TestProcessSelectsPages(t *testing.T) {
	p, err := NewProcessor(Options{Select: "page.fallback"})
	require.NoError(t, err)

	report, err := p.Process(context.Background(), bytes.NewReader(scannedPDF(t)), &bytes.Buffer{})
	require.NoError(t, err)
	assert.Equal(t, []int{2}, report.EditedPages)
	assert.Equal(t, []int{1}, report.Unselected)
	assert.Empty(t, report.Centered)
}

func TestProcessReportsProgress(t *testing.T) {
	var (
		mu    sync.Mutex
		calls [][2]int
	)
	p, err := NewProcessor(Options{Workers: 3, Progress: func(done, total int) {
		mu.Lock()
		defer mu.Unlock()
		calls = append(calls, [2]int{done, total})
	}})
	require.NoError(t, err)

	_, err = p.Process(context.Background(), bytes.NewReader(scannedPDF(t)), &bytes.Buffer{})
	require.NoError(t, err)
	assert.Equal(t, [][2]int{{1, 3}, {2, 3}, {3, 3}}, calls)
}

func TestProcessRejectsNonPDF(t *testing.T) {
	p, err := NewProcessor(Options{})
	require.NoError(t, err)
	_, err = p.Process(context.Background(), bytes.NewReader([]byte("not a pdf at all")), &bytes.Buffer{})
	assert.ErrorIs(t, err, ErrNotPDF)
}

func TestNewProcessorValidates(t *testing.T) {
	_, err := NewProcessor(Options{DPI: 20, Workers: -1})
	require.ErrorIs(t, err, ErrInvalidOptions)
	assert.Contains(t, err.Error(), "dpi 20")
	assert.Contains(t, err.Error(), "workers")

	_, err = NewProcessor(Options{Select: "page.number ==="})
	assert.ErrorIs(t, err, ErrInvalidOptions)
	assert.ErrorIs(t, err, scripting.ErrCompile)
}

func TestProcessFile(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "scan.pdf")
	require.NoError(t, os.WriteFile(in, scannedPDF(t), 0o644))

	p, err := NewProcessor(Options{Debug: true, DebugPages: 1})
	require.NoError(t, err)
	report, err := p.ProcessFile(context.Background(), in, "")
	require.NoError(t, err)

	want := filepath.Join(dir, "output", "cleaned_scan.pdf")
	assert.Equal(t, want, DefaultOutputPath(in))
	assert.Equal(t, want, report.Output)
	assert.FileExists(t, want)

	debugDir := filepath.Join(dir, "debug_output", "scan")
	assert.Equal(t, debugDir, report.DebugDir)
	assert.FileExists(t, filepath.Join(debugDir, "page_001_analysis.png"))
	assert.FileExists(t, filepath.Join(debugDir, "page_001_cleaned.png"))
	assert.NoFileExists(t, filepath.Join(debugDir, "page_002_analysis.png"))

	_, err = p.ProcessFile(context.Background(), in, in)
	assert.Error(t, err)
}

func TestAnalyzeOnly(t *testing.T) {
	p, err := NewProcessor(Options{})
	require.NoError(t, err)
	pages, err := p.Analyze(context.Background(), bytes.NewReader(scannedPDF(t)))
	require.NoError(t, err)
	require.Len(t, pages, 3)
	assert.False(t, pages[0].Analysis.Fallback)
	assert.Len(t, pages[0].Analysis.CleanAreas, 4)
	assert.True(t, pages[1].Analysis.Fallback)
	assert.Error(t, pages[2].Err)
}
