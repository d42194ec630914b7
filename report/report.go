// Package report renders the summary of a cleaning run.
package report

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"gopkg.in/yaml.v3"

	"github.com/wudi/scanclean/clean"
)

var ErrUnknownFormat = errors.New("unknown report format")

type Format string

const (
	FormatText     Format = "text"
	FormatJSON     Format = "json"
	FormatYAML     Format = "yaml"
	FormatMarkdown Format = "markdown"
	FormatHTML     Format = "html"
)

func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "text", "txt":
		return FormatText, nil
	case "json":
		return FormatJSON, nil
	case "yaml", "yml":
		return FormatYAML, nil
	case "markdown", "md":
		return FormatMarkdown, nil
	case "html":
		return FormatHTML, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownFormat, s)
}

type Options struct {
	Format   Format
	Language language.Tag
	// MaxPages limits the listed page numbers. Defaults to 20.
	MaxPages int
}

// Write renders r to w.
func Write(w io.Writer, r clean.Report, opts Options) error {
	if opts.MaxPages <= 0 {
		opts.MaxPages = 20
	}
	if opts.Language == language.Und {
		opts.Language = English
	}
	p := newPrinter(opts.Language)
	switch opts.Format {
	case FormatText, "":
		_, err := io.WriteString(w, text(p, r, opts.MaxPages))
		return err
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(r)
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(r); err != nil {
			return err
		}
		return enc.Close()
	case FormatMarkdown:
		_, err := io.WriteString(w, markdown(p, r, opts.MaxPages))
		return err
	case FormatHTML:
		return html(w, p, r, opts)
	}
	return fmt.Errorf("%w: %q", ErrUnknownFormat, opts.Format)
}

func text(p *message.Printer, r clean.Report, maxPages int) string {
	var b strings.Builder
	line := func(key message.Reference, args ...any) {
		b.WriteString(p.Sprintf(key, args...))
		b.WriteByte('\n')
	}
	line(msgTitle)
	if r.Input != "" {
		line(msgInput, r.Input)
	}
	line(msgTotal, r.TotalPages)
	line(msgEdited, len(r.EditedPages), r.EditRatio()*100)
	line(msgEditedList, PageList(p, r.EditedPages, maxPages))
	if len(r.Centered) > 0 {
		line(msgCentered, len(r.Centered))
	}
	if len(r.Unselected) > 0 {
		line(msgUnselected, len(r.Unselected))
	}
	for _, s := range r.Skipped {
		line(msgSkipped, s.Page, s.Reason)
	}
	line(msgElapsed, r.Elapsed.Seconds())
	if r.Output != "" {
		line(msgOutput, r.Output)
	}
	if r.DebugDir != "" {
		line(msgDebug, r.DebugDir)
	}
	return b.String()
}

func markdown(p *message.Printer, r clean.Report, maxPages int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", p.Sprintf(msgTitle))
	item := func(key message.Reference, args ...any) {
		fmt.Fprintf(&b, "- %s\n", p.Sprintf(key, args...))
	}
	if r.Input != "" {
		item(msgInput, "`"+r.Input+"`")
	}
	item(msgTotal, r.TotalPages)
	item(msgEdited, len(r.EditedPages), r.EditRatio()*100)
	item(msgEditedList, PageList(p, r.EditedPages, maxPages))
	if len(r.Centered) > 0 {
		item(msgCentered, len(r.Centered))
	}
	item(msgElapsed, r.Elapsed.Seconds())
	if r.Output != "" {
		item(msgOutput, "`"+r.Output+"`")
	}
	if r.DebugDir != "" {
		item(msgDebug, "`"+r.DebugDir+"`")
	}
	if len(r.Skipped) > 0 {
		fmt.Fprintf(&b, "\n| %s | %s |\n|---:|---|\n", p.Sprintf(msgPage), p.Sprintf(msgReason))
		for _, s := range r.Skipped {
			fmt.Fprintf(&b, "| %d | %s |\n", s.Page, strings.ReplaceAll(s.Reason, "|", `\|`))
		}
	}
	return b.String()
}

func html(w io.Writer, p *message.Printer, r clean.Report, opts Options) error {
	md := goldmark.New(goldmark.WithExtensions(extension.Table))
	var body bytes.Buffer
	if err := md.Convert([]byte(markdown(p, r, opts.MaxPages)), &body); err != nil {
		return fmt.Errorf("render html report: %w", err)
	}
	_, err := fmt.Fprintf(w, "<!DOCTYPE html>\n<html lang=%q>\n<head><meta charset=\"utf-8\"><title>%s</title></head>\n<body>\n%s</body>\n</html>\n",
		opts.Language.String(), p.Sprintf(msgTitle), body.Bytes())
	return err
}

// PageList formats the first max page numbers, followed by a localised
// "+N more" when the list is longer.
func PageList(p *message.Printer, pages []int, max int) string {
	if len(pages) == 0 {
		return p.Sprintf(msgNone)
	}
	n := min(len(pages), max)
	parts := make([]string, 0, n+1)
	for _, pg := range pages[:n] {
		parts = append(parts, strconv.Itoa(pg))
	}
	s := strings.Join(parts, ", ")
	if rest := len(pages) - n; rest > 0 {
		s += " " + p.Sprintf(msgMore, rest)
	}
	return s
}
