package xref

import (
	"bytes"
	"context"
	"errors"
	"sort"
	"strconv"

	"github.com/wudi/scanclean/ir/raw"
	"github.com/wudi/scanclean/scanner"
)

var errNoObjects = errors.New("repair failed: no objects found")

// repair scans the whole file for "<num> <gen> obj" headers. Later
// definitions win, matching incremental updates. The trailer is the last
// "trailer" dictionary with a /Root, then the last xref stream dictionary
// with a /Root, and finally one synthesised around the document catalog.
func repair(ctx context.Context, data []byte) (*table, error) {
	entries := make(map[int]Entry)
	kw := []byte("obj")
	for i, n := 0, 0; i < len(data); n++ {
		if n%1024 == 0 && ctx.Err() != nil {
			return nil, ctx.Err()
		}
		j := bytes.Index(data[i:], kw)
		if j < 0 {
			break
		}
		at := i + j
		i = at + len(kw)
		if at+len(kw) < len(data) && !isDelimiterByte(data[at+len(kw)]) {
			continue
		}
		num, gen, start, ok := headerBefore(data, at)
		if !ok {
			continue
		}
		entries[num] = Entry{Kind: EntryInUse, Offset: int64(start), Gen: gen}
	}
	if len(entries) == 0 {
		return nil, errNoObjects
	}

	t := &table{entries: entries, kind: "repaired"}
	t.trailer = findTrailer(data)
	if t.trailer == nil {
		t.trailer = synthesiseTrailer(data, entries)
	}
	maxNum := 0
	for n := range entries {
		if n > maxNum {
			maxNum = n
		}
	}
	if size, ok := raw.IntValue(firstOf(t.trailer, "Size")); !ok || size <= maxNum {
		t.trailer.SetKey("Size", raw.NumberInt(int64(maxNum+1)))
	}
	t.trailer.Delete("Prev")
	t.trailer.Delete("XRefStm")
	return t, nil
}

// headerBefore walks backwards from an "obj" keyword over "<num> <gen> ".
func headerBefore(data []byte, at int) (num, gen, start int, ok bool) {
	p := at - 1
	if p < 0 || !isSpace(data[p]) {
		return 0, 0, 0, false
	}
	for p >= 0 && isSpace(data[p]) {
		p--
	}
	genEnd := p + 1
	for p >= 0 && data[p] >= '0' && data[p] <= '9' {
		p--
	}
	if p+1 == genEnd || p < 0 || !isSpace(data[p]) {
		return 0, 0, 0, false
	}
	gen, _ = strconv.Atoi(string(data[p+1 : genEnd]))
	for p >= 0 && isSpace(data[p]) {
		p--
	}
	numEnd := p + 1
	for p >= 0 && data[p] >= '0' && data[p] <= '9' {
		p--
	}
	if p+1 == numEnd {
		return 0, 0, 0, false
	}
	if p >= 0 && !isDelimiterByte(data[p]) {
		return 0, 0, 0, false
	}
	num, err := strconv.Atoi(string(data[p+1 : numEnd]))
	if err != nil {
		return 0, 0, 0, false
	}
	return num, gen, p + 1, true
}

func findTrailer(data []byte) *raw.DictObj {
	kw := []byte("trailer")
	for end := len(data); end > 0; {
		idx := bytes.LastIndex(data[:end], kw)
		if idx < 0 {
			return nil
		}
		end = idx
		s := scanner.FromBytes(data, scanner.Config{})
		if err := s.Seek(int64(idx + len(kw))); err != nil {
			continue
		}
		obj, err := scanner.ParseObject(s)
		if err != nil {
			continue
		}
		if d, ok := obj.(*raw.DictObj); ok {
			if _, hasRoot := d.Lookup("Root"); hasRoot {
				return d
			}
		}
	}
	return nil
}

func synthesiseTrailer(data []byte, entries map[int]Entry) *raw.DictObj {
	nums := make([]int, 0, len(entries))
	for n := range entries {
		nums = append(nums, n)
	}
	sort.Ints(nums)

	var xrefDict *raw.DictObj
	catalog, info := -1, -1
	for _, n := range nums {
		e := entries[n]
		s := scanner.FromBytes(data, scanner.Config{})
		if s.Seek(e.Offset) != nil {
			continue
		}
		obj, err := scanner.ParseIndirect(s, nil)
		if err != nil {
			continue
		}
		var dict *raw.DictObj
		switch v := obj.Object.(type) {
		case *raw.DictObj:
			dict = v
		case *raw.StreamObj:
			dict = v.Dict
		default:
			continue
		}
		typ, _ := raw.NameValue(firstOf(dict, "Type"))
		switch {
		case typ == "XRef":
			if _, ok := dict.Lookup("Root"); ok {
				xrefDict = dict.Clone()
			}
		case typ == "Catalog":
			catalog = n
		case info < 0 && (hasKey(dict, "Producer") || hasKey(dict, "Creator")) && typ == "":
			info = n
		}
	}
	if xrefDict != nil {
		for _, k := range []string{"Length", "Filter", "DecodeParms", "W", "Index", "Type"} {
			xrefDict.Delete(k)
		}
		return xrefDict
	}
	tr := raw.Dict()
	if catalog >= 0 {
		tr.SetKey("Root", raw.Ref(catalog, entries[catalog].Gen))
	}
	if info >= 0 {
		tr.SetKey("Info", raw.Ref(info, entries[info].Gen))
	}
	return tr
}

func hasKey(d *raw.DictObj, k string) bool {
	_, ok := d.Lookup(k)
	return ok
}

func isDelimiterByte(c byte) bool {
	switch c {
	case '(', ')', '<', '>', '[', ']', '{', '}', '/', '%':
		return true
	}
	return isSpace(c)
}
