package filters

import "github.com/wudi/scanclean/ir/raw"

// ExtractFilters reads Filter and DecodeParms entries from a stream dictionary.
// Inline image abbreviations (/F, /DP) are accepted as well.
func ExtractFilters(dict raw.Dictionary) ([]string, []raw.Dictionary) {
	var names []string
	var params []raw.Dictionary
	if dict == nil {
		return nil, nil
	}

	filterObj, ok := dict.Get(raw.NameLiteral("Filter"))
	if !ok {
		filterObj, ok = dict.Get(raw.NameLiteral("F"))
	}
	if !ok {
		return names, params
	}

	switch f := filterObj.(type) {
	case raw.Name:
		names = append(names, CanonicalName(f.Value()))
	case *raw.ArrayObj:
		for _, item := range f.Items {
			if n, ok := item.(raw.Name); ok {
				names = append(names, CanonicalName(n.Value()))
			}
		}
	}
	if len(names) == 0 {
		return names, params
	}

	pObj, ok := dict.Get(raw.NameLiteral("DecodeParms"))
	if !ok {
		pObj, ok = dict.Get(raw.NameLiteral("DP"))
	}
	if ok {
		switch p := pObj.(type) {
		case raw.Dictionary:
			params = append(params, p)
		case *raw.ArrayObj:
			for _, item := range p.Items {
				d, _ := item.(raw.Dictionary)
				params = append(params, d)
			}
		}
	}
	return names, params
}

// CanonicalName expands the abbreviated filter names allowed in inline images.
func CanonicalName(name string) string {
	switch name {
	case "AHx":
		return "ASCIIHexDecode"
	case "A85":
		return "ASCII85Decode"
	case "LZW":
		return "LZWDecode"
	case "Fl":
		return "FlateDecode"
	case "RL":
		return "RunLengthDecode"
	case "CCF":
		return "CCITTFaxDecode"
	case "DCT":
		return "DCTDecode"
	}
	return name
}
