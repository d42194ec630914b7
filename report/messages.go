package report

import (
	"fmt"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/message/catalog"
)

// Supported report languages.
var (
	English = language.English
	Turkish = language.Turkish
)

// Message keys. The English text doubles as the key.
const (
	msgTitle      = "Cleaning report"
	msgInput      = "Input: %s"
	msgOutput     = "Output: %s"
	msgDebug      = "Debug images: %s"
	msgTotal      = "Total pages: %d"
	msgEdited     = "Edited pages: %d (%.1f%%)"
	msgEditedList = "Edited: %s"
	msgMore       = "+%d more"
	msgCentered   = "Centred pages: %d"
	msgUnselected = "Not selected: %d"
	msgSkipped    = "Skipped page %d: %s"
	msgElapsed    = "Elapsed: %.2f s"
	msgNone       = "none (no artifacts found)"
	msgPage       = "Page"
	msgReason     = "Reason"
)

var turkish = map[string]string{
	msgTitle:      "Temizleme raporu",
	msgInput:      "Girdi: %s",
	msgOutput:     "Çıktı: %s",
	msgDebug:      "Hata ayıklama görüntüleri: %s",
	msgTotal:      "Toplam sayfa: %d",
	msgEdited:     "Düzenlenen sayfa: %d (%%%.1f)",
	msgEditedList: "Düzenlenenler: %s",
	msgMore:       "+%d sayfa daha",
	msgCentered:   "Ortalanan sayfa: %d",
	msgUnselected: "Seçilmeyen: %d",
	msgSkipped:    "Atlanan sayfa %d: %s",
	msgElapsed:    "Süre: %.2f sn",
	msgNone:       "yok (temizlenecek leke bulunamadı)",
	msgPage:       "Sayfa",
	msgReason:     "Neden",
}

var messages = func() catalog.Catalog {
	b := catalog.NewBuilder(catalog.Fallback(English))
	for key, tr := range turkish {
		b.SetString(English, key, key)
		b.SetString(Turkish, key, tr)
	}
	return b
}()

// ParseLanguage accepts BCP 47 tags and maps anything else to English.
func ParseLanguage(s string) (language.Tag, error) {
	if strings.TrimSpace(s) == "" {
		return English, nil
	}
	tag, err := language.Parse(s)
	if err != nil {
		return English, fmt.Errorf("report language %q: %w", s, err)
	}
	matcher := language.NewMatcher([]language.Tag{English, Turkish})
	_, idx, _ := matcher.Match(tag)
	if idx == 1 {
		return Turkish, nil
	}
	return English, nil
}

func newPrinter(tag language.Tag) *message.Printer {
	return message.NewPrinter(tag, message.Catalog(messages))
}
