// Package i18n renders user-facing error messages per locale.
package i18n

import (
	"strings"
	"sync"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/message/catalog"
)

// Code is a machine-readable error code (duplicated from errors package to avoid cycle).
type Code = string

// BaseLocale is served when no better match exists.
const BaseLocale = "en-US"

// entry is a printf-style message plus the metadata keys feeding its
// positional arguments.
type entry struct {
	format string
	args   []string
}

// Catalog renders messages for one locale.
type Catalog struct {
	locale  string
	printer *message.Printer
	entries map[Code]entry
}

var (
	supported = []language.Tag{language.AmericanEnglish, language.BrazilianPortuguese}
	matcher   = language.NewMatcher(supported)

	catalogsMu sync.RWMutex
	catalogs   = map[string]*Catalog{}
)

// GetCatalog returns the catalog best matching locale, falling back to en-US.
func GetCatalog(locale string) *Catalog {
	requested := strings.TrimSpace(locale)
	if requested == "" {
		requested = BaseLocale
	}
	if c, ok := lookupCatalog(requested); ok {
		return c
	}

	tag := language.AmericanEnglish
	if parsed, err := language.Parse(requested); err == nil {
		_, idx, confidence := matcher.Match(parsed)
		if confidence != language.No {
			tag = supported[idx]
		}
	}
	resolved := tag.String()
	if c, ok := lookupCatalog(resolved); ok {
		return c
	}
	return storeCatalogIfAbsent(resolved, newCatalogForTag(tag, builtinEntries(tag)))
}

// Locale returns the locale of this catalog.
func (c *Catalog) Locale() string {
	return c.locale
}

// Format renders the message for code with values from metadata.
// Unknown codes render as the code itself; missing metadata renders empty.
func (c *Catalog) Format(code Code, metadata map[string]string) string {
	e, ok := c.entries[code]
	if !ok {
		return code
	}
	args := make([]any, len(e.args))
	for i, key := range e.args {
		args[i] = metadata[key]
	}
	return c.printer.Sprintf(code, args...)
}

// RegisterCatalog registers a catalog for locale, replacing any previous one.
func RegisterCatalog(locale string, cat *Catalog) {
	catalogsMu.Lock()
	defer catalogsMu.Unlock()
	catalogs[locale] = cat
}

// NewCatalog builds a catalog from printf formats keyed by code. Each format
// receives metadata values in the order given by argKeys[code].
func NewCatalog(locale string, formats map[Code]string, argKeys map[Code][]string) *Catalog {
	tag, err := language.Parse(locale)
	if err != nil {
		tag = language.Und
	}
	entries := make(map[Code]entry, len(formats))
	for code, format := range formats {
		entries[code] = entry{format: format, args: append([]string(nil), argKeys[code]...)}
	}
	c := newCatalogForTag(tag, entries)
	c.locale = locale
	return c
}

func newCatalogForTag(tag language.Tag, entries map[Code]entry) *Catalog {
	builder := catalog.NewBuilder(catalog.Fallback(language.AmericanEnglish))
	for code, e := range entries {
		// SetString only fails on malformed tags, which Parse already rejected.
		_ = builder.SetString(tag, code, e.format)
	}
	return &Catalog{
		locale:  tag.String(),
		printer: message.NewPrinter(tag, message.Catalog(builder)),
		entries: entries,
	}
}

func builtinEntries(tag language.Tag) map[Code]entry {
	if tag == language.BrazilianPortuguese {
		return ptBR
	}
	return enUS
}

func lookupCatalog(locale string) (*Catalog, bool) {
	catalogsMu.RLock()
	defer catalogsMu.RUnlock()
	cat, ok := catalogs[locale]
	return cat, ok
}

func storeCatalogIfAbsent(locale string, candidate *Catalog) *Catalog {
	catalogsMu.Lock()
	defer catalogsMu.Unlock()
	if existing, ok := catalogs[locale]; ok {
		return existing
	}
	catalogs[locale] = candidate
	return candidate
}
