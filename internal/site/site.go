// Package site reads paginated news archives. A Definition describes one
// site: its sections, how listing pages are addressed, which adapter renders
// them and the CSS selectors that locate articles and dates.
package site

import (
	"fmt"
	"net/url"
	"slices"
	"strconv"
	"strings"

	"github.com/JakeFAU/newswatch/internal/crawler"
)

// Adapter selects how listing and article pages are fetched.
type Adapter string

const (
	// AdapterSelector fetches static HTML over HTTP.
	AdapterSelector Adapter = "selector"
	// AdapterHeadless renders pages in a per-job headless browser.
	AdapterHeadless Adapter = "headless"
	// AdapterRSS reads a section's RSS or Atom feed as a single listing page.
	AdapterRSS Adapter = "rss"
)

// DefaultPageURL addresses listing pages relative to the site root.
const DefaultPageURL = "{section}/page/{page}"

// DefaultFeedURL addresses a section's feed when the adapter is rss.
const DefaultFeedURL = "{section}"

// Selectors locate data in listing and article pages.
type Selectors struct {
	Item     string
	Link     string
	Date     string
	LastPage string
	Title    string
	Content  string
}

// Definition configures one site.
type Definition struct {
	SiteURL     string
	Sections    []string
	Adapter     Adapter
	PageURL     string
	Selectors   Selectors
	DateLayouts []string
	Locale      string
	Timezone    string
}

// Validate reports configuration errors.
func (d Definition) Validate() error {
	u, err := url.Parse(d.SiteURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("site url %q must be absolute", d.SiteURL)
	}
	if strings.HasSuffix(d.SiteURL, "/") {
		return fmt.Errorf("site url %q must not end with a slash", d.SiteURL)
	}
	if len(d.Sections) == 0 {
		return fmt.Errorf("site %s: at least one section is required", d.SiteURL)
	}
	switch d.Adapter {
	case AdapterSelector, AdapterHeadless:
	case AdapterRSS:
		return nil
	default:
		return fmt.Errorf("site %s: unknown adapter %q", d.SiteURL, d.Adapter)
	}
	if d.Selectors.Item == "" || d.Selectors.Link == "" || d.Selectors.Date == "" {
		return fmt.Errorf("site %s: item, link and date selectors are required", d.SiteURL)
	}
	if d.PageURL != "" && !strings.Contains(d.PageURL, "{page}") {
		return fmt.Errorf("site %s: page url template must contain {page}", d.SiteURL)
	}
	return nil
}

// Targets expands the definition into one crawl target per section.
func (d Definition) Targets() []crawler.CrawlTarget {
	out := make([]crawler.CrawlTarget, 0, len(d.Sections))
	for _, section := range d.Sections {
		out = append(out, crawler.CrawlTarget{SiteURL: d.SiteURL, SectionPath: section})
	}
	return out
}

// pageURL returns the absolute URL of a listing page.
func (d Definition) pageURL(target crawler.CrawlTarget, page int) string {
	tmpl := d.PageURL
	switch {
	case tmpl != "":
	case d.Adapter == AdapterRSS:
		tmpl = DefaultFeedURL
	default:
		tmpl = DefaultPageURL
	}
	section := strings.TrimRight(target.SectionPath, "/")
	path := strings.NewReplacer("{section}", section, "{page}", strconv.Itoa(page)).Replace(tmpl)
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	return strings.TrimRight(target.SiteURL, "/") + "/" + strings.TrimLeft(path, "/")
}

type entry struct {
	target crawler.CrawlTarget
	def    Definition
}

// Registry indexes definitions by target key.
type Registry struct {
	byKey map[string]entry
	order []string
}

// NewRegistry validates defs and indexes every section.
func NewRegistry(defs []Definition) (*Registry, error) {
	r := &Registry{byKey: make(map[string]entry)}
	for _, d := range defs {
		if err := d.Validate(); err != nil {
			return nil, err
		}
		for _, t := range d.Targets() {
			if _, dup := r.byKey[t.Key()]; dup {
				return nil, fmt.Errorf("duplicate crawl target %s", t.Key())
			}
			r.byKey[t.Key()] = entry{target: t, def: d}
			r.order = append(r.order, t.Key())
		}
	}
	return r, nil
}

// Targets lists every configured target in configuration order.
func (r *Registry) Targets() []crawler.CrawlTarget {
	out := make([]crawler.CrawlTarget, 0, len(r.order))
	for _, k := range r.order {
		out = append(out, r.byKey[k].target)
	}
	return out
}

// Lookup resolves a target key.
func (r *Registry) Lookup(key string) (crawler.CrawlTarget, error) {
	e, ok := r.byKey[key]
	if !ok {
		return crawler.CrawlTarget{}, fmt.Errorf("%w: %s", crawler.ErrUnknownTarget, key)
	}
	return e.target, nil
}

func (r *Registry) definition(target crawler.CrawlTarget) (Definition, error) {
	e, ok := r.byKey[target.Key()]
	if !ok {
		return Definition{}, fmt.Errorf("%w: %s", crawler.ErrUnknownTarget, target.Key())
	}
	return e.def, nil
}

// Keys returns the sorted target keys.
func (r *Registry) Keys() []string {
	keys := slices.Clone(r.order)
	slices.Sort(keys)
	return keys
}
