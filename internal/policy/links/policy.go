// Package links decides which candidate links the enrichment stages follow.
package links

import (
	"net/url"
	"path"
	"strings"
)

// DefaultBlockedHosts are social networks whose pages are never candidates.
var DefaultBlockedHosts = []string{"facebook", "twitter", "youtube", "linkedin", "instagram"}

// DefaultSkippedExtensions are documents and images the text fetcher cannot read.
var DefaultSkippedExtensions = []string{"pdf", "doc", "docx", "jpg", "jpeg", "png"}

// Policy filters candidate URLs.
type Policy struct {
	blockedHosts []string
	skippedExt   map[string]struct{}
}

// New creates a Policy. Nil slices select the defaults.
func New(blockedHosts, skippedExtensions []string) *Policy {
	if blockedHosts == nil {
		blockedHosts = DefaultBlockedHosts
	}
	if skippedExtensions == nil {
		skippedExtensions = DefaultSkippedExtensions
	}
	ext := make(map[string]struct{}, len(skippedExtensions))
	for _, e := range skippedExtensions {
		ext[strings.ToLower(strings.TrimPrefix(e, "."))] = struct{}{}
	}
	hosts := make([]string, 0, len(blockedHosts))
	for _, h := range blockedHosts {
		hosts = append(hosts, strings.ToLower(h))
	}
	return &Policy{blockedHosts: hosts, skippedExt: ext}
}

// AllowCandidate reports whether a search hit may be attached to an entry.
func (p *Policy) AllowCandidate(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return false
	}
	host := strings.ToLower(u.Hostname())
	for _, blocked := range p.blockedHosts {
		if strings.Contains(host, blocked) {
			return false
		}
	}
	return true
}

// AllowFetch reports whether the text fetcher should read rawURL.
func (p *Policy) AllowFetch(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	ext := strings.ToLower(strings.TrimPrefix(path.Ext(u.Path), "."))
	_, skip := p.skippedExt[ext]
	return !skip
}
