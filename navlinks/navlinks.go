// Package navlinks scrapes the navigation links and logo of a site header
// and caches them for a day.
package navlinks

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"
	"unicode"

	"github.com/sirupsen/logrus"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	mjhttp "matchjumper/http"
	"matchjumper/storage"
)

// CacheKey is the storage key of the cached navigation.
const CacheKey = "nav_cache"

// DefaultURL is the site whose header is mirrored.
const DefaultURL = "https://robostem.org"

// DefaultKeywords select the header links worth mirroring.
var DefaultKeywords = []string{"HOW", "WHAT", "WHO", "Contact", "Join"}

// Link is a navigation link.
type Link struct {
	Text string `json:"text"`
	Href string `json:"href"`
}

// Nav is a scraped header.
type Nav struct {
	Links []Link `json:"navLinks"`
	Logo  string `json:"logoUrl,omitempty"`
	// Date is the calendar day (YYYY-MM-DD) the header was fetched.
	Date string `json:"timestamp"`
}

// Options configures a Fetcher.
type Options struct {
	URL string
	// Keywords keep only links whose text contains one of these words
	// (case-insensitive). Empty keeps every link.
	Keywords []string
	// Fallback is served when nothing was ever fetched.
	Fallback []Link
	HTTP     *mjhttp.Client
	KV       storage.KV
	Log      logrus.FieldLogger
}

// Fetcher serves the cached header and refreshes it once per day.
type Fetcher struct {
	opts Options
	log  logrus.FieldLogger
	now  func() time.Time
}

// New returns a Fetcher.
func New(opts Options) *Fetcher {
	if opts.URL == "" {
		opts.URL = DefaultURL
	}
	log := opts.Log
	if log == nil {
		log = logrus.StandardLogger()
	}
	if opts.HTTP == nil {
		opts.HTTP = mjhttp.New(nil, log)
	}
	return &Fetcher{opts: opts, log: log.WithField("component", "navlinks"), now: time.Now}
}

// DefaultFallback is the static header used when the site was never reachable.
func DefaultFallback(base string) []Link {
	base = strings.TrimRight(base, "/")
	return []Link{
		{Text: "HOW", Href: base + "/#how"},
		{Text: "WHAT", Href: base + "/#what"},
		{Text: "WHO", Href: base + "/#who"},
		{Text: "Join Us / Contact", Href: base + "/contact/"},
	}
}

// Cached returns the stored header without fetching.
func (f *Fetcher) Cached(ctx context.Context) (Nav, bool) {
	if f.opts.KV == nil {
		return Nav{}, false
	}
	raw, ok := f.opts.KV.Get(ctx, CacheKey)
	if !ok {
		return Nav{}, false
	}
	var n Nav
	if err := json.Unmarshal(raw, &n); err != nil {
		f.log.WithError(err).Debug("discarding unreadable nav cache")
		return Nav{}, false
	}
	return n, true
}

// Get returns today's header, fetching it when the cache is missing or from
// an earlier day. A failed fetch serves the stale cache, else the fallback.
func (f *Fetcher) Get(ctx context.Context) Nav {
	today := f.now().UTC().Format("2006-01-02")
	cached, ok := f.Cached(ctx)
	if ok && cached.Date == today {
		return cached
	}

	fresh, err := f.Fetch(ctx)
	if err != nil {
		f.log.WithError(err).Warn("could not refresh navigation")
		if ok {
			return cached
		}
		return Nav{Links: f.opts.Fallback}
	}

	fresh.Date = today
	if f.opts.KV != nil {
		if data, err := json.Marshal(fresh); err == nil {
			f.opts.KV.Set(ctx, CacheKey, data)
		}
	}
	return fresh
}

// Fetch downloads and parses the page, bypassing the cache.
func (f *Fetcher) Fetch(ctx context.Context) (Nav, error) {
	resp, err := f.opts.HTTP.Get(ctx, f.opts.URL, map[string]string{"Accept": "text/html"})
	if err != nil {
		return Nav{}, err
	}
	base, err := url.Parse(f.opts.URL)
	if err != nil {
		return Nav{}, fmt.Errorf("parse base url: %w", err)
	}
	return Parse(bytes.NewReader(resp.Body), base, f.opts.Keywords)
}

// Parse extracts the logo and the links found under nav, header or .menu
// elements. Links are resolved against base and unique by text.
func Parse(r io.Reader, base *url.URL, keywords []string) (Nav, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return Nav{}, fmt.Errorf("parse html: %w", err)
	}

	var nav Nav
	seen := make(map[string]bool)

	var walk func(n *html.Node, inNav, inLogo bool)
	walk = func(n *html.Node, inNav, inLogo bool) {
		if n.Type == html.ElementNode {
			if n.DataAtom == atom.Nav || n.DataAtom == atom.Header || hasClass(n, "menu") {
				inNav = true
			}
			if hasClass(n, "logo") {
				inLogo = true
			}

			if n.DataAtom == atom.Img && nav.Logo == "" && (inNav || inLogo) {
				if src := attr(n, "src"); src != "" {
					nav.Logo = resolve(base, src)
				}
			}

			if n.DataAtom == atom.A && inNav {
				text := strings.TrimSpace(textContent(n))
				href := strings.TrimSpace(attr(n, "href"))
				if keep(text, href, keywords) && !seen[text] {
					seen[text] = true
					nav.Links = append(nav.Links, Link{Text: text, Href: resolve(base, href)})
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c, inNav, inLogo)
		}
	}
	walk(doc, false, false)
	return nav, nil
}

func keep(text, href string, keywords []string) bool {
	if text == "" || href == "" || href == "#" {
		return false
	}
	if strings.HasPrefix(strings.ToLower(href), "javascript:") {
		return false
	}
	if len(keywords) == 0 {
		return true
	}
	words := strings.FieldsFunc(text, func(r rune) bool { return !unicode.IsLetter(r) && !unicode.IsDigit(r) })
	for _, w := range words {
		for _, k := range keywords {
			if strings.EqualFold(w, k) {
				return true
			}
		}
	}
	return false
}

func resolve(base *url.URL, ref string) string {
	u, err := url.Parse(ref)
	if err != nil || base == nil {
		return ref
	}
	return base.ResolveReference(u).String()
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func hasClass(n *html.Node, class string) bool {
	for _, c := range strings.Fields(attr(n, "class")) {
		if c == class {
			return true
		}
	}
	return false
}

func textContent(n *html.Node) string {
	var b strings.Builder
	var collect func(*html.Node)
	collect = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			collect(c)
		}
	}
	collect(n)
	return strings.Join(strings.Fields(b.String()), " ")
}
