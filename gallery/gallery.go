// Package gallery holds the named image-URL extractors. Each entry encodes
// one site family's gallery idiom; profiles select one by its function name.
// The registry is closed: new sites add new entries here, the core never
// loads code at runtime.
package gallery

import (
	"encoding/json"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Extractor produces the ordered list of full-size image URLs for one
// product page. Extractors return an empty list on total failure, never an
// error: zero-image policy is the caller's decision.
type Extractor func(doc *goquery.Document, baseURL string) []string

var registry = map[string]Extractor{
	"woo_commerce":         wooCommerce,
	"woo_commerce_gallery": wooCommerceGallery,
	"concept500":           concept500,
	"ea_militaria":         jsonLD,
	"bunker_militaria":     bunkerMilitaria,
	"axis_militaria":       axisMilitaria,
	"militaria_1944":       militaria1944,
	"virtual_grenadier":    virtualGrenadier,
	"jsonld":               jsonLD,
	"og_image":             ogImage,
}

// Known reports whether a named extractor is registered.
func Known(name string) bool {
	_, ok := registry[name]
	return ok
}

// Names returns every registered extractor name (unordered).
func Names() []string {
	out := make([]string, 0, len(registry))
	for k := range registry {
		out = append(out, k)
	}
	return out
}

// Extract dispatches to the named extractor. An unknown name is a profile
// configuration error.
func Extract(name string, doc *goquery.Document, baseURL string) ([]string, error) {
	fn, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("gallery: unknown extractor %q", name)
	}
	return fn(doc, baseURL), nil
}

// thumbSuffix matches resolution suffixes like -150x150 or _64x48 directly
// before the file extension.
var thumbSuffix = regexp.MustCompile(`[-_]\d{1,4}x\d{1,4}(\.[a-zA-Z]{3,4})$`)

// normalizeThumb rewrites a thumbnail variant to its base image.
func normalizeThumb(u string) string {
	return thumbSuffix.ReplaceAllString(u, "$1")
}

// resolve absolutizes href against base. Invalid inputs return "".
func resolve(base, href string) string {
	href = strings.TrimSpace(href)
	if href == "" {
		return ""
	}
	if strings.HasPrefix(href, "http://") || strings.HasPrefix(href, "https://") {
		return href
	}
	b, err := url.Parse(base)
	if err != nil {
		return ""
	}
	h, err := url.Parse(href)
	if err != nil {
		return ""
	}
	out := b.ResolveReference(h)
	if out.Scheme != "http" && out.Scheme != "https" {
		return ""
	}
	return out.String()
}

// collect filters, normalizes, resolves, and dedups in order.
func collect(base string, raw []string) []string {
	seen := map[string]bool{}
	var out []string
	for _, r := range raw {
		u := resolve(base, normalizeThumb(r))
		if u == "" || seen[u] {
			continue
		}
		seen[u] = true
		out = append(out, u)
	}
	return out
}

// attrAll walks sel in document order collecting the first present attribute
// of the given names per element.
func attrAll(sel *goquery.Selection, attrs ...string) []string {
	var out []string
	sel.Each(func(_ int, s *goquery.Selection) {
		for _, a := range attrs {
			if v, ok := s.Attr(a); ok && strings.TrimSpace(v) != "" {
				out = append(out, v)
				return
			}
		}
	})
	return out
}

// wooCommerce reads the standard WooCommerce product gallery: each gallery
// image div carries the full-size URL in data-large_image, falling back to
// the anchor href.
func wooCommerce(doc *goquery.Document, baseURL string) []string {
	imgs := doc.Find("div.woocommerce-product-gallery__image")
	raw := attrAll(imgs.Find("img"), "data-large_image")
	if len(raw) == 0 {
		raw = attrAll(imgs.Find("a"), "href")
	}
	return collect(baseURL, raw)
}

// wooCommerceGallery reads WooCommerce themes that only expose the wrapper
// figure with lazy-loaded imgs.
func wooCommerceGallery(doc *goquery.Document, baseURL string) []string {
	imgs := doc.Find("figure.woocommerce-product-gallery__wrapper img")
	raw := attrAll(imgs, "data-src", "data-large_image", "src")
	return collect(baseURL, raw)
}

// concept500 reads VirtueMart galleries: anchors rel="vm-additional-images".
func concept500(doc *goquery.Document, baseURL string) []string {
	raw := attrAll(doc.Find(`a[rel="vm-additional-images"]`), "href")
	if len(raw) == 0 {
		raw = attrAll(doc.Find("div.main-image img"), "src")
	}
	return collect(baseURL, raw)
}

// bunkerMilitaria reads the legacy table-based layout: every product photo
// lives under the item-photos cell as a thumbnail link.
func bunkerMilitaria(doc *goquery.Document, baseURL string) []string {
	raw := attrAll(doc.Find("div#item-photos a, td.item-photos a"), "href")
	if len(raw) == 0 {
		raw = attrAll(doc.Find("div#item-photos img, td.item-photos img"), "src")
	}
	return collect(baseURL, raw)
}

// axisMilitaria reads fancybox galleries.
func axisMilitaria(doc *goquery.Document, baseURL string) []string {
	raw := attrAll(doc.Find(`a.fancybox, a[data-fancybox]`), "href")
	return collect(baseURL, raw)
}

// militaria1944 combines the og:image header with the thumbnail strip.
func militaria1944(doc *goquery.Document, baseURL string) []string {
	var raw []string
	if v, ok := doc.Find(`meta[property="og:image"]`).Attr("content"); ok {
		raw = append(raw, v)
	}
	raw = append(raw, attrAll(doc.Find("div.product-gallery img, ul.thumbnails img"), "src")...)
	return collect(baseURL, raw)
}

// scriptImages matches quoted image paths inside inline gallery scripts.
var scriptImages = regexp.MustCompile(`["']([^"']+\.(?:jpe?g|png|webp))["']`)

// virtualGrenadier reads the inline script that declares the gallery as a
// JavaScript array of image paths.
func virtualGrenadier(doc *goquery.Document, baseURL string) []string {
	var raw []string
	doc.Find("script").Each(func(_ int, s *goquery.Selection) {
		text := s.Text()
		if !strings.Contains(text, "imageGallery") && !strings.Contains(text, "galleryImages") {
			return
		}
		for _, m := range scriptImages.FindAllStringSubmatch(text, -1) {
			raw = append(raw, m[1])
		}
	})
	return collect(baseURL, raw)
}

// jsonLD reads the schema.org Product "image" field: a string or an array.
func jsonLD(doc *goquery.Document, baseURL string) []string {
	var raw []string
	doc.Find(`script[type="application/ld+json"]`).Each(func(_ int, s *goquery.Selection) {
		var payload map[string]any
		if err := json.Unmarshal([]byte(s.Text()), &payload); err != nil {
			return
		}
		switch img := payload["image"].(type) {
		case string:
			raw = append(raw, img)
		case []any:
			for _, v := range img {
				if u, ok := v.(string); ok {
					raw = append(raw, u)
				}
			}
		}
	})
	return collect(baseURL, raw)
}

// ogImage falls back to the single og:image meta tag.
func ogImage(doc *goquery.Document, baseURL string) []string {
	var raw []string
	doc.Find(`meta[property="og:image"]`).Each(func(_ int, s *goquery.Selection) {
		if v, ok := s.Attr("content"); ok {
			raw = append(raw, v)
		}
	})
	return collect(baseURL, raw)
}
