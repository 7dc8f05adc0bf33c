// Package textnorm canonicalizes rendered question and option text so that
// bank entries and on-screen renderings can be compared with plain string
// operations. Rendered text arrives markup-laden and entity-encoded; the bank
// holds the raw authoring markup. Both sides go through Normalize before any
// comparison.
package textnorm

import (
	"net/url"
	"regexp"
	"strings"
	"unicode"

	xhtml "golang.org/x/net/html"
)

var (
	commentRe    = regexp.MustCompile(`(?s)<!--.*?-->`)
	tagRe        = regexp.MustCompile(`</?[a-zA-Z!][^>]*>`)
	whitespaceRe = regexp.MustCompile(`\s+`)
)

// Normalize returns the canonical form of rendered text: entities decoded,
// comments and markup stripped, whitespace collapsed, characters outside the
// allow-list dropped. If the source embeds an image reference, a stable
// [img:ID] tag is prepended so two renderings of the same image-only question
// remain comparable. Normalize is pure and idempotent.
func Normalize(s string) string {
	if s == "" {
		return ""
	}

	imgID := imageID(s)

	// The allow-list can re-form a tag by dropping a rune between '<' and a
	// letter, so the decode-strip-drop pipeline runs to a fixpoint. Each pass
	// only removes bytes or canonicalizes whitespace, so it terminates.
	out := s
	for {
		next := xhtml.UnescapeString(out)
		next = commentRe.ReplaceAllString(next, "")
		next = tagRe.ReplaceAllString(next, "")
		next = strings.Map(allowRune, next)
		if next == out {
			break
		}
		out = next
	}
	out = whitespaceRe.ReplaceAllString(out, " ")
	out = strings.TrimSpace(out)

	if imgID != "" {
		tag := "[img:" + imgID + "]"
		if out == "" {
			return tag
		}
		return tag + " " + out
	}
	return out
}

// StripPunct removes everything but letters and digits. The matcher uses it
// for the loosest title comparison tier.
func StripPunct(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return r
		}
		return -1
	}, s)
}

// allowRune keeps letters in the target scripts, digits, whitespace, common
// punctuation (Latin and CJK forms) and code symbols. Ampersand is excluded
// on purpose: dropping it guarantees a second entity-decoding pass is a no-op.
func allowRune(r rune) rune {
	if unicode.IsSpace(r) {
		return ' '
	}
	if unicode.IsLetter(r) || unicode.IsDigit(r) {
		return r
	}
	switch r {
	case '.', ',', ';', ':', '!', '?', '\'', '"', '-', '_', '%',
		'（', '）', '【', '】', '《', '》', '、', '。', '，', '；', '：', '！', '？',
		'“', '”', '‘', '’',
		'{', '}', '[', ']', '(', ')', '=', '+', '*', '/', '<', '>':
		return r
	}
	return -1
}

// imageID extracts a stable identifier for the first embedded image
// reference: the final path segment of its src with query string and file
// extension removed. Returns "" when the source has no image.
func imageID(s string) string {
	if !strings.Contains(s, "<img") {
		return ""
	}
	z := xhtml.NewTokenizer(strings.NewReader(s))
	for {
		tt := z.Next()
		if tt == xhtml.ErrorToken {
			return ""
		}
		if tt != xhtml.StartTagToken && tt != xhtml.SelfClosingTagToken {
			continue
		}
		name, hasAttr := z.TagName()
		if string(name) != "img" || !hasAttr {
			continue
		}
		for {
			key, val, more := z.TagAttr()
			if string(key) == "src" {
				return stableImageID(string(val))
			}
			if !more {
				break
			}
		}
	}
}

func stableImageID(src string) string {
	if u, err := url.Parse(src); err == nil && u.Path != "" {
		src = u.Path
	}
	if i := strings.LastIndexByte(src, '/'); i >= 0 {
		src = src[i+1:]
	}
	if i := strings.LastIndexByte(src, '.'); i > 0 {
		src = src[:i]
	}
	// Keep the identifier stable under a second Normalize pass: anything the
	// allow-list would drop is dropped here.
	return strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '-' || r == '_' {
			return r
		}
		return -1
	}, src)
}
