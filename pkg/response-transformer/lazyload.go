package responsetransformer

import "regexp"

var (
	imgTag      = regexp.MustCompile(`(?i)<img\b[^>]*>`)
	srcAttr     = regexp.MustCompile(`(?i)\ssrc=`)
	loadingAttr = regexp.MustCompile(`(?i)\sloading=`)
	bodyOpen    = regexp.MustCompile(`(?i)<body\b`)
)

const lazyAttr = `loading="lazy" `

// LazyLoad adds loading="lazy" right before the src attribute of every img tag.
// Tags without src, or already carrying a loading attribute, are left as they are.
func LazyLoad(html string) string {
	return imgTag.ReplaceAllStringFunc(html, func(tag string) string {
		if loadingAttr.MatchString(tag) {
			return tag
		}
		loc := srcAttr.FindStringIndex(tag)
		if loc == nil {
			return tag
		}
		// keep the whitespace that precedes src=
		i := loc[0] + 1
		return tag[:i] + lazyAttr + tag[i:]
	})
}

// LazyLoadBody applies LazyLoad to the part of a full document that starts at
// the <body> tag. Documents without a body tag are treated as content only.
func LazyLoadBody(html string) string {
	loc := bodyOpen.FindStringIndex(html)
	if loc == nil {
		return LazyLoad(html)
	}
	return html[:loc[0]] + LazyLoad(html[loc[0]:])
}
