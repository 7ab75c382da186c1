package responsetransformer

import "regexp"

var (
	betweenTags    = regexp.MustCompile(`>\s+<`)
	whitespaceRuns = regexp.MustCompile(`\s{2,}`)
)

// Minify removes whitespace between tags and collapses every other run of two
// or more whitespace characters into a single space.
// It is a textual transform: whitespace inside <pre>, <textarea> and <script>
// is collapsed as well.
func Minify(html []byte) []byte {
	html = betweenTags.ReplaceAll(html, []byte("><"))
	return whitespaceRuns.ReplaceAll(html, []byte(" "))
}
