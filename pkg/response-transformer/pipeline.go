package responsetransformer

// Pipeline is the fixed, ordered set of body transforms.
// Page transforms run on the whole captured page; Content transforms run on
// the main content region only, while the page is being generated.
type Pipeline struct {
	minify   bool
	lazyLoad bool
}

func NewPipeline(minify, lazyLoad bool) Pipeline {
	return Pipeline{minify: minify, lazyLoad: lazyLoad}
}

// Page applies the whole-page transforms to a captured body.
func (p Pipeline) Page(body []byte) []byte {
	if p.minify {
		return Minify(body)
	}
	return body
}

// Content applies the content-region transforms.
func (p Pipeline) Content(html string) string {
	if p.lazyLoad {
		return LazyLoad(html)
	}
	return html
}

// Document applies the content-region transforms to the body of a full document.
// It is used when the page generator has no separate content hook.
func (p Pipeline) Document(html string) string {
	if p.lazyLoad {
		return LazyLoadBody(html)
	}
	return html
}
