package responsetransformer

import (
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
)

// Rule sets response headers.
// Override always replaces Cache-Control, Default only fills it in when absent.
type Rule struct {
	Default  string            `yaml:"default"`
	Override string            `yaml:"override"`
	Headers  map[string]string `yaml:"headers"`
}

// BrowserCacheRule returns the rule that lets browsers keep a response for maxAge.
func BrowserCacheRule(maxAge time.Duration) Rule {
	return Rule{Override: fmt.Sprintf("public, max-age=%d", int64(maxAge/time.Second))}
}

// Apply sets the headers described by the rule.
func (rule Rule) Apply(h http.Header) {
	if rule.Override != "" {
		log.Trace().Msg("Overriding Cache-Control header")
		h.Set("Cache-Control", rule.Override)
	} else if rule.Default != "" && h.Get("Cache-Control") == "" {
		log.Trace().Msg("Applying default Cache-Control header")
		h.Set("Cache-Control", rule.Default)
	}
	for name, value := range rule.Headers {
		log.Trace().Msgf("Setting header %s", name)
		h.Set(name, value)
	}
}
