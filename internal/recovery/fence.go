package recovery

import (
	"regexp"
	"strings"
)

// A fence is ``` optionally followed by a language tag that ends its line.
var fenceRe = regexp.MustCompile("```(?:[A-Za-z0-9_+.-]+[ \\t]*)?(?:\\r?\\n)?")

// StripFences removes Markdown code-fence markers anywhere in s and trims the result.
func StripFences(s string) string {
	return strings.TrimSpace(fenceRe.ReplaceAllString(s, ""))
}
