package validator

import (
	"regexp"
	"strings"
)

var (
	scriptBlock  = regexp.MustCompile(`(?is)<script\b[^>]*>.*?</script\s*>`)
	eventHandler = regexp.MustCompile(`(?i)\s*\bon[a-z]+\s*=\s*("[^"]*"|'[^']*')`)
	anyTag       = regexp.MustCompile(`<[^>]*>`)
)

// Sanitize 去除 script 块（含内容）、内联事件属性以及其余标签，并去掉首尾空白
//
//	Sanitize("<script>alert(1)</script>hi") == "hi"
func Sanitize(s string) string {
	s = scriptBlock.ReplaceAllString(s, "")
	s = eventHandler.ReplaceAllString(s, "")
	s = anyTag.ReplaceAllString(s, "")
	return strings.TrimSpace(s)
}
