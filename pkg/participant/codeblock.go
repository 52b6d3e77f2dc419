package participant

import (
	"regexp"
	"strings"

	"github.com/nstogner/datachat/pkg/domain"
)

// CodeBlock is a fenced block of code with its language tag.
type CodeBlock struct {
	Language string
	Code     string
}

var fenceRe = regexp.MustCompile("(?s)```[ \\t]*([\\w+-]*)[ \\t]*\\r?\\n(.*?)\\r?\\n?[ \\t]*```")

// ExtractCodeBlocks returns the fenced code blocks in content, in order.
// Untagged blocks have an empty Language.
func ExtractCodeBlocks(content string) []CodeBlock {
	var blocks []CodeBlock
	for _, m := range fenceRe.FindAllStringSubmatch(content, -1) {
		code := m[2]
		if strings.TrimSpace(code) == "" {
			continue
		}
		blocks = append(blocks, CodeBlock{
			Language: strings.ToLower(m[1]),
			Code:     code,
		})
	}
	return blocks
}

// Classify derives the kind of a Reasoner message.
func Classify(content, sentinel string) domain.Kind {
	kind := domain.KindText
	if len(ExtractCodeBlocks(content)) > 0 {
		kind = domain.KindCode
	}
	if sentinel != "" && strings.Contains(content, sentinel) {
		kind |= domain.KindStopSignal
	}
	return kind
}
