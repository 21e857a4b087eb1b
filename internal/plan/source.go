package plan

import "regexp"

// SourceType is the declared kind of a submission's source file.
type SourceType string

const (
	SourcePDF  SourceType = "pdf"
	SourceHTML SourceType = "html"
	// SourceTeX is the generic compressed family; it needs remote rendering.
	SourceTeX SourceType = "tex"
)

type sourcePattern struct {
	typ     SourceType
	pattern *regexp.Regexp
}

// sourcePatterns is tested in order. The html pattern must precede the
// generic compressed pattern since every .html.gz path also ends in .gz.
var sourcePatterns = []sourcePattern{
	{SourcePDF, regexp.MustCompile(`(?m)^.* Document source: (.*\.pdf)$`)},
	{SourceHTML, regexp.MustCompile(`(?m)^.* Document source: (.*\.html\.gz)$`)},
	{SourceTeX, regexp.MustCompile(`(?m)^.* Document source: (.*\.gz)$`)},
}

var (
	absfilePattern = regexp.MustCompile(`(?m)^.* absfile: (.*)$`)
	movedPattern   = regexp.MustCompile(`(?m)^.* Moved (.*) => (.*)$`)
)

// DetectSource returns the highest priority source declared in text.
func DetectSource(text string) (SourceType, string, bool) {
	for _, p := range sourcePatterns {
		if m := p.pattern.FindStringSubmatch(text); m != nil {
			return p.typ, m[1], true
		}
	}
	return "", "", false
}

func detectAbsfile(text string) (string, bool) {
	m := absfilePattern.FindStringSubmatch(text)
	if m == nil {
		return "", false
	}
	return m[1], true
}

// movedTargets returns the destination of every Moved line in text order.
func movedTargets(text string) []string {
	var targets []string
	for _, m := range movedPattern.FindAllStringSubmatch(text, -1) {
		targets = append(targets, m[2])
	}
	return targets
}
