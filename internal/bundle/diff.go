package bundle

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// Canonical renders b as indented JSON with volatile fields cleared, so two
// builds of the same source render identically.
func Canonical(b *Bundle) string {
	if b == nil {
		return ""
	}
	c := *b
	c.CreatedAt = time.Time{}
	data, err := json.MarshalIndent(&c, "", "  ")
	if err != nil {
		return ""
	}
	return string(data) + "\n"
}

// Diff renders a line diff from prev to next. Unchanged lines are prefixed
// with two spaces, removals with "- " and additions with "+ ". The result
// is empty when the bundles are equivalent.
func Diff(prev, next *Bundle) string {
	a, b := Canonical(prev), Canonical(next)
	if a == b {
		return ""
	}

	dmp := diffmatchpatch.New()
	chars1, chars2, lines := dmp.DiffLinesToChars(a, b)
	diffs := dmp.DiffMain(chars1, chars2, false)
	diffs = dmp.DiffCharsToLines(diffs, lines)

	var sb strings.Builder
	for _, d := range diffs {
		prefix := "  "
		switch d.Type {
		case diffmatchpatch.DiffDelete:
			prefix = "- "
		case diffmatchpatch.DiffInsert:
			prefix = "+ "
		}
		for _, line := range strings.SplitAfter(d.Text, "\n") {
			if line == "" {
				continue
			}
			sb.WriteString(prefix)
			sb.WriteString(line)
		}
	}
	return sb.String()
}
