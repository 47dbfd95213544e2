package onboard

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/kalambet/datalens/internal/engine"
	"github.com/kalambet/datalens/internal/table"
)

// MaxQuestions is the number of suggestions requested and kept.
const MaxQuestions = 3

// sampleRows is how many rows of each table go into the sample.
const sampleRows = 2

const suggestPromptTemplate = `You are a Senior Data Analyst. Based on the sample of data from multiple files below, generate exactly %d smart, actionable business questions that an executive would ask.
Be concise and direct. Reply only with the numbered list of questions.

Data sample:
%s`

// Sample stacks the first rows of every table into one markdown table.
func Sample(tables []*table.Table) string {
	heads := make([]*table.Table, len(tables))
	for i, t := range tables {
		heads[i] = t.Head(sampleRows)
	}
	return table.Concat("sample", heads...).Markdown(-1)
}

// BuildPrompt returns the chat messages asking for suggested questions.
func BuildPrompt(tables []*table.Table) []engine.Message {
	return []engine.Message{
		{Role: engine.RoleUser, Content: fmt.Sprintf(suggestPromptTemplate, MaxQuestions, Sample(tables))},
	}
}

var numberedLine = regexp.MustCompile(`^\d+\s*[.)]\s*(.+)$`)

// ParseQuestions extracts list items from a model reply, stripping the
// numbering and markdown emphasis. At most MaxQuestions are returned.
func ParseQuestions(text string) []string {
	var out []string
	for _, line := range strings.Split(text, "\n") {
		m := numberedLine.FindStringSubmatch(strings.TrimLeft(strings.TrimSpace(line), "*_# "))
		if m == nil {
			continue
		}
		q := strings.TrimSpace(strings.Trim(strings.TrimSpace(m[1]), "*_"))
		if q == "" {
			continue
		}
		out = append(out, q)
		if len(out) == MaxQuestions {
			break
		}
	}
	return out
}
