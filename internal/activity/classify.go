package activity

import "strings"

// CommitType is one of the closed set of message categories.
type CommitType string

const (
	TypeFeature  CommitType = "feature"
	TypeFix      CommitType = "fix"
	TypeDocs     CommitType = "docs"
	TypeRefactor CommitType = "refactor"
	TypeChore    CommitType = "chore"
	TypeOther    CommitType = "other"
)

// classifier entries are checked in order; the first token match wins.
var classifier = []struct {
	prefix   string
	category CommitType
}{
	{prefix: "feat", category: TypeFeature},
	{prefix: "feature", category: TypeFeature},
	{prefix: "add", category: TypeFeature},
	{prefix: "fix", category: TypeFix},
	{prefix: "bugfix", category: TypeFix},
	{prefix: "hotfix", category: TypeFix},
	{prefix: "docs", category: TypeDocs},
	{prefix: "doc", category: TypeDocs},
	{prefix: "refactor", category: TypeRefactor},
	{prefix: "chore", category: TypeChore},
}

// ClassifyMessage maps a commit message onto its category by matching the
// first token of the subject line. Conventional-commit scopes and separators
// (feat(api):, fix!:) are stripped before matching.
func ClassifyMessage(message string) CommitType {
	subject := message
	if idx := strings.IndexByte(subject, '\n'); idx >= 0 {
		subject = subject[:idx]
	}
	subject = strings.ToLower(strings.TrimSpace(subject))
	if subject == "" {
		return TypeOther
	}

	token := subject
	for _, sep := range []byte{':', '(', '!', ' '} {
		if idx := strings.IndexByte(token, sep); idx >= 0 {
			token = token[:idx]
		}
	}

	for _, entry := range classifier {
		if token == entry.prefix {
			return entry.category
		}
	}
	return TypeOther
}
