package search

import (
	"strconv"
	"strings"
)

// Query is a parsed /find command.
type Query struct {
	RawInput string
	Terms    string
	From     string
	Limit    int
}

// NewSearchQuery parses command-line style arguments.
// Example: /find deploy friday --from bob@example.com --limit 5
func NewSearchQuery(input string, defaultLimit int) Query {
	query := Query{RawInput: input, Limit: defaultLimit}

	parts := strings.Fields(input)
	var terms []string
	for i := 0; i < len(parts); i++ {
		part := parts[i]
		if strings.HasPrefix(part, "--") && i+1 < len(parts) {
			switch strings.TrimPrefix(part, "--") {
			case "from":
				query.From = parts[i+1]
			case "limit":
				if n, err := strconv.Atoi(parts[i+1]); err == nil && n > 0 {
					query.Limit = n
				}
			}
			i++
			continue
		}
		if !strings.HasPrefix(part, "/") {
			terms = append(terms, part)
		}
	}
	query.Terms = strings.Join(terms, " ")
	return query
}

func (q Query) Empty() bool {
	return q.Terms == "" && q.From == ""
}
