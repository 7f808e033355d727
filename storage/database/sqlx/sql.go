package sqlxrepos

import (
	"fmt"
	"strings"

	"github.com/trezcool/masomo-breakglass/core"
)

// conditions builds a WHERE clause with numbered placeholders.
type conditions struct {
	clauses []string
	args    []interface{}
}

// add appends clause, in which %[1]d stands for the placeholder number of arg.
func (c *conditions) add(clause string, arg interface{}) {
	c.args = append(c.args, arg)
	c.clauses = append(c.clauses, fmt.Sprintf(clause, len(c.args)))
}

func (c *conditions) String() string {
	if len(c.clauses) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(c.clauses, " AND ")
}

// orderBy keeps the orderings on known columns, falling back to dflt.
func orderBy(ordering []core.DBOrdering, columns map[string]string, dflt string) string {
	list := make([]string, 0, len(ordering))
	for _, ord := range ordering {
		if col, ok := columns[ord.Field]; ok {
			list = append(list, core.DBOrdering{Field: col, Ascending: ord.Ascending}.String())
		}
	}
	if len(list) == 0 {
		return " ORDER BY " + dflt
	}
	return " ORDER BY " + strings.Join(list, ", ")
}

func getExec(defaultExec core.DBExecutor, svcExec []core.DBExecutor) core.DBExecutor {
	if len(svcExec) > 0 && svcExec[0] != nil {
		return svcExec[0]
	}
	return defaultExec
}
