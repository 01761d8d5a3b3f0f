package postgres

import (
	"fmt"
	"strings"

	"github.com/alanyoungcy/predictionperps/internal/domain"
)

// listQuery appends time filters, ordering and paging from opts to base,
// which must end in a WHERE-able clause. timeCol is the filtered column.
func listQuery(base, timeCol string, opts domain.ListOpts) (string, []any) {
	var b strings.Builder
	b.WriteString(base)
	args := []any{}
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	var where []string
	if opts.Since != nil {
		where = append(where, timeCol+" >= "+arg(*opts.Since))
	}
	if opts.Until != nil {
		where = append(where, timeCol+" <= "+arg(*opts.Until))
	}
	if len(where) > 0 {
		b.WriteString(" WHERE ")
		b.WriteString(strings.Join(where, " AND "))
	}
	b.WriteString(" ORDER BY " + timeCol + " DESC")
	if opts.Limit > 0 {
		b.WriteString(" LIMIT " + arg(opts.Limit))
	}
	if opts.Offset > 0 {
		b.WriteString(" OFFSET " + arg(opts.Offset))
	}
	return b.String(), args
}
