package trust

import (
	"pganon/internal/domain"
	"pganon/internal/pgsql"
)

// CheckValue accepts a masking value only when it is a single column
// reference or a constant.
func CheckValue(expr string) error {
	node, err := pgsql.ParseExpression(expr)
	if err != nil {
		return domain.ErrInvalidInput("%s is not a valid value", expr)
	}
	if node.GetColumnRef() == nil && node.GetAConst() == nil {
		return domain.ErrInvalidInput("%s is not a constant or a column reference", expr)
	}
	return nil
}

// CheckTablesample accepts a single sampling clause such as "SYSTEM(10)".
func CheckTablesample(clause string) error {
	_, err := pgsql.ParseTablesample(clause)
	return err
}
