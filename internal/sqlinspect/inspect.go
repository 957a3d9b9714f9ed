// Пакет sqlinspect — разбор SQL-выражения: вид, упоминаемые таблицы,
// условие WHERE и список колонок выборки.
package sqlinspect

import (
	"errors"
	"fmt"
	"strings"

	"github.com/CovenantSQL/sqlparser"

	"github.com/dynamoRando/rcd-sub000/internal/domain/model"
)

// ErrUnparsable — выражение не удалось разобрать.
var ErrUnparsable = errors.New("не удалось разобрать SQL")

// Statement — результат разбора выражения.
type Statement struct {
	// Kind — вид выражения
	Kind model.StatementKind
	// Tables — упоминаемые таблицы без повторов, в порядке появления
	Tables []string
	// Where — текст условия WHERE (пусто, если условия нет)
	Where string
	// Columns — простые колонки выборки (nil для * и выражений)
	Columns []string
	// InsertRows — число кортежей VALUES; 0 для INSERT ... SELECT
	InsertRows int
}

// HasTable сообщает, упоминается ли таблица в выражении.
func (s *Statement) HasTable(name string) bool {
	for _, t := range s.Tables {
		if strings.EqualFold(t, name) {
			return true
		}
	}
	return false
}

// Inspector разбирает SQL-выражения.
type Inspector struct{}

// New создаёт Inspector.
func New() *Inspector {
	return &Inspector{}
}

// Inspect разбирает одно выражение. DDL, не поддерживаемый парсером,
// распознаётся по первому ключевому слову; прочие ошибки разбора
// возвращаются как ErrUnparsable.
func (i *Inspector) Inspect(sql string) (*Statement, error) {
	sql = strings.TrimSpace(sql)
	if sql == "" {
		return nil, fmt.Errorf("%w: пустое выражение", ErrUnparsable)
	}

	stmt, err := sqlparser.Parse(strings.TrimRight(sql, "; \t\r\n"))
	if err != nil {
		if isDDLKeyword(sql) {
			return &Statement{Kind: model.StatementDDL}, nil
		}
		return nil, fmt.Errorf("%w: %w", ErrUnparsable, err)
	}

	out := &Statement{}
	switch s := stmt.(type) {
	case *sqlparser.Select:
		out.Kind = model.StatementSelect
		out.Where = formatWhere(s.Where)
		out.Columns = selectColumns(s.SelectExprs)
	case sqlparser.SelectStatement:
		out.Kind = model.StatementSelect
	case *sqlparser.Insert:
		out.Kind = model.StatementInsert
		out.addTable(s.Table.Name.String())
		if rows, ok := s.Rows.(sqlparser.Values); ok {
			out.InsertRows = len(rows)
		}
	case *sqlparser.Update:
		out.Kind = model.StatementUpdate
		out.Where = formatWhere(s.Where)
	case *sqlparser.Delete:
		out.Kind = model.StatementDelete
		out.Where = formatWhere(s.Where)
	case *sqlparser.DDL:
		out.Kind = model.StatementDDL
		out.addTable(s.Table.Name.String())
		out.addTable(s.NewName.Name.String())
	default:
		out.Kind = model.StatementOther
	}

	err = sqlparser.Walk(func(node sqlparser.SQLNode) (bool, error) {
		if t, ok := node.(*sqlparser.AliasedTableExpr); ok {
			if name, ok := t.Expr.(sqlparser.TableName); ok {
				out.addTable(name.Name.String())
			}
		}
		return true, nil
	}, stmt)
	if err != nil {
		return nil, fmt.Errorf("обход выражения: %w", err)
	}

	return out, nil
}

func (s *Statement) addTable(name string) {
	if name == "" || s.HasTable(name) {
		return
	}
	s.Tables = append(s.Tables, name)
}

func formatWhere(w *sqlparser.Where) string {
	if w == nil || w.Expr == nil {
		return ""
	}
	buf := sqlparser.NewTrackedBuffer(nil)
	return buf.WriteNode(w.Expr).String()
}

func selectColumns(exprs sqlparser.SelectExprs) []string {
	cols := make([]string, 0, len(exprs))
	for _, e := range exprs {
		ae, ok := e.(*sqlparser.AliasedExpr)
		if !ok {
			return nil
		}
		col, ok := ae.Expr.(*sqlparser.ColName)
		if !ok {
			return nil
		}
		cols = append(cols, col.Name.String())
	}
	return cols
}

func isDDLKeyword(sql string) bool {
	fields := strings.Fields(sql)
	if len(fields) == 0 {
		return false
	}
	switch strings.ToUpper(fields[0]) {
	case "CREATE", "ALTER", "DROP", "TRUNCATE", "RENAME":
		return true
	}
	return false
}
