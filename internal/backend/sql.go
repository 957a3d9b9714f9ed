package backend

import (
	"fmt"
	"strings"

	"github.com/cespare/xxhash/v2"
	"github.com/jackc/pgx/v5"

	"github.com/dynamoRando/rcd-sub000/internal/domain/model"
)

// Quote экранирует идентификатор двойными кавычками.
// Такая форма понимается и PostgreSQL, и SQLite.
func Quote(name string) string {
	return pgx.Identifier{name}.Sanitize()
}

// HashRow возвращает 64-битный хэш содержимого строки.
// Значения кодируются вместе с типом, порядок колонок значим.
func HashRow(columns []string, values []any) uint64 {
	d := xxhash.New()
	for i, v := range values {
		if i < len(columns) {
			_, _ = d.WriteString(columns[i])
		}
		_, _ = d.WriteString("=")
		_, _ = d.WriteString(encodeValue(v))
		_, _ = d.WriteString("\x1f")
	}
	return d.Sum64()
}

func encodeValue(v any) string {
	switch t := v.(type) {
	case nil:
		return "null"
	case []byte:
		return fmt.Sprintf("bytes:%x", t)
	case string:
		return "string:" + t
	default:
		return fmt.Sprintf("%T:%v", v, v)
	}
}

// TrimStatement убирает пробелы и завершающие точки с запятой.
func TrimStatement(sql string) string {
	return strings.TrimRight(strings.TrimSpace(sql), "; \t\r\n")
}

// HasReturning сообщает, есть ли в выражении ключевое слово RETURNING
// вне строковых литералов и идентификаторов в кавычках.
func HasReturning(sql string) bool {
	var word strings.Builder
	check := func() bool {
		found := strings.EqualFold(word.String(), "RETURNING")
		word.Reset()
		return found
	}
	var quote rune
	for _, r := range sql {
		if quote != 0 {
			if r == quote {
				quote = 0
			}
			continue
		}
		switch {
		case r == '\'' || r == '"' || r == '`':
			if check() {
				return true
			}
			quote = r
		case r == '_' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9'):
			word.WriteRune(r)
		default:
			if check() {
				return true
			}
		}
	}
	return check()
}

// WhereSQL добавляет условие к запросу, если оно не пустое.
func WhereSQL(where string) string {
	where = strings.TrimSpace(where)
	if where == "" {
		return ""
	}
	return " WHERE " + where
}

// CreateTableSQL формирует CREATE TABLE по описанию схемы.
// rowIDDef — определение колонки идентификатора строки (пустое, если движок
// предоставляет её сам); typeFn переводит тип колонки в тип движка.
func CreateTableSQL(schema model.TableSchema, rowIDDef string, typeFn func(model.ColumnSchema) string) string {
	defs := make([]string, 0, len(schema.Columns)+1)
	if rowIDDef != "" {
		defs = append(defs, rowIDDef)
	}
	for _, c := range schema.Columns {
		def := Quote(c.ColumnName) + " " + typeFn(c)
		if !c.IsNullable {
			def += " NOT NULL"
		}
		defs = append(defs, def)
	}
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", Quote(schema.TableName), strings.Join(defs, ", "))
}

// SplitTypeLength разбирает тип вида "VARCHAR(50)" на имя и длину.
func SplitTypeLength(t string) (string, int) {
	t = strings.TrimSpace(t)
	open := strings.IndexByte(t, '(')
	if open < 0 || !strings.HasSuffix(t, ")") {
		return t, 0
	}
	var n int
	if _, err := fmt.Sscanf(t[open+1:len(t)-1], "%d", &n); err != nil {
		return strings.TrimSpace(t[:open]), 0
	}
	return strings.TrimSpace(t[:open]), n
}
