package model

// DatabaseSchema — описание таблиц и колонок базы данных.
// Передаётся участнику в составе контракта.
type DatabaseSchema struct {
	DatabaseName string        `json:"database_name"`
	DatabaseID   string        `json:"database_id"`
	Tables       []TableSchema `json:"tables"`
}

// TableSchema — описание одной таблицы.
type TableSchema struct {
	TableName            string               `json:"table_name"`
	TableID              string               `json:"table_id"`
	DatabaseName         string               `json:"database_name"`
	DatabaseID           string               `json:"database_id"`
	Columns              []ColumnSchema       `json:"columns"`
	LogicalStoragePolicy LogicalStoragePolicy `json:"logical_storage_policy"`
}

// ColumnSchema — описание колонки.
type ColumnSchema struct {
	ColumnName   string `json:"column_name"`
	ColumnID     string `json:"column_id"`
	ColumnType   string `json:"column_type"`
	ColumnLength int    `json:"column_length"`
	IsNullable   bool   `json:"is_nullable"`
	Ordinal      int    `json:"ordinal"`
	TableID      string `json:"table_id"`
	IsPrimaryKey bool   `json:"is_primary_key"`
}

// Table возвращает схему таблицы по имени или nil.
func (s *DatabaseSchema) Table(name string) *TableSchema {
	for i := range s.Tables {
		if s.Tables[i].TableName == name {
			return &s.Tables[i]
		}
	}
	return nil
}

// TableNames возвращает имена таблиц в порядке схемы.
func (s *DatabaseSchema) TableNames() []string {
	names := make([]string, 0, len(s.Tables))
	for _, t := range s.Tables {
		names = append(names, t.TableName)
	}
	return names
}

// ResultSet — материализованный результат чтения.
type ResultSet struct {
	Columns []string `json:"columns"`
	Rows    [][]any  `json:"rows"`
}

// Len возвращает количество строк.
func (r *ResultSet) Len() int {
	if r == nil {
		return 0
	}
	return len(r.Rows)
}
