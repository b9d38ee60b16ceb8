package postgres

import (
	"fmt"
	"strings"
)

func streamTableSQL(name string) string {
	return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		aggregate_id UUID PRIMARY KEY NOT NULL,
		aggregate_type VARCHAR(255) NOT NULL,
		version BIGINT NOT NULL
	)`, name)
}

func eventTableSQL(name string) string {
	return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		id UUID PRIMARY KEY NOT NULL,
		aggregate_id UUID NOT NULL,
		version BIGINT NOT NULL,
		time BIGINT NOT NULL,
		data_type VARCHAR(255) NOT NULL,
		data BYTEA
	)`, name)
}

func snapshotTableSQL(name string) string {
	return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		aggregate_id UUID NOT NULL,
		version BIGINT NOT NULL,
		id UUID NOT NULL,
		aggregate_type VARCHAR(255) NOT NULL,
		time BIGINT NOT NULL,
		data_type VARCHAR(255) NOT NULL,
		data BYTEA,
		PRIMARY KEY (aggregate_id, version)
	)`, name)
}

func indexSQL(name, table string, fields []string, unique bool) string {
	var uniqueOpt string
	if unique {
		uniqueOpt = "UNIQUE"
	}
	return fmt.Sprintf("CREATE %s INDEX IF NOT EXISTS %s ON %s (%s)", uniqueOpt, name, table, strings.Join(fields, ", "))
}
