package mysql

import (
	"fmt"
)

const schemaTemplate = `CREATE TABLE IF NOT EXISTS %s (
	id BINARY(16) NOT NULL,
	headers JSON NULL,
	body %s NOT NULL,
	status SMALLINT NOT NULL DEFAULT 0,
	created_at TIMESTAMP(6) NOT NULL DEFAULT CURRENT_TIMESTAMP(6),
	drained_at TIMESTAMP(6) NULL,
	PRIMARY KEY (id),
	INDEX idx_status_id (status, id),
	INDEX idx_status_drained_at (status, drained_at)
);`

const (
	bodyBinary = "LONGBLOB"
	bodyJSON   = "JSON"
)

// Schema returns the event table DDL with a LONGBLOB body.
func Schema(table string) (string, error) {
	return buildSchema(table, bodyBinary)
}

// SchemaJSON returns the event table DDL with a JSON body column.
// Use it together with WithValidateJSON(true).
func SchemaJSON(table string) (string, error) {
	return buildSchema(table, bodyJSON)
}

func buildSchema(table, bodyType string) (string, error) {
	name, err := sanitizeTableName(table)
	if err != nil {
		return "", err
	}

	return fmt.Sprintf(schemaTemplate, name, bodyType), nil
}
