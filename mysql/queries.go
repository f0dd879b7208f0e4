package mysql

import "fmt"

const (
	statusPending int16 = 0
	statusDrained int16 = 1
)

type queries struct {
	insert       string
	selectNext   string
	countPending string
}

func newQueries(table string) queries {
	insert := fmt.Sprintf("INSERT INTO %s (id, headers, body) VALUES (?, ?, ?)", table)
	// Rows already locked by this transaction are not skipped by SKIP LOCKED,
	// so each query resumes after the last row it returned.
	selectNext := fmt.Sprintf(
		"SELECT id, headers, body FROM %s WHERE status = ? AND id > ? ORDER BY id ASC LIMIT ? FOR UPDATE SKIP LOCKED",
		table,
	)
	countPending := fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE status = ?", table)

	return queries{
		insert:       insert,
		selectNext:   selectNext,
		countPending: countPending,
	}
}

func buildDrainQuery(table string, count int) string {
	placeholders := makePlaceholders(count)

	return fmt.Sprintf("UPDATE %s SET status = ?, drained_at = ? WHERE id IN (%s)", table, placeholders)
}

func makePlaceholders(count int) string {
	if count <= 0 {
		return ""
	}

	buf := make([]byte, 0, count*placeholderGrowth)
	for i := 0; i < count; i++ {
		if i > 0 {
			buf = append(buf, ',')
		}
		buf = append(buf, '?')
	}

	return string(buf)
}
