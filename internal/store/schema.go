package store

// Schema DDL for the in-memory query index. Each row is one record; fields
// holds the flattened record as JSON and seq its position in the store.
const (
	createRecords = `CREATE TABLE records (
    seq INTEGER PRIMARY KEY,
    fields TEXT NOT NULL
);`

	insertRecord = `INSERT INTO records (seq, fields) VALUES (?, ?)`

	selectExperimentNumbers = `SELECT DISTINCT CAST(json_extract(fields, '$.experiment_number') AS INTEGER)
FROM records
WHERE json_type(fields, '$.experiment_number') IN ('integer', 'real')
ORDER BY 1`
)

// schemaDDL lists all statements run when the index is created.
var schemaDDL = []string{
	createRecords,
}
