package storage

// SchemaVersion is the current SQLite schema version.
const SchemaVersion = 1

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS outgoing_requests_log (
    id TEXT PRIMARY KEY,
    url TEXT NOT NULL DEFAULT '',
    hostname TEXT NOT NULL DEFAULT '',
    params TEXT NOT NULL DEFAULT '',
    status_code INTEGER,
    method TEXT NOT NULL DEFAULT '',
    req_content_type TEXT NOT NULL DEFAULT '',
    res_content_type TEXT NOT NULL DEFAULT '',
    req_headers TEXT,
    res_headers TEXT,
    req_body BLOB,
    res_body BLOB,
    req_body_encoding TEXT NOT NULL DEFAULT '',
    res_body_encoding TEXT NOT NULL DEFAULT '',
    response_ms INTEGER NOT NULL DEFAULT 0,
    timestamp INTEGER NOT NULL,
    trace TEXT
);

CREATE INDEX IF NOT EXISTS idx_outgoing_requests_log_timestamp ON outgoing_requests_log(timestamp);
CREATE INDEX IF NOT EXISTS idx_outgoing_requests_log_hostname ON outgoing_requests_log(hostname);

CREATE TABLE IF NOT EXISTS outgoing_requests_log_config (
    id INTEGER PRIMARY KEY CHECK (id = 1),
    save_to_db TEXT NOT NULL DEFAULT 'use_default',
    save_body TEXT NOT NULL DEFAULT 'use_default',
    max_content_length INTEGER NOT NULL,
    reset_after INTEGER
);

CREATE TABLE IF NOT EXISTS schema_version (
    version INTEGER PRIMARY KEY
);
`

const (
	insertSchemaVersion = `INSERT OR IGNORE INTO schema_version (version) VALUES (?)`
	getSchemaVersion    = `SELECT MAX(version) FROM schema_version`

	logColumns = `id, url, hostname, params, status_code, method,
		req_content_type, res_content_type, req_headers, res_headers,
		req_body, res_body, req_body_encoding, res_body_encoding,
		response_ms, timestamp, trace`

	insertLog = `INSERT INTO outgoing_requests_log (` + logColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	selectLogByID = `SELECT ` + logColumns + ` FROM outgoing_requests_log WHERE id = ?`

	deleteLogsBefore = `DELETE FROM outgoing_requests_log WHERE timestamp < ?`

	selectConfig = `SELECT save_to_db, save_body, max_content_length, reset_after
		FROM outgoing_requests_log_config WHERE id = 1`

	upsertConfig = `INSERT INTO outgoing_requests_log_config (id, save_to_db, save_body, max_content_length, reset_after)
		VALUES (1, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			save_to_db = excluded.save_to_db,
			save_body = excluded.save_body,
			max_content_length = excluded.max_content_length,
			reset_after = excluded.reset_after`
)
