package sqlite

// schema holds every table the event store owns. It is executed
// statement-by-statement inside a transaction on open, modeled on the
// teacher's ephemeral.Store.initSchema pattern. Columns use TEXT for
// timestamps (RFC3339) rather than SQLite's native types, matching the
// teacher's convention of storing time as formatted strings and parsing on
// scan.
const schema = `
CREATE TABLE IF NOT EXISTS events (
	id TEXT PRIMARY KEY,
	event_type TEXT NOT NULL,
	session_id TEXT NOT NULL,
	turn_id TEXT NOT NULL DEFAULT '',
	timestamp TEXT NOT NULL,
	content TEXT NOT NULL,
	canonical_key TEXT NOT NULL,
	dedupe_key TEXT NOT NULL,
	metadata TEXT NOT NULL DEFAULT '{}',
	level TEXT NOT NULL DEFAULT 'L0',
	access_count INTEGER NOT NULL DEFAULT 0,
	last_accessed_at TEXT
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_events_dedupe_key ON events(dedupe_key);
CREATE INDEX IF NOT EXISTS idx_events_session_id ON events(session_id);
CREATE INDEX IF NOT EXISTS idx_events_turn_id ON events(turn_id);
CREATE INDEX IF NOT EXISTS idx_events_level ON events(level);
CREATE INDEX IF NOT EXISTS idx_events_timestamp ON events(timestamp);

CREATE TABLE IF NOT EXISTS embedding_outbox (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	event_id TEXT NOT NULL,
	content TEXT NOT NULL,
	status TEXT NOT NULL DEFAULT 'pending',
	attempt_count INTEGER NOT NULL DEFAULT 0,
	last_error TEXT NOT NULL DEFAULT '',
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_outbox_status ON embedding_outbox(status);
CREATE INDEX IF NOT EXISTS idx_outbox_event_id ON embedding_outbox(event_id);

CREATE TABLE IF NOT EXISTS dirty_consolidation (
	event_id TEXT PRIMARY KEY,
	marked_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS graph_edges (
	edge_id INTEGER PRIMARY KEY AUTOINCREMENT,
	src_type TEXT NOT NULL,
	src_id TEXT NOT NULL,
	rel_type TEXT NOT NULL,
	dst_type TEXT NOT NULL,
	dst_id TEXT NOT NULL,
	meta TEXT NOT NULL DEFAULT '{}',
	created_at TEXT NOT NULL,
	UNIQUE(src_id, rel_type, dst_id)
);

CREATE INDEX IF NOT EXISTS idx_graph_edges_src ON graph_edges(src_id);
CREATE INDEX IF NOT EXISTS idx_graph_edges_dst ON graph_edges(dst_id);

CREATE TABLE IF NOT EXISTS consolidated_memories (
	memory_id TEXT PRIMARY KEY,
	summary TEXT NOT NULL,
	topics TEXT NOT NULL DEFAULT '[]',
	source_event_ids TEXT NOT NULL DEFAULT '[]',
	source_set_hash TEXT NOT NULL,
	confidence REAL NOT NULL,
	created_at TEXT NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_consolidated_source_set ON consolidated_memories(source_set_hash);

CREATE TABLE IF NOT EXISTS rules (
	rule_id TEXT PRIMARY KEY,
	text TEXT NOT NULL,
	source_memory_ids TEXT NOT NULL DEFAULT '[]',
	source_memory_set_hash TEXT NOT NULL,
	confidence REAL NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_rules_source_set ON rules(source_memory_set_hash);

CREATE TABLE IF NOT EXISTS shared_troubleshooting (
	entry_id TEXT PRIMARY KEY,
	source_project_hash TEXT NOT NULL,
	source_entry_id TEXT NOT NULL,
	title TEXT NOT NULL,
	symptoms TEXT NOT NULL DEFAULT '[]',
	root_cause TEXT NOT NULL,
	solution TEXT NOT NULL,
	topics TEXT NOT NULL DEFAULT '[]',
	technologies TEXT NOT NULL DEFAULT '[]',
	confidence REAL NOT NULL,
	usage_count INTEGER NOT NULL DEFAULT 0,
	last_used_at TEXT,
	promoted_at TEXT NOT NULL,
	UNIQUE(source_project_hash, source_entry_id)
);

CREATE TABLE IF NOT EXISTS continuity_log (
	log_id TEXT PRIMARY KEY,
	from_context_id TEXT NOT NULL,
	to_context_id TEXT NOT NULL,
	score REAL NOT NULL,
	transition_type TEXT NOT NULL,
	created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS config (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS metadata (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS schema_migrations (
	version INTEGER PRIMARY KEY,
	applied_at TEXT NOT NULL
);
`
