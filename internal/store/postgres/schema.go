package postgres

// schema creates the two tables this service owns. Production deployments are
// expected to manage migrations externally; Migrate exists for dev and CI.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS conversations (
    id         TEXT PRIMARY KEY,
    title      VARCHAR(255) NOT NULL,
    created_at TIMESTAMPTZ NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL
)`,
	`CREATE TABLE IF NOT EXISTS messages (
    seq              BIGSERIAL,
    id               TEXT PRIMARY KEY,
    conversation_id  TEXT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
    role             VARCHAR(20) NOT NULL CHECK (role IN ('user', 'assistant')),
    content          TEXT NOT NULL,
    model            VARCHAR(100),
    temperature      TEXT,
    thinking_enabled BOOLEAN NOT NULL DEFAULT FALSE,
    created_at       TIMESTAMPTZ NOT NULL
)`,
	// Older databases were created with VARCHAR(10).
	`ALTER TABLE messages ALTER COLUMN temperature TYPE TEXT`,
	`CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages (conversation_id, created_at, seq)`,
}
