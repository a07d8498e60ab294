package ticketstore

const schema = `
CREATE TABLE IF NOT EXISTS tickets (
    seq INTEGER PRIMARY KEY AUTOINCREMENT,
    id TEXT NOT NULL UNIQUE,
    title TEXT,
    state TEXT NOT NULL DEFAULT 'unprocessed',
    priority TEXT NOT NULL DEFAULT 'P2',
    dependencies TEXT,
    parent TEXT,
    artifacts TEXT,
    file_path TEXT,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_tickets_state ON tickets(state);
CREATE INDEX IF NOT EXISTS idx_tickets_parent ON tickets(parent);
`
