package commitqueue

const schema = `
CREATE TABLE IF NOT EXISTS queue_entries (
    queue_id INTEGER PRIMARY KEY,
    worker_id TEXT NOT NULL,
    ticket_id TEXT NOT NULL,
    commit_message TEXT NOT NULL,
    files TEXT,
    status TEXT NOT NULL DEFAULT 'queued',
    attempts INTEGER NOT NULL DEFAULT 0,
    last_error TEXT,
    commit_hash TEXT,
    queued_at TIMESTAMP NOT NULL,
    completed_at TIMESTAMP,
    failed_at TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_queue_entries_status ON queue_entries(status);
CREATE INDEX IF NOT EXISTS idx_queue_entries_ticket ON queue_entries(ticket_id);
`
