package sqlite

func migrations() map[int]string {
	return map[int]string{
		1: `
			CREATE TABLE pipeline_snapshots (
				submission_id TEXT PRIMARY KEY,
				seq INTEGER NOT NULL,
				terminal_state TEXT NOT NULL CHECK (terminal_state IN ('running', 'published', 'rejected')),
				snapshot TEXT NOT NULL,
				updated_at TIMESTAMP NOT NULL
			);

			CREATE INDEX idx_pipeline_snapshots_terminal_state ON pipeline_snapshots(terminal_state);

			CREATE TABLE pipeline_journal (
				submission_id TEXT NOT NULL,
				seq INTEGER NOT NULL,
				kind TEXT NOT NULL,
				stage TEXT NOT NULL DEFAULT '',
				record TEXT NOT NULL,
				recorded_at TIMESTAMP NOT NULL,
				PRIMARY KEY (submission_id, seq)
			);
		`,
	}
}
