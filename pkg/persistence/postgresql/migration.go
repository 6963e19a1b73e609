package postgresql

func migrations() map[int]string {
	return map[int]string{
		1: `
			-- Latest durable image of every review pipeline
			CREATE TABLE pipeline_snapshots (
				submission_id VARCHAR(255) PRIMARY KEY,
				seq BIGINT NOT NULL,
				terminal_state VARCHAR(50) NOT NULL CHECK (terminal_state IN ('running', 'published', 'rejected')),
				snapshot JSONB NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_pipeline_snapshots_terminal_state ON pipeline_snapshots(terminal_state);

			-- Append-only journal of pipeline mutations
			CREATE TABLE pipeline_journal (
				submission_id VARCHAR(255) NOT NULL,
				seq BIGINT NOT NULL,
				kind VARCHAR(64) NOT NULL,
				stage VARCHAR(32) NOT NULL DEFAULT '',
				record JSONB NOT NULL,
				recorded_at TIMESTAMP WITH TIME ZONE NOT NULL,
				PRIMARY KEY (submission_id, seq)
			);

			CREATE INDEX idx_pipeline_journal_kind ON pipeline_journal(kind);
		`,
	}
}
