package postgresql

// migrations returns the schema migrations keyed by version.
func migrations() map[int]string {
	return map[int]string{
		1: `
			CREATE TABLE IF NOT EXISTS runs (
				id TEXT PRIMARY KEY,
				slug TEXT NOT NULL,
				work_description TEXT NOT NULL,
				pipeline JSONB NOT NULL,
				current_phase TEXT NOT NULL,
				status TEXT NOT NULL,
				phase_outputs JSONB,
				rejection_feedback TEXT NOT NULL DEFAULT '',
				rejection_phase TEXT NOT NULL DEFAULT '',
				retry_state JSONB,
				error_summary TEXT NOT NULL DEFAULT '',
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX IF NOT EXISTS idx_runs_status ON runs (status);

			CREATE TABLE IF NOT EXISTS phase_records (
				run_id TEXT NOT NULL REFERENCES runs (id) ON DELETE CASCADE,
				phase TEXT NOT NULL,
				attempt INTEGER NOT NULL,
				started_at TIMESTAMP WITH TIME ZONE NOT NULL,
				ended_at TIMESTAMP WITH TIME ZONE,
				outcome TEXT NOT NULL,
				active_duration_ns BIGINT NOT NULL DEFAULT 0,
				wait_duration_ns BIGINT NOT NULL DEFAULT 0,
				wait_started_at TIMESTAMP WITH TIME ZONE,
				execution_handle TEXT NOT NULL DEFAULT '',
				error_summary TEXT NOT NULL DEFAULT '',
				feedback TEXT NOT NULL DEFAULT '',
				PRIMARY KEY (run_id, phase, attempt)
			);

			CREATE INDEX IF NOT EXISTS idx_phase_records_run ON phase_records (run_id, started_at);

			CREATE TABLE IF NOT EXISTS approval_decisions (
				id SERIAL PRIMARY KEY,
				run_id TEXT NOT NULL REFERENCES runs (id) ON DELETE CASCADE,
				phase TEXT NOT NULL,
				decision TEXT NOT NULL,
				feedback TEXT NOT NULL DEFAULT '',
				decided_by TEXT NOT NULL DEFAULT '',
				decided_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX IF NOT EXISTS idx_approval_decisions_run ON approval_decisions (run_id, decided_at);
		`,
	}
}
