package postgresql

func migrations() map[int]string {
	return map[int]string{
		1: `
			-- Messages waiting to be dispatched to the gateway
			CREATE TABLE IF NOT EXISTS scheduled_messages (
				id BIGSERIAL PRIMARY KEY,
				chat_id BIGINT NOT NULL,
				phone VARCHAR(32) NOT NULL DEFAULT '',
				title TEXT NOT NULL DEFAULT '',
				content JSONB NOT NULL DEFAULT '{}',
				scheduled_for TIMESTAMP WITH TIME ZONE NOT NULL,
				status VARCHAR(16) NOT NULL DEFAULT 'pending' CHECK (status IN ('pending', 'sending', 'sent', 'failed')),
				automation_rule_id BIGINT,
				run_id VARCHAR(64),
				idempotency_key VARCHAR(255) UNIQUE,
				retry_count INT NOT NULL DEFAULT 0,
				last_error TEXT,
				next_retry_at TIMESTAMP WITH TIME ZONE,
				external_message_id VARCHAR(255),
				sent_at TIMESTAMP WITH TIME ZONE,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
			);

			CREATE INDEX IF NOT EXISTS idx_scheduled_messages_due ON scheduled_messages(status, scheduled_for);
			CREATE INDEX IF NOT EXISTS idx_scheduled_messages_retry ON scheduled_messages(status, next_retry_at);
			CREATE INDEX IF NOT EXISTS idx_scheduled_messages_sent_at ON scheduled_messages(sent_at);

			-- Structured events of every graph run
			CREATE TABLE IF NOT EXISTS worker_run_logs (
				id BIGSERIAL PRIMARY KEY,
				run_id VARCHAR(64) NOT NULL,
				thread_id VARCHAR(255),
				graph_name VARCHAR(128) NOT NULL,
				node_name VARCHAR(128),
				level VARCHAR(8) NOT NULL CHECK (level IN ('info', 'warn', 'error')),
				message TEXT NOT NULL,
				metadata JSONB NOT NULL DEFAULT '{}',
				created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
			);

			CREATE INDEX IF NOT EXISTS idx_worker_run_logs_run_id ON worker_run_logs(run_id);
			CREATE INDEX IF NOT EXISTS idx_worker_run_logs_created_at ON worker_run_logs(created_at);

			-- Terminal failures of jobs and scheduled messages
			CREATE TABLE IF NOT EXISTS dead_letters (
				id BIGSERIAL PRIMARY KEY,
				run_id VARCHAR(64) NOT NULL,
				thread_id VARCHAR(255),
				graph_name VARCHAR(128) NOT NULL,
				source_node VARCHAR(128),
				job_id VARCHAR(64),
				scheduled_message_id BIGINT,
				error_code VARCHAR(64) NOT NULL,
				error_message TEXT NOT NULL,
				attempts INT NOT NULL DEFAULT 0,
				retryable BOOLEAN NOT NULL DEFAULT FALSE,
				payload JSONB,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
			);

			CREATE INDEX IF NOT EXISTS idx_dead_letters_run_id ON dead_letters(run_id);
			CREATE INDEX IF NOT EXISTS idx_dead_letters_created_at ON dead_letters(created_at);

			-- Automation matches written by the CRM, expanded by the scheduler graph
			CREATE TABLE IF NOT EXISTS automation_triggers (
				id BIGSERIAL PRIMARY KEY,
				rule_id BIGINT NOT NULL,
				rule_name VARCHAR(255) NOT NULL,
				chat_id BIGINT NOT NULL,
				phone VARCHAR(32) NOT NULL DEFAULT '',
				due_at TIMESTAMP WITH TIME ZONE NOT NULL,
				sequence JSONB NOT NULL DEFAULT '[]',
				variables JSONB NOT NULL DEFAULT '{}',
				processed_at TIMESTAMP WITH TIME ZONE,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
			);

			CREATE INDEX IF NOT EXISTS idx_automation_triggers_due ON automation_triggers(due_at) WHERE processed_at IS NULL;

			-- Local chat records targeted by delete orchestration
			CREATE TABLE IF NOT EXISTS chat_messages (
				id BIGSERIAL PRIMARY KEY,
				chat_id BIGINT NOT NULL,
				external_message_id VARCHAR(255),
				revoked_at TIMESTAMP WITH TIME ZONE,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
			);
		`,
		2: `
			-- Append-only graph checkpoints keyed by thread
			CREATE TABLE IF NOT EXISTS graph_checkpoints (
				id BIGSERIAL PRIMARY KEY,
				thread_id VARCHAR(255) NOT NULL,
				graph VARCHAR(128) NOT NULL,
				run_id VARCHAR(64),
				step INT NOT NULL,
				node VARCHAR(128) NOT NULL,
				next VARCHAR(128) NOT NULL,
				state JSONB NOT NULL,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
			);

			CREATE INDEX IF NOT EXISTS idx_graph_checkpoints_thread ON graph_checkpoints(thread_id, id DESC);
		`,
	}
}
