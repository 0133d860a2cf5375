package postgres

// Static SQL for event persistence. Read paths are assembled dynamically in
// query_builder.go and metrics_builder.go from allow-listed fragments.

const (
	// queryInsertEvent inserts the event envelope row.
	// ON CONFLICT DO NOTHING makes retried batch writes idempotent: a
	// duplicate ID affects zero rows and the payload inserts are skipped.
	queryInsertEvent = `
		INSERT INTO events (
			id, type, name, occurred_at,
			user_id, session_id, source, ingested_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO NOTHING
	`

	// queryInsertProperties attaches the business payload to an event.
	// Cascade-deleted with the event row.
	queryInsertProperties = `
		INSERT INTO event_properties (event_id, payload)
		VALUES ($1, $2::jsonb)
	`

	// queryInsertContext attaches the captured environment to an event.
	queryInsertContext = `
		INSERT INTO event_contexts (event_id, payload)
		VALUES ($1, $2::jsonb)
	`

	// querySelectEvents is the shared projection and join skeleton for reads.
	// Payload tables are joined unconditionally; events without payloads
	// produce NULLs there.
	querySelectEvents = `
		SELECT
			e.id, e.type, e.name, e.occurred_at,
			e.user_id, e.session_id, e.source, e.ingested_at,
			p.payload, c.payload
	`

	queryFromEvents = `
		FROM events e
		LEFT JOIN event_properties p ON p.event_id = e.id
		LEFT JOIN event_contexts c ON c.event_id = e.id
	`
)
