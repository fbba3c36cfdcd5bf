package store

// The changeset id is assigned by OSM; all other ids are local
// serials. Reason and tag bindings live in join tables so concurrent
// imports can merge reasons without row rewrites.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id BIGSERIAL PRIMARY KEY,
		username VARCHAR(255) NOT NULL UNIQUE,
		uid VARCHAR(255) NOT NULL DEFAULT '',
		token VARCHAR(255) NOT NULL DEFAULT '',
		is_staff BOOLEAN NOT NULL DEFAULT FALSE,
		message_good TEXT NOT NULL DEFAULT '',
		message_bad TEXT NOT NULL DEFAULT '',
		comment_feature BOOLEAN NOT NULL DEFAULT FALSE
	)`,
	`CREATE INDEX IF NOT EXISTS users_token_idx ON users (token)`,

	`CREATE TABLE IF NOT EXISTS suspicion_reasons (
		id BIGSERIAL PRIMARY KEY,
		name VARCHAR(255) NOT NULL UNIQUE,
		description VARCHAR(1000) NOT NULL DEFAULT '',
		is_visible BOOLEAN NOT NULL DEFAULT TRUE,
		for_changeset BOOLEAN NOT NULL DEFAULT TRUE,
		for_feature BOOLEAN NOT NULL DEFAULT TRUE
	)`,

	`CREATE TABLE IF NOT EXISTS tags (
		id BIGSERIAL PRIMARY KEY,
		name VARCHAR(255) NOT NULL UNIQUE,
		description VARCHAR(1000) NOT NULL DEFAULT '',
		is_visible BOOLEAN NOT NULL DEFAULT TRUE,
		for_changeset BOOLEAN NOT NULL DEFAULT TRUE,
		for_feature BOOLEAN NOT NULL DEFAULT TRUE
	)`,

	`CREATE TABLE IF NOT EXISTS changesets (
		id BIGINT PRIMARY KEY,
		"user" VARCHAR(1000) NOT NULL DEFAULT '',
		uid VARCHAR(255) NOT NULL DEFAULT '',
		editor VARCHAR(255) NOT NULL DEFAULT '',
		powerful_editor BOOLEAN NOT NULL DEFAULT FALSE,
		comment VARCHAR(1000) NOT NULL DEFAULT '',
		source VARCHAR(1000) NOT NULL DEFAULT '',
		imagery_used VARCHAR(1000) NOT NULL DEFAULT '',
		date TIMESTAMPTZ,
		"create" INTEGER NOT NULL DEFAULT 0,
		modify INTEGER NOT NULL DEFAULT 0,
		"delete" INTEGER NOT NULL DEFAULT 0,
		comments_count INTEGER NOT NULL DEFAULT 0,
		bbox GEOMETRY(POLYGON, 4326),
		area DOUBLE PRECISION NOT NULL DEFAULT 0,
		is_suspect BOOLEAN NOT NULL DEFAULT FALSE,
		harmful BOOLEAN,
		checked BOOLEAN NOT NULL DEFAULT FALSE,
		check_user_id BIGINT REFERENCES users (id) ON DELETE SET NULL,
		check_date TIMESTAMPTZ,
		metadata JSONB NOT NULL DEFAULT '{}',
		tag_changes JSONB NOT NULL DEFAULT '{}',
		new_features JSONB NOT NULL DEFAULT '[]',
		reviewed_features JSONB NOT NULL DEFAULT '[]'
	)`,
	`CREATE INDEX IF NOT EXISTS changesets_user_idx ON changesets ("user")`,
	`CREATE INDEX IF NOT EXISTS changesets_uid_idx ON changesets (uid)`,
	`CREATE INDEX IF NOT EXISTS changesets_date_idx ON changesets (date)`,
	`CREATE INDEX IF NOT EXISTS changesets_checked_idx ON changesets (checked)`,
	`CREATE INDEX IF NOT EXISTS changesets_harmful_idx ON changesets (harmful)`,
	`CREATE INDEX IF NOT EXISTS changesets_is_suspect_idx ON changesets (is_suspect)`,
	`CREATE INDEX IF NOT EXISTS changesets_bbox_idx ON changesets USING GIST (bbox)`,
	`CREATE INDEX IF NOT EXISTS changesets_metadata_idx ON changesets USING GIN (metadata)`,

	`CREATE TABLE IF NOT EXISTS changeset_reasons (
		changeset_id BIGINT NOT NULL REFERENCES changesets (id) ON DELETE CASCADE,
		reason_id BIGINT NOT NULL REFERENCES suspicion_reasons (id) ON DELETE CASCADE,
		PRIMARY KEY (changeset_id, reason_id)
	)`,
	`CREATE INDEX IF NOT EXISTS changeset_reasons_reason_idx ON changeset_reasons (reason_id)`,

	`CREATE TABLE IF NOT EXISTS changeset_tags (
		changeset_id BIGINT NOT NULL REFERENCES changesets (id) ON DELETE CASCADE,
		tag_id BIGINT NOT NULL REFERENCES tags (id) ON DELETE CASCADE,
		PRIMARY KEY (changeset_id, tag_id)
	)`,
	`CREATE INDEX IF NOT EXISTS changeset_tags_tag_idx ON changeset_tags (tag_id)`,

	`CREATE TABLE IF NOT EXISTS user_whitelists (
		id BIGSERIAL PRIMARY KEY,
		user_id BIGINT NOT NULL REFERENCES users (id) ON DELETE CASCADE,
		whitelist_user VARCHAR(1000) NOT NULL,
		UNIQUE (user_id, whitelist_user)
	)`,

	`CREATE TABLE IF NOT EXISTS blacklisted_users (
		id BIGSERIAL PRIMARY KEY,
		added_by BIGINT NOT NULL REFERENCES users (id) ON DELETE CASCADE,
		uid VARCHAR(255) NOT NULL,
		username VARCHAR(1000) NOT NULL DEFAULT '',
		date TIMESTAMPTZ NOT NULL DEFAULT now(),
		UNIQUE (added_by, uid)
	)`,

	`CREATE TABLE IF NOT EXISTS mapping_teams (
		id BIGSERIAL PRIMARY KEY,
		name VARCHAR(255) NOT NULL UNIQUE,
		trusted BOOLEAN NOT NULL DEFAULT FALSE,
		users JSONB NOT NULL DEFAULT '[]',
		created_by BIGINT NOT NULL REFERENCES users (id) ON DELETE CASCADE,
		date TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,

	`CREATE TABLE IF NOT EXISTS challenge_integrations (
		id BIGSERIAL PRIMARY KEY,
		challenge_id INTEGER NOT NULL UNIQUE,
		active BOOLEAN NOT NULL DEFAULT TRUE,
		created_by BIGINT NOT NULL REFERENCES users (id) ON DELETE CASCADE,
		created TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,

	`CREATE TABLE IF NOT EXISTS challenge_reasons (
		challenge_id BIGINT NOT NULL REFERENCES challenge_integrations (id) ON DELETE CASCADE,
		reason_id BIGINT NOT NULL REFERENCES suspicion_reasons (id) ON DELETE CASCADE,
		PRIMARY KEY (challenge_id, reason_id)
	)`,

	`CREATE TABLE IF NOT EXISTS import_cursor (
		id BIGSERIAL PRIMARY KEY,
		start_seq INTEGER NOT NULL,
		end_seq INTEGER NOT NULL,
		date TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS import_cursor_end_idx ON import_cursor (end_seq)`,
}
