package storage

const (
	queryLoadSnapshot = `
		SELECT content, version, language
		FROM documents
		WHERE id = $1
	`

	queryInsertDocument = `
		INSERT INTO documents (id, owner_id, content, language, version, is_public)
		VALUES ($1, $2, '', 'plaintext', 0, false)
		ON CONFLICT (id) DO NOTHING
	`

	querySaveSnapshot = `
		UPDATE documents
		SET content = $2, version = $3, language = $4, updated_at = NOW()
		WHERE id = $1
	`

	queryAppendOp = `
		INSERT INTO document_operations
			(doc_id, version, kind, position, length, text_len, user_id, client_id, op_hash)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (doc_id, version) DO NOTHING
	`

	queryLoadOpsSince = `
		SELECT version, kind, position, length, text_len, user_id, client_id, created_at
		FROM document_operations
		WHERE doc_id = $1 AND version > $2
		ORDER BY version ASC
	`

	queryResolveAccess = `
		SELECT level FROM document_access
		WHERE doc_id = $1 AND user_id = $2
	`

	queryResolveOwnerAccess = `
		SELECT owner_id FROM documents WHERE id = $1
	`

	queryFindOrCreateUserByProvider = `
		INSERT INTO users (provider, provider_id, email, name, avatar_url)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (provider, provider_id)
		DO UPDATE SET
			email = EXCLUDED.email,
			name = EXCLUDED.name,
			avatar_url = EXCLUDED.avatar_url,
			updated_at = NOW()
		RETURNING id, email, provider, provider_id, name, avatar_url, created_at, updated_at
	`

	queryFindUserByID = `
		SELECT id, email, provider, provider_id, name, avatar_url, created_at, updated_at
		FROM users
		WHERE id = $1
	`

	queryUpdateUserProfile = `
		UPDATE users
		SET name = $1, avatar_url = $2, updated_at = NOW()
		WHERE id = $3
		RETURNING id, email, provider, provider_id, name, avatar_url, created_at, updated_at
	`
)
