package sqlite3

const CreateKeyTable = `
    CREATE TABLE IF NOT EXISTS key_record (
        token		TEXT NOT NULL,
        id			TEXT NOT NULL,
        label		TEXT,
        class		INTEGER,
        type		INTEGER,
        usage		INTEGER,
        size		INTEGER,
        path		TEXT,
        aid			TEXT,
        path_type	INTEGER,
        native		INTEGER,
        key_ref		INTEGER,
        material	BLOB,
        PRIMARY KEY (token, id)
    )`

const InsertKeyQuery = `
	INSERT INTO key_record (token, id, label, class, type, usage, size, path, aid, path_type, native, key_ref, material)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`

const CleanKeysQuery = `
	DELETE FROM key_record WHERE token = ?
`

const GetKeysQuery = `
	SELECT id, label, class, type, usage, size, path, aid, path_type, native, key_ref, material
	FROM key_record
	WHERE token = ?
	ORDER BY rowid
`

const GetTokensQuery = `
	SELECT DISTINCT token FROM key_record ORDER BY token
`

var CreateStmts = []string{CreateKeyTable}
