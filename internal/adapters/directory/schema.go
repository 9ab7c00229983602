package directory

// Each schema is a list of statements executed one at a time; the MySQL
// driver rejects multi-statement strings unless explicitly enabled.

var schemaSQLite = []string{
	`CREATE TABLE IF NOT EXISTS students (
  urn TEXT PRIMARY KEY,
  name TEXT NOT NULL DEFAULT '',
  branch TEXT NOT NULL DEFAULT '',
  year INTEGER NOT NULL DEFAULT 0,
  is_captain INTEGER NOT NULL DEFAULT 0,
  sports_json TEXT NOT NULL,
  positions_json TEXT NOT NULL,
  updated_at INTEGER NOT NULL
)`,
	`CREATE INDEX IF NOT EXISTS idx_students_year_branch ON students (year, branch)`,
}

var schemaPostgres = []string{
	`CREATE TABLE IF NOT EXISTS students (
  urn TEXT PRIMARY KEY,
  name TEXT NOT NULL DEFAULT '',
  branch TEXT NOT NULL DEFAULT '',
  year INTEGER NOT NULL DEFAULT 0,
  is_captain BOOLEAN NOT NULL DEFAULT FALSE,
  sports_json TEXT NOT NULL,
  positions_json TEXT NOT NULL,
  updated_at BIGINT NOT NULL
)`,
	`CREATE INDEX IF NOT EXISTS idx_students_year_branch ON students (year, branch)`,
}

var schemaMySQL = []string{
	`CREATE TABLE IF NOT EXISTS students (
  urn VARCHAR(64) NOT NULL PRIMARY KEY,
  name VARCHAR(255) NOT NULL DEFAULT '',
  branch VARCHAR(128) NOT NULL DEFAULT '',
  year INT NOT NULL DEFAULT 0,
  is_captain BOOLEAN NOT NULL DEFAULT FALSE,
  sports_json TEXT NOT NULL,
  positions_json TEXT NOT NULL,
  updated_at BIGINT NOT NULL,
  INDEX idx_students_year_branch (year, branch)
)`,
}

const upsertStandard = `INSERT INTO students (urn,name,branch,year,is_captain,sports_json,positions_json,updated_at)
	VALUES (?,?,?,?,?,?,?,?)
	ON CONFLICT (urn) DO UPDATE SET name=excluded.name, branch=excluded.branch, year=excluded.year,
	is_captain=excluded.is_captain, sports_json=excluded.sports_json, positions_json=excluded.positions_json,
	updated_at=excluded.updated_at`

const upsertMySQL = `INSERT INTO students (urn,name,branch,year,is_captain,sports_json,positions_json,updated_at)
	VALUES (?,?,?,?,?,?,?,?)
	ON DUPLICATE KEY UPDATE name=VALUES(name), branch=VALUES(branch), year=VALUES(year),
	is_captain=VALUES(is_captain), sports_json=VALUES(sports_json), positions_json=VALUES(positions_json),
	updated_at=VALUES(updated_at)`
