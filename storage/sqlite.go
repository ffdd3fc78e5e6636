package storage

import (
	"database/sql"
	"encoding/json"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/Bezludnev/parsingCarAvalible/models"
)

// SQLiteStore is the operational sidecar database: the command queue the
// scheduler polls and the audit history of check passes. Domain data
// lives in the engine store, never here.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, err
	}

	store := &SQLiteStore{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS commands (
		id INTEGER PRIMARY KEY,
		command TEXT NOT NULL,
		params JSON,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		processed_at DATETIME
	);

	CREATE TABLE IF NOT EXISTS check_runs (
		id INTEGER PRIMARY KEY,
		pass_id TEXT,
		started_at DATETIME,
		finished_at DATETIME,
		status TEXT,
		checked INTEGER DEFAULT 0,
		changed INTEGER DEFAULT 0,
		errors INTEGER DEFAULT 0
	);`

	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLiteStore) EnqueueCommand(cmd models.CommandType, params *models.CommandParams) error {
	var raw []byte
	if params != nil {
		var err error
		raw, err = json.Marshal(params)
		if err != nil {
			return err
		}
	}
	_, err := s.db.Exec(`INSERT INTO commands (command, params) VALUES (?, ?)`, string(cmd), raw)
	return err
}

func (s *SQLiteStore) GetPendingCommands() ([]models.Command, error) {
	rows, err := s.db.Query(`
		SELECT id, command, COALESCE(params, '{}'), created_at
		FROM commands
		WHERE processed_at IS NULL
		ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cmds []models.Command
	for rows.Next() {
		var cmd models.Command
		var command string
		if err := rows.Scan(&cmd.ID, &command, &cmd.Params, &cmd.CreatedAt); err != nil {
			return nil, err
		}
		cmd.Command = models.CommandType(command)
		cmds = append(cmds, cmd)
	}
	return cmds, rows.Err()
}

func (s *SQLiteStore) MarkCommandProcessed(id int64) error {
	_, err := s.db.Exec(`UPDATE commands SET processed_at = ? WHERE id = ?`, time.Now(), id)
	return err
}

func (s *SQLiteStore) ParseCommandParams(cmd *models.Command) (*models.CommandParams, error) {
	var params models.CommandParams
	if len(cmd.Params) == 0 {
		return &params, nil
	}
	if err := json.Unmarshal(cmd.Params, &params); err != nil {
		return nil, err
	}
	return &params, nil
}

func (s *SQLiteStore) CreateRun(run *models.CheckRun) (int64, error) {
	res, err := s.db.Exec(`
		INSERT INTO check_runs (pass_id, started_at, status) VALUES (?, ?, ?)`,
		run.PassID, run.StartedAt, string(run.Status))
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (s *SQLiteStore) UpdateRun(run *models.CheckRun) error {
	_, err := s.db.Exec(`
		UPDATE check_runs
		SET pass_id = ?, finished_at = ?, status = ?, checked = ?, changed = ?, errors = ?
		WHERE id = ?`,
		run.PassID, run.FinishedAt, string(run.Status), run.Checked, run.Changed, run.Errors, run.ID)
	return err
}

func (s *SQLiteStore) GetLastRunTime() (time.Time, error) {
	var t sql.NullTime
	err := s.db.QueryRow(`
		SELECT MAX(finished_at) FROM check_runs WHERE status = ?`,
		string(models.RunStatusCompleted)).Scan(&t)
	if err != nil {
		return time.Time{}, err
	}
	if !t.Valid {
		return time.Time{}, nil
	}
	return t.Time, nil
}

func (s *SQLiteStore) GetRecentRuns(limit int) ([]models.CheckRun, error) {
	rows, err := s.db.Query(`
		SELECT id, pass_id, started_at, finished_at, status, checked, changed, errors
		FROM check_runs
		ORDER BY started_at DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []models.CheckRun
	for rows.Next() {
		var run models.CheckRun
		var status string
		if err := rows.Scan(&run.ID, &run.PassID, &run.StartedAt, &run.FinishedAt,
			&status, &run.Checked, &run.Changed, &run.Errors); err != nil {
			return nil, err
		}
		run.Status = models.RunStatus(status)
		runs = append(runs, run)
	}
	return runs, rows.Err()
}
