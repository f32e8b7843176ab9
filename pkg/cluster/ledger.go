package cluster

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	// use deadlock detector mutexes here since a deadlock in ledger
	// operations would stall every job wait
	sync "github.com/sasha-s/go-deadlock"
)

// Ledger records every job submission in sqlite so operators can audit what
// ran, when, and how it ended.
type Ledger struct {
	db *sql.DB
	mu sync.Mutex
}

type Entry struct {
	ID          int
	Name        string
	Flavor      string
	State       string
	SubmittedAt string
	Done        bool
	Error       string
}

func OpenLedger(path string) (*Ledger, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}

	l := Ledger{db: db}

	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS jobs (
		id INTEGER PRIMARY KEY ASC,
		name TEXT UNIQUE,
		flavor TEXT,
		state TEXT,
		submitted_at TEXT,
		done INTEGER DEFAULT 0,
		error TEXT DEFAULT ''
	)`)
	if err != nil {
		db.Close()
		return nil, err
	}

	return &l, nil
}

func (l *Ledger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.db.Close()
}

func (l *Ledger) Record(name, flavor string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	_, err := l.db.Exec(
		"INSERT INTO jobs (name, flavor, state, submitted_at) VALUES (?, ?, ?, ?)",
		name, flavor, string(StatePending), time.Now().Format(time.RFC3339),
	)
	return err
}

func (l *Ledger) UpdateState(name string, state State) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	_, err := l.db.Exec("UPDATE jobs SET state = ? WHERE name = ?", string(state), name)
	return err
}

func (l *Ledger) SetDone(name string, state State, errMsg string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	_, err := l.db.Exec(
		"UPDATE jobs SET done = 1, state = ?, error = ? WHERE name = ?",
		string(state), errMsg, name,
	)
	return err
}

func (l *Ledger) Get(name string) (Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	row := l.db.QueryRow(
		"SELECT id, name, flavor, state, submitted_at, done, error FROM jobs WHERE name = ?",
		name,
	)

	var e Entry
	if err := row.Scan(&e.ID, &e.Name, &e.Flavor, &e.State, &e.SubmittedAt, &e.Done, &e.Error); err != nil {
		if err == sql.ErrNoRows {
			return Entry{}, fmt.Errorf("no such job: %s", name)
		}
		return Entry{}, err
	}
	return e, nil
}

func (l *Ledger) List() ([]Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	rows, err := l.db.Query(
		"SELECT id, name, flavor, state, submitted_at, done, error FROM jobs ORDER BY id DESC",
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.Name, &e.Flavor, &e.State, &e.SubmittedAt, &e.Done, &e.Error); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
