package signal

import (
	"database/sql"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// roomDB provides optional SQLite-backed persistence of room membership
// events, so a relay restart keeps an audit trail of who joined what and
// multiple relay instances pointed at the same file share it.
type roomDB struct {
	db *sql.DB
	mu sync.Mutex
}

func openRoomDB(path string) (*roomDB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	// WAL mode for concurrent access from multiple processes sharing the file.
	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, err
		}
	}

	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS room_events (
		id      INTEGER PRIMARY KEY AUTOINCREMENT,
		room    TEXT NOT NULL,
		peer_id TEXT NOT NULL,
		event   TEXT NOT NULL,
		ts      INTEGER NOT NULL
	)`)
	if err != nil {
		db.Close()
		return nil, err
	}

	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS rooms (
		room        TEXT PRIMARY KEY,
		created_at  INTEGER NOT NULL,
		last_active INTEGER NOT NULL,
		joins       INTEGER NOT NULL DEFAULT 0
	)`)
	if err != nil {
		db.Close()
		return nil, err
	}

	return &roomDB{db: db}, nil
}

// record journals one membership event and refreshes the room row.
func (r *roomDB) record(room, peerID, event string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now().UnixMilli()
	_, err := r.db.Exec(`INSERT INTO room_events (room, peer_id, event, ts) VALUES (?, ?, ?, ?)`,
		room, peerID, event, now)
	if err != nil {
		logger.Warnf("roomdb: record error: %v", err)
		return
	}

	join := 0
	if event == "join" {
		join = 1
	}
	_, _ = r.db.Exec(`INSERT INTO rooms (room, created_at, last_active, joins)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(room) DO UPDATE SET
			last_active=excluded.last_active,
			joins=rooms.joins+?`,
		room, now, now, join, join)
}

// recentEvents returns up to limit journal rows, newest first.
func (r *roomDB) recentEvents(limit int) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rows, err := r.db.Query(`SELECT room, peer_id, event, ts FROM room_events ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var room, peer, event string
		var ts int64
		if err := rows.Scan(&room, &peer, &event, &ts); err != nil {
			return nil, err
		}
		out = append(out, time.UnixMilli(ts).Format(time.RFC3339)+" "+event+" "+room+" "+peer)
	}
	return out, rows.Err()
}

// cleanupStale deletes journal rows older than the threshold (unix millis).
func (r *roomDB) cleanupStale(thresholdMillis int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, _ = r.db.Exec(`DELETE FROM room_events WHERE ts < ?`, thresholdMillis)
}

func (r *roomDB) close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	_ = r.db.Close()
}
