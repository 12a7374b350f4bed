package repository

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"

	"github.com/iliyamo/license-panel/internal/model"
)

// MySQL error numbers the store reacts to.
const (
	mysqlDuplicateEntry  = 1062
	mysqlLockWaitTimeout = 1205
	mysqlDeadlock        = 1213
)

// All statements live here so tests can match them exactly.
const (
	deviceColumns = "id, mac, hostname, key_code, active, activated_at, expires_at, added_by, created_at"

	qDeviceByID     = "SELECT " + deviceColumns + " FROM devices WHERE id = ?"
	qDeviceByMAC    = "SELECT " + deviceColumns + " FROM devices WHERE mac = ?"
	qListDevices    = "SELECT " + deviceColumns + " FROM devices ORDER BY id DESC"
	qSearchDevices  = "SELECT " + deviceColumns + " FROM devices WHERE LOWER(mac) LIKE ? OR LOWER(hostname) LIKE ? OR LOWER(key_code) LIKE ? ORDER BY id DESC"
	qCountDevices   = "SELECT COUNT(*), COALESCE(SUM(active), 0) FROM devices"
	qLockDevice     = "SELECT " + deviceColumns + " FROM devices WHERE id = ? FOR UPDATE"
	qInsertDevice   = "INSERT INTO devices (mac, hostname, key_code, active, activated_at, expires_at, added_by, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)"
	qUpdateDevice   = "UPDATE devices SET active = ?, activated_at = ?, expires_at = ? WHERE id = ?"
	qDeleteDevice   = "DELETE FROM devices WHERE id = ?"
	logColumns      = "id, mac, hostname, action, performed_by, `timestamp`"
	qRecentLogs     = "SELECT " + logColumns + " FROM activity_logs ORDER BY `timestamp` DESC, id DESC LIMIT ?"
	qSearchLogs     = "SELECT " + logColumns + " FROM activity_logs WHERE LOWER(mac) LIKE ? OR LOWER(hostname) LIKE ? OR LOWER(action) LIKE ? OR LOWER(performed_by) LIKE ? ORDER BY `timestamp` DESC, id DESC LIMIT ?"
	qLogTail        = "SELECT MAX(`timestamp`) FROM activity_logs FOR UPDATE"
	qAppendLog      = "INSERT INTO activity_logs (mac, hostname, action, performed_by, `timestamp`) VALUES (?, ?, ?, ?, ?)"
	userColumns     = "id, username, password_hash, role, created_at"
	qUserByUsername = "SELECT " + userColumns + " FROM users WHERE username = ? LIMIT 1"
	qListUsers      = "SELECT " + userColumns + " FROM users ORDER BY id"
	qInsertUser     = "INSERT INTO users (username, password_hash, role, created_at) VALUES (?, ?, ?, ?)"
	qUpdateUserRole = "UPDATE users SET role = ? WHERE username = ?"
	qCountUsers     = "SELECT COUNT(*) FROM users"
)

// MySQLStore implements Store on a MySQL database.  Per-device
// serialization comes from SELECT ... FOR UPDATE row locks and MAC
// uniqueness from the ux_devices_mac unique index.
type MySQLStore struct {
	db *sql.DB
}

// NewMySQLStore wraps an open connection pool.  The schema is expected to
// exist already (see database.Migrate).
func NewMySQLStore(db *sql.DB) *MySQLStore { return &MySQLStore{db: db} }

func (s *MySQLStore) Ping(ctx context.Context) error {
	return classify(s.db.PingContext(ctx), nil)
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanDevice(r rowScanner) (model.Device, error) {
	var (
		d           model.Device
		activatedAt sql.NullTime
		expiresAt   sql.NullTime
	)
	err := r.Scan(&d.ID, &d.MAC, &d.Hostname, &d.KeyCode, &d.Active, &activatedAt, &expiresAt, &d.AddedBy, &d.CreatedAt)
	if err != nil {
		return model.Device{}, err
	}
	if activatedAt.Valid {
		t := activatedAt.Time.UTC()
		d.ActivatedAt = &t
	}
	if expiresAt.Valid {
		t := expiresAt.Time.UTC()
		d.ExpiresAt = &t
	}
	d.CreatedAt = d.CreatedAt.UTC()
	return d, nil
}

func (s *MySQLStore) DeviceByID(ctx context.Context, id uint64) (model.Device, error) {
	d, err := scanDevice(s.db.QueryRowContext(ctx, qDeviceByID, id))
	if err != nil {
		return model.Device{}, classify(err, nil)
	}
	return d, nil
}

func (s *MySQLStore) DeviceByMAC(ctx context.Context, mac string) (model.Device, error) {
	d, err := scanDevice(s.db.QueryRowContext(ctx, qDeviceByMAC, mac))
	if err != nil {
		return model.Device{}, classify(err, nil)
	}
	return d, nil
}

func (s *MySQLStore) ListDevices(ctx context.Context) ([]model.Device, error) {
	return s.queryDevices(ctx, qListDevices)
}

func (s *MySQLStore) SearchDevices(ctx context.Context, term string) ([]model.Device, error) {
	if term == "" {
		return s.ListDevices(ctx)
	}
	p := likePattern(term)
	return s.queryDevices(ctx, qSearchDevices, p, p, p)
}

func (s *MySQLStore) queryDevices(ctx context.Context, q string, args ...any) ([]model.Device, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, classify(err, nil)
	}
	defer rows.Close()
	out := []model.Device{}
	for rows.Next() {
		d, err := scanDevice(rows)
		if err != nil {
			return nil, classify(err, nil)
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(err, nil)
	}
	return out, nil
}

func (s *MySQLStore) CountDevices(ctx context.Context) (int, int, error) {
	var total, active int
	if err := s.db.QueryRowContext(ctx, qCountDevices).Scan(&total, &active); err != nil {
		return 0, 0, classify(err, nil)
	}
	return total, active, nil
}

func (s *MySQLStore) RecentLogs(ctx context.Context, limit int) ([]model.LogEntry, error) {
	return s.queryLogs(ctx, qRecentLogs, limit)
}

func (s *MySQLStore) SearchLogs(ctx context.Context, term string, limit int) ([]model.LogEntry, error) {
	if term == "" {
		return s.RecentLogs(ctx, limit)
	}
	p := likePattern(term)
	return s.queryLogs(ctx, qSearchLogs, p, p, p, p, limit)
}

func (s *MySQLStore) queryLogs(ctx context.Context, q string, args ...any) ([]model.LogEntry, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, classify(err, nil)
	}
	defer rows.Close()
	out := []model.LogEntry{}
	for rows.Next() {
		var e model.LogEntry
		if err := rows.Scan(&e.ID, &e.MAC, &e.Hostname, &e.Action, &e.PerformedBy, &e.Timestamp); err != nil {
			return nil, classify(err, nil)
		}
		e.Timestamp = e.Timestamp.UTC()
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(err, nil)
	}
	return out, nil
}

func scanUser(r rowScanner) (model.User, error) {
	var u model.User
	if err := r.Scan(&u.ID, &u.Username, &u.PasswordHash, &u.Role, &u.CreatedAt); err != nil {
		return model.User{}, err
	}
	u.CreatedAt = u.CreatedAt.UTC()
	return u, nil
}

func (s *MySQLStore) UserByUsername(ctx context.Context, username string) (model.User, error) {
	u, err := scanUser(s.db.QueryRowContext(ctx, qUserByUsername, username))
	if err != nil {
		return model.User{}, classify(err, nil)
	}
	return u, nil
}

func (s *MySQLStore) ListUsers(ctx context.Context) ([]model.User, error) {
	rows, err := s.db.QueryContext(ctx, qListUsers)
	if err != nil {
		return nil, classify(err, nil)
	}
	defer rows.Close()
	out := []model.User{}
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, classify(err, nil)
		}
		out = append(out, u)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(err, nil)
	}
	return out, nil
}

func (s *MySQLStore) CreateUser(ctx context.Context, u *model.User) error {
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}
	res, err := s.db.ExecContext(ctx, qInsertUser, u.Username, u.PasswordHash, u.Role, u.CreatedAt)
	if err != nil {
		return classify(err, ErrDuplicateUsername)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return classify(err, nil)
	}
	u.ID = uint64(id)
	return nil
}

func (s *MySQLStore) UpdateUserRole(ctx context.Context, username, role string) (model.User, error) {
	if _, err := s.db.ExecContext(ctx, qUpdateUserRole, role, username); err != nil {
		return model.User{}, classify(err, nil)
	}
	// RowsAffected is 0 when the role is unchanged, so existence is
	// checked by reading the row back.
	return s.UserByUsername(ctx, username)
}

func (s *MySQLStore) CountUsers(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, qCountUsers).Scan(&n); err != nil {
		return 0, classify(err, nil)
	}
	return n, nil
}

// WithinTx begins a transaction, runs fn and commits.  Any error from fn
// or from the commit rolls the transaction back.
func (s *MySQLStore) WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return classify(err, nil)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()
	if err := fn(ctx, &mysqlTx{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return classify(err, nil)
	}
	committed = true
	return nil
}

type mysqlTx struct {
	tx *sql.Tx
}

func (t *mysqlTx) LockDevice(ctx context.Context, id uint64) (model.Device, error) {
	d, err := scanDevice(t.tx.QueryRowContext(ctx, qLockDevice, id))
	if err != nil {
		return model.Device{}, classify(err, nil)
	}
	return d, nil
}

func (t *mysqlTx) InsertDevice(ctx context.Context, d *model.Device) error {
	res, err := t.tx.ExecContext(ctx, qInsertDevice,
		d.MAC, d.Hostname, d.KeyCode, d.Active, nullTime(d.ActivatedAt), nullTime(d.ExpiresAt), d.AddedBy, d.CreatedAt)
	if err != nil {
		return classify(err, ErrDuplicateMac)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return classify(err, nil)
	}
	d.ID = uint64(id)
	return nil
}

func (t *mysqlTx) UpdateDevice(ctx context.Context, d model.Device) error {
	res, err := t.tx.ExecContext(ctx, qUpdateDevice, d.Active, nullTime(d.ActivatedAt), nullTime(d.ExpiresAt), d.ID)
	if err != nil {
		return classify(err, nil)
	}
	return requireRow(res)
}

func (t *mysqlTx) DeleteDevice(ctx context.Context, id uint64) error {
	res, err := t.tx.ExecContext(ctx, qDeleteDevice, id)
	if err != nil {
		return classify(err, nil)
	}
	return requireRow(res)
}

func (t *mysqlTx) AppendLog(ctx context.Context, e *model.LogEntry) error {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	// The locking read on the newest entry queues appenders behind each
	// other, so the AUTO_INCREMENT id and the timestamp grow together.
	var tail sql.NullTime
	if err := t.tx.QueryRowContext(ctx, qLogTail).Scan(&tail); err != nil {
		return classify(err, nil)
	}
	if tail.Valid && e.Timestamp.Before(tail.Time) {
		e.Timestamp = tail.Time.UTC()
	}
	res, err := t.tx.ExecContext(ctx, qAppendLog, e.MAC, e.Hostname, e.Action, e.PerformedBy, e.Timestamp)
	if err != nil {
		return classify(err, nil)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return classify(err, nil)
	}
	e.ID = uint64(id)
	return nil
}

// requireRow turns an UPDATE/DELETE that matched nothing into ErrNotFound.
// Callers lock the row first, so this only fires when it vanished
// underneath a misbehaving caller.
func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return classify(err, nil)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

// likePattern lower-cases term, escapes LIKE wildcards and wraps it for a
// substring match.
func likePattern(term string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + r.Replace(strings.ToLower(term)) + "%"
}

// classify maps driver errors onto the package sentinels.  dup is the
// error to report for a unique-key violation; nil passes it through.
func classify(err error, dup error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	var me *mysql.MySQLError
	if errors.As(err, &me) {
		switch me.Number {
		case mysqlDuplicateEntry:
			if dup != nil {
				return dup
			}
		case mysqlDeadlock, mysqlLockWaitTimeout:
			return Transient(err)
		}
		return fmt.Errorf("mysql: %w", err)
	}
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, mysql.ErrInvalidConn) || errors.Is(err, sql.ErrConnDone) {
		return Transient(err)
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return Transient(err)
	}
	return err
}
