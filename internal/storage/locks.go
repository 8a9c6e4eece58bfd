package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"parceltriggers/internal/model"
)

// AcquireSchedulerLock takes the named lock when no row exists or the
// holder's heartbeat is older than now-ttl. The conditional upsert is a
// single statement so concurrent callers cannot both win.
func (b *baseStore) AcquireSchedulerLock(ctx context.Context, name string, now time.Time, ttl time.Duration, pid int) (model.LockStatus, error) {
	cutoff := now.Add(-ttl)
	res, err := b.db.ExecContext(ctx, b.q(
		`INSERT INTO scheduler_locks (lock_name, held_by_pid, heartbeat_at, ttl_seconds, acquired_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (lock_name) DO UPDATE SET
			held_by_pid = excluded.held_by_pid,
			heartbeat_at = excluded.heartbeat_at,
			ttl_seconds = excluded.ttl_seconds,
			acquired_at = excluded.acquired_at
		WHERE scheduler_locks.heartbeat_at < ?`),
		name, pid, formatTime(now), int(ttl.Seconds()), formatTime(now), formatTime(cutoff))
	if err != nil {
		return model.LockStatus{}, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return model.LockStatus{}, err
	}
	status, _, err := b.lockStatus(ctx, name)
	if err != nil {
		return model.LockStatus{}, err
	}
	status.Acquired = n > 0 && status.HeldByPID == pid
	return status, nil
}

// RefreshSchedulerLock moves the heartbeat forward while pid still holds the
// lock. Acquired is false when the lock was lost.
func (b *baseStore) RefreshSchedulerLock(ctx context.Context, name string, now time.Time, ttl time.Duration, pid int) (model.LockStatus, error) {
	res, err := b.db.ExecContext(ctx, b.q(
		`UPDATE scheduler_locks SET heartbeat_at = ?, ttl_seconds = ?
		WHERE lock_name = ? AND held_by_pid = ?`),
		formatTime(now), int(ttl.Seconds()), name, pid)
	if err != nil {
		return model.LockStatus{}, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return model.LockStatus{}, err
	}
	status, found, err := b.lockStatus(ctx, name)
	if err != nil {
		return model.LockStatus{}, err
	}
	if !found {
		status.LockName = name
	}
	status.Acquired = n > 0
	return status, nil
}

func (b *baseStore) ReleaseSchedulerLock(ctx context.Context, name string, pid int) (bool, error) {
	res, err := b.db.ExecContext(ctx, b.q(
		`DELETE FROM scheduler_locks WHERE lock_name = ? AND held_by_pid = ?`), name, pid)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (b *baseStore) lockStatus(ctx context.Context, name string) (model.LockStatus, bool, error) {
	var (
		status    model.LockStatus
		heartbeat string
	)
	err := b.db.QueryRowContext(ctx, b.q(
		`SELECT lock_name, held_by_pid, heartbeat_at, ttl_seconds FROM scheduler_locks WHERE lock_name = ?`), name).
		Scan(&status.LockName, &status.HeldByPID, &heartbeat, &status.TTLSeconds)
	if errors.Is(err, sql.ErrNoRows) {
		return model.LockStatus{LockName: name}, false, nil
	}
	if err != nil {
		return model.LockStatus{}, false, err
	}
	status.HeartbeatAt = parseTime(heartbeat)
	return status, true, nil
}
