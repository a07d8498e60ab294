package commitqueue

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/hochfrequenz/ticket-orchestrator/internal/orcerrors"
)

// Lock serializes staging and committing across worker processes
type Lock interface {
	Acquire(ctx context.Context, owner string) error
	Release(owner string) error
	ForceRelease() error
	Holder() (owner string, acquiredAt time.Time, held bool, err error)
}

// lockRecord is the JSON body of the lock token file
type lockRecord struct {
	Owner      string    `json:"owner"`
	AcquiredAt time.Time `json:"acquired_at"`
}

// FileLock implements Lock with an exclusive-create token file, the
// one create-if-absent primitive every process on a host agrees on.
// A holder that dies leaves the token behind; acquisition recovers it
// once the token's age exceeds the stale threshold.
type FileLock struct {
	path       string
	timeout    time.Duration
	interval   time.Duration
	staleAfter time.Duration
}

// NewFileLock creates a FileLock at path. Acquisition polls every
// interval until timeout; tokens older than the timeout are treated as
// abandoned by a dead holder.
func NewFileLock(path string, timeout, interval time.Duration) *FileLock {
	return &FileLock{
		path:       path,
		timeout:    timeout,
		interval:   interval,
		staleAfter: timeout,
	}
}

// SetStaleAfter overrides the age beyond which a held token is
// considered abandoned.
func (l *FileLock) SetStaleAfter(age time.Duration) {
	l.staleAfter = age
}

// tryAcquire attempts the atomic create-if-absent. The token's
// existence is the lock; the JSON body is bookkeeping for staleness
// and ownership checks.
func (l *FileLock) tryAcquire(owner string) error {
	f, err := os.OpenFile(l.path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return err
	}
	defer f.Close()

	record := lockRecord{Owner: owner, AcquiredAt: time.Now()}
	return json.NewEncoder(f).Encode(record)
}

// readRecord returns the current token's record. A token that exists
// but cannot be parsed falls back to the file modification time so a
// crash between create and write still ages out.
func (l *FileLock) readRecord() (lockRecord, error) {
	data, err := os.ReadFile(l.path)
	if err != nil {
		return lockRecord{}, err
	}

	var record lockRecord
	if err := json.Unmarshal(data, &record); err != nil || record.AcquiredAt.IsZero() {
		info, statErr := os.Stat(l.path)
		if statErr != nil {
			return lockRecord{}, statErr
		}
		return lockRecord{Owner: record.Owner, AcquiredAt: info.ModTime()}, nil
	}
	return record, nil
}

// Acquire takes the lock for owner, polling until the timeout elapses.
// On timeout it inspects the holder's age; a stale token is force
// released and acquisition retried once. Anything else returns a
// LockTimeout naming the holder.
func (l *FileLock) Acquire(ctx context.Context, owner string) error {
	deadline := time.Now().Add(l.timeout)

	for {
		err := l.tryAcquire(owner)
		if err == nil {
			return nil
		}
		if !os.IsExist(err) {
			return fmt.Errorf("acquiring lock: %w", err)
		}

		if time.Now().After(deadline) {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(l.interval):
		}
	}

	record, err := l.readRecord()
	if err != nil {
		if os.IsNotExist(err) {
			// Holder released between the last poll and now.
			if err := l.tryAcquire(owner); err == nil {
				return nil
			}
			return &orcerrors.LockTimeout{Timeout: l.timeout}
		}
		return fmt.Errorf("inspecting lock holder: %w", err)
	}

	age := time.Since(record.AcquiredAt)
	if age > l.staleAfter {
		if err := l.ForceRelease(); err != nil {
			return fmt.Errorf("releasing stale lock: %w", err)
		}
		if err := l.tryAcquire(owner); err == nil {
			return nil
		}
		// Lost the post-recovery race to another process.
	}

	return &orcerrors.LockTimeout{Owner: record.Owner, Age: age, Timeout: l.timeout}
}

// Release removes the token after verifying owner holds it
func (l *FileLock) Release(owner string) error {
	record, err := l.readRecord()
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("releasing lock: not held")
		}
		return err
	}
	if record.Owner != owner {
		return fmt.Errorf("releasing lock: held by %s, not %s", record.Owner, owner)
	}
	return os.Remove(l.path)
}

// ForceRelease removes the token without an ownership check. Only
// stale-lock recovery should use this.
func (l *FileLock) ForceRelease() error {
	err := os.Remove(l.path)
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// Holder reports the current token, if any
func (l *FileLock) Holder() (string, time.Time, bool, error) {
	record, err := l.readRecord()
	if err != nil {
		if os.IsNotExist(err) {
			return "", time.Time{}, false, nil
		}
		return "", time.Time{}, false, err
	}
	return record.Owner, record.AcquiredAt, true, nil
}
