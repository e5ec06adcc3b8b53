package service

import (
	"context"
	"os"

	"github.com/guoyu07/shuttle/internal/shared/nexus"
)

func defaultExit(code int) {
	os.Exit(code)
}

// acquireMasterLock makes this process the single active master: it takes
// the named lock (blocking until held), publishes its endpoint, and installs
// a watch on the lock. A lock change to a foreign session or a lost session
// is fatal so a standby can take over.
func (m *MasterImpl) acquireMasterLock(ctx context.Context) error {
	root := m.cfg.NexusRootPath
	lockKey := root + m.cfg.MasterLockPath
	if err := m.nexus.Lock(ctx, lockKey); err != nil {
		return err
	}

	masterKey := root + m.cfg.MasterPath
	endpoint := m.selfEndpoint()
	if err := m.nexus.Put(ctx, masterKey, []byte(endpoint)); err != nil {
		return err
	}

	events, err := m.nexus.Watch(ctx, lockKey)
	if err != nil {
		return err
	}
	go m.watchLock(events)
	go m.watchSession()

	m.logger.Info("master lock acquired", "key", masterKey, "endpoint", endpoint)
	return nil
}

// watchLock consumes lock-change events. The lock key holds the session id
// of its owner; seeing any other session means another master took over.
func (m *MasterImpl) watchLock(events <-chan nexus.Event) {
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			if string(ev.Value) != m.nexus.SessionID() {
				m.fatalExit("master lost lock")
				return
			}
		case <-m.stop:
			return
		}
	}
}

// watchSession turns session loss into a fatal exit.
func (m *MasterImpl) watchSession() {
	select {
	case <-m.nexus.Done():
		m.fatalExit("master lost session with nexus")
	case <-m.stop:
	}
}

// fatalExit is the structured fatal path: log, stop background work, exit
// nonzero. A master already shutting down cleanly does not die twice.
func (m *MasterImpl) fatalExit(msg string) {
	select {
	case <-m.stop:
		return
	default:
	}
	m.logger.Error(msg)
	m.executor.Stop()
	m.exit(1)
}

func (m *MasterImpl) selfEndpoint() string {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = ""
	}
	return hostname + ":" + m.cfg.MasterPort
}
