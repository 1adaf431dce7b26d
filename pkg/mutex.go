package pkg

import "sync"

type HasLocker interface{ GetLocker() *sync.RWMutex }

func LockWrap(i HasLocker, f func()) {
	i.GetLocker().Lock()
	defer i.GetLocker().Unlock()
	f()
}

func RLockWrap(i HasLocker, f func()) {
	i.GetLocker().RLock()
	defer i.GetLocker().RUnlock()
	f()
}

// LockWrapErr is LockWrap for the common case of a body that only returns an error.
func LockWrapErr(i HasLocker, f func() error) (err error) {
	LockWrap(i, func() { err = f() })
	return
}

func RLockWrapErr(i HasLocker, f func() error) (err error) {
	RLockWrap(i, func() { err = f() })
	return
}
