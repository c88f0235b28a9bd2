//go:build cgo

package crypto

import (
	"fmt"
	"sync"

	"github.com/miekg/pkcs11"
)

// sessionPool manages PKCS#11 sessions for one module and slot.
type sessionPool struct {
	mu        sync.Mutex
	ctx       *pkcs11.Ctx
	module    string
	slotID    uint
	pin       string
	available []pkcs11.SessionHandle
	inUse     map[pkcs11.SessionHandle]bool
	loginDone bool
	closed    bool
}

var (
	// globalPools holds one pool per (module, slot).
	globalPools   = make(map[string]*sessionPool)
	globalPoolsMu sync.Mutex
)

func poolKey(modulePath string, slotID uint) string {
	return fmt.Sprintf("%s:%d", modulePath, slotID)
}

// getSessionPool returns the pool for a module and slot, creating and
// initializing it on first use.
func getSessionPool(modulePath string, slotID uint, pin string) (*sessionPool, error) {
	globalPoolsMu.Lock()
	defer globalPoolsMu.Unlock()

	key := poolKey(modulePath, slotID)
	if pool, ok := globalPools[key]; ok {
		pool.mu.Lock()
		closed := pool.closed
		pool.mu.Unlock()
		if !closed {
			return pool, nil
		}
		delete(globalPools, key)
	}

	ctx := pkcs11.New(modulePath)
	if ctx == nil {
		return nil, fmt.Errorf("failed to load PKCS#11 module: %s", modulePath)
	}

	if err := ctx.Initialize(); err != nil {
		if p11err, ok := err.(pkcs11.Error); !ok || p11err != pkcs11.CKR_CRYPTOKI_ALREADY_INITIALIZED {
			ctx.Destroy()
			return nil, fmt.Errorf("failed to initialize PKCS#11 module: %w", err)
		}
	}

	pool := &sessionPool{
		ctx:    ctx,
		module: modulePath,
		slotID: slotID,
		pin:    pin,
		inUse:  make(map[pkcs11.SessionHandle]bool),
	}
	globalPools[key] = pool
	return pool, nil
}

// acquire reserves a session. The returned release function must be called
// when done.
func (p *sessionPool) acquire() (pkcs11.SessionHandle, func(), error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return 0, nil, fmt.Errorf("session pool is closed")
	}

	var session pkcs11.SessionHandle
	if n := len(p.available); n > 0 {
		session = p.available[n-1]
		p.available = p.available[:n-1]
	} else {
		var err error
		session, err = p.ctx.OpenSession(p.slotID, pkcs11.CKF_SERIAL_SESSION|pkcs11.CKF_RW_SESSION)
		if err != nil {
			return 0, nil, fmt.Errorf("failed to open session: %w", err)
		}

		// Login is per token, not per session
		if p.pin != "" && !p.loginDone {
			if err := p.ctx.Login(session, pkcs11.CKU_USER, p.pin); err != nil {
				if e, ok := err.(pkcs11.Error); !ok || e != pkcs11.CKR_USER_ALREADY_LOGGED_IN {
					_ = p.ctx.CloseSession(session)
					if ok && (e == pkcs11.CKR_PIN_INCORRECT || e == pkcs11.CKR_PIN_INVALID) {
						return 0, nil, fmt.Errorf("%w: %v", ErrBadPIN, err)
					}
					return 0, nil, fmt.Errorf("failed to login: %w", err)
				}
			}
			p.loginDone = true
		}
	}

	p.inUse[session] = true

	release := func() {
		p.mu.Lock()
		defer p.mu.Unlock()

		delete(p.inUse, session)
		if p.closed {
			_ = p.ctx.CloseSession(session)
			return
		}
		p.available = append(p.available, session)
	}

	return session, release, nil
}

// close logs out, closes every session and finalizes the module.
func (p *sessionPool) close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true

	var errs []error
	if p.loginDone && len(p.available) > 0 {
		if err := p.ctx.Logout(p.available[0]); err != nil {
			if e, ok := err.(pkcs11.Error); !ok || e != pkcs11.CKR_USER_NOT_LOGGED_IN {
				errs = append(errs, fmt.Errorf("logout: %w", err))
			}
		}
	}
	for _, session := range p.available {
		if err := p.ctx.CloseSession(session); err != nil {
			errs = append(errs, fmt.Errorf("close session: %w", err))
		}
	}
	if err := p.ctx.Finalize(); err != nil {
		if e, ok := err.(pkcs11.Error); !ok || e != pkcs11.CKR_CRYPTOKI_NOT_INITIALIZED {
			errs = append(errs, fmt.Errorf("finalize: %w", err))
		}
	}
	p.ctx.Destroy()

	if len(errs) > 0 {
		return fmt.Errorf("errors closing pool: %v", errs)
	}
	return nil
}

// CloseAllPools closes every session pool. Call at program exit.
func CloseAllPools() {
	globalPoolsMu.Lock()
	pools := make([]*sessionPool, 0, len(globalPools))
	for _, p := range globalPools {
		pools = append(pools, p)
	}
	globalPools = make(map[string]*sessionPool)
	globalPoolsMu.Unlock()

	for _, p := range pools {
		_ = p.close()
	}
}
