package service

import "sync"

// keyedMutex da un mutex por clave; las entradas se liberan cuando nadie las usa.
type keyedMutex[K comparable] struct {
	mu sync.Mutex
	m  map[K]*refMutex
}

type refMutex struct {
	sync.Mutex
	refs int
}

func (k *keyedMutex[K]) acquire(key K) *refMutex {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.m == nil {
		k.m = make(map[K]*refMutex)
	}
	rm, ok := k.m[key]
	if !ok {
		rm = &refMutex{}
		k.m[key] = rm
	}
	rm.refs++
	return rm
}

func (k *keyedMutex[K]) release(key K, rm *refMutex) {
	k.mu.Lock()
	rm.refs--
	if rm.refs == 0 {
		delete(k.m, key)
	}
	k.mu.Unlock()
}

// Lock bloquea la clave y devuelve el unlock.
func (k *keyedMutex[K]) Lock(key K) func() {
	rm := k.acquire(key)
	rm.Lock()
	return func() {
		rm.Unlock()
		k.release(key, rm)
	}
}

func (k *keyedMutex[K]) size() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.m)
}

// keyedRWMutex: lado read para operaciones de miembro, lado write para borrar la cola entera.
type keyedRWMutex[K comparable] struct {
	mu sync.Mutex
	m  map[K]*refRWMutex
}

type refRWMutex struct {
	sync.RWMutex
	refs int
}

func (k *keyedRWMutex[K]) acquire(key K) *refRWMutex {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.m == nil {
		k.m = make(map[K]*refRWMutex)
	}
	rm, ok := k.m[key]
	if !ok {
		rm = &refRWMutex{}
		k.m[key] = rm
	}
	rm.refs++
	return rm
}

func (k *keyedRWMutex[K]) release(key K, rm *refRWMutex) {
	k.mu.Lock()
	rm.refs--
	if rm.refs == 0 {
		delete(k.m, key)
	}
	k.mu.Unlock()
}

func (k *keyedRWMutex[K]) RLock(key K) func() {
	rm := k.acquire(key)
	rm.RLock()
	return func() {
		rm.RUnlock()
		k.release(key, rm)
	}
}

func (k *keyedRWMutex[K]) Lock(key K) func() {
	rm := k.acquire(key)
	rm.Lock()
	return func() {
		rm.Unlock()
		k.release(key, rm)
	}
}
