package discord

import (
	"context"
	"errors"
	"strings"
	"sync"
)

// ErrSuperseded: el mismo usuario abrió otro prompt en el mismo canal.
var ErrSuperseded = errors.New("prompt superseded")

type awaitKey struct {
	channelID string
	userID    string
}

type waiter struct {
	reply chan string
	drop  chan struct{}
}

// Awaiter espera el próximo mensaje de un usuario en un canal (prompts de confirmación).
// Como mucho un prompt vivo por (canal, usuario); uno nuevo cancela al anterior.
type Awaiter struct {
	mu      sync.Mutex
	waiting map[awaitKey]*waiter
}

func NewAwaiter() *Awaiter {
	return &Awaiter{waiting: make(map[awaitKey]*waiter)}
}

// Wait bloquea hasta que llega el mensaje, se vence ctx o lo reemplaza otro prompt.
func (a *Awaiter) Wait(ctx context.Context, channelID, userID string) (string, error) {
	key := awaitKey{channelID: channelID, userID: userID}
	w := &waiter{reply: make(chan string, 1), drop: make(chan struct{})}

	a.mu.Lock()
	if prev, ok := a.waiting[key]; ok {
		close(prev.drop)
	}
	a.waiting[key] = w
	a.mu.Unlock()

	defer func() {
		a.mu.Lock()
		if a.waiting[key] == w {
			delete(a.waiting, key)
		}
		a.mu.Unlock()
	}()

	select {
	case msg := <-w.reply:
		return msg, nil
	case <-w.drop:
		return "", ErrSuperseded
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Deliver entrega el mensaje si alguien lo estaba esperando.
func (a *Awaiter) Deliver(channelID, userID, content string) bool {
	key := awaitKey{channelID: channelID, userID: userID}
	a.mu.Lock()
	defer a.mu.Unlock()
	w, ok := a.waiting[key]
	if !ok {
		return false
	}
	delete(a.waiting, key)
	w.reply <- content
	return true
}

// Pending cuántos prompts hay abiertos.
func (a *Awaiter) Pending() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.waiting)
}

func isConfirmation(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "si", "sí", "confirmar", "yes", "y":
		return true
	}
	return false
}
