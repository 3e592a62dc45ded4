package domain

import (
	"strings"
	"time"
)

const (
	QueueActive   = "active"
	QueueDeleting = "deleting"
)

// HandleRef identifica el handle mencionable (rol) de una cola dentro de un guild.
type HandleRef struct {
	GuildID string
	ID      string
}

func (h HandleRef) IsZero() bool { return h.ID == "" }

// Queue es una cola con nombre dentro de un guild.
type Queue struct {
	ID            string
	GuildID       string
	Name          string // tal cual lo escribió el admin
	CanonicalName string
	Handle        HandleRef
	HomeChannelID string // vacío = canal de quien invoca
	Status        string // active | deleting
	CreatedAt     time.Time
}

// Target devuelve el canal donde se avisa: el home de la cola o el fallback.
func (q Queue) Target(fallback string) string {
	if q.HomeChannelID != "" {
		return q.HomeChannelID
	}
	return fallback
}

type GuildSettings struct {
	GuildID        string
	DefaultMinutes int
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// MemberKey es la clave de exclusión por (cola, miembro).
type MemberKey struct {
	QueueID  string
	MemberID string
}

type Membership struct {
	QueueID    string
	GuildID    string
	MemberID   string
	JoinedAt   time.Time
	ExpiresAt  time.Time
	Generation uint64 // sólo en memoria
}

func (m Membership) Key() MemberKey { return MemberKey{QueueID: m.QueueID, MemberID: m.MemberID} }

func (m Membership) Remaining(now time.Time) time.Duration {
	d := m.ExpiresAt.Sub(now)
	if d < 0 {
		return 0
	}
	return d
}

const (
	OpSyncMember  = "sync_member"
	OpDeleteQueue = "delete_queue"
)

// PendingOp es trabajo sobre el handle que falló y queda para reintento.
type PendingOp struct {
	ID             int64
	Kind           string
	GuildID        string
	QueueID        string
	HandleID       string
	MemberID       string
	Attempts       int
	LastError      string
	NeedsAttention bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func (p PendingOp) Handle() HandleRef { return HandleRef{GuildID: p.GuildID, ID: p.HandleID} }

const (
	EventCreate    = "create"
	EventDelete    = "delete"
	EventJoin      = "join"
	EventRefresh   = "refresh"
	EventLeave     = "leave"
	EventKick      = "kick"
	EventExpire    = "expire"
	EventChallenge = "challenge"
)

type Event struct {
	GuildID  string
	QueueID  string
	MemberID string
	Kind     string
	Detail   string
	At       time.Time
}

// CanonicalName normaliza el nombre para unicidad y búsqueda.
func CanonicalName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
