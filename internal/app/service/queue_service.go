package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jose-valero/lfg-queue-bot/internal/domain"
)

// QueueService traduce las operaciones del core a mensajes para el usuario.
// Los rechazos de validación vuelven como mensaje con err == nil.
type QueueService struct {
	core  *Core
	limit Limits
}

func NewQueueService(core *Core, limits Limits) *QueueService {
	return &QueueService{core: core, limit: limits}
}

func (s *QueueService) Core() *Core { return s.core }

// rejection devuelve el texto para errores de validación; ok=false si el error no es de usuario.
func (s *QueueService) rejection(err error, name string) (string, bool) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return fmt.Sprintf("❌ No existe la cola **%s**.", name), true
	case errors.Is(err, domain.ErrDuplicateName):
		return fmt.Sprintf("❌ Ya existe una cola llamada **%s**.", name), true
	case errors.Is(err, domain.ErrNotMember):
		return fmt.Sprintf("ℹ️ No estás en **%s**.", name), true
	case errors.Is(err, domain.ErrInvalidDuration):
		return fmt.Sprintf("❌ Duración inválida: tiene que ser entre 1 y %d minutos.", s.limit.MaxMinutes), true
	case errors.Is(err, domain.ErrInvalidName):
		return fmt.Sprintf("❌ Nombre inválido (1 a %d caracteres).", maxQueueNameRunes), true
	case errors.Is(err, domain.ErrSelfChallenge):
		return "❌ No podés desafiarte a vos mismo.", true
	}
	return "", false
}

func warnSuffix(w error) string {
	if w == nil {
		return ""
	}
	return "\n⚠️ El rol se va a sincronizar en breve (" + w.Error() + ")."
}

func (s *QueueService) Create(ctx context.Context, guildID, name string) (string, error) {
	q, err := s.core.Registry.Create(ctx, guildID, name)
	if err != nil {
		if msg, ok := s.rejection(err, name); ok {
			return msg, nil
		}
		return "", err
	}
	return fmt.Sprintf("✅ Cola **%s** creada. Rol: <@&%s>", q.Name, q.Handle.ID), nil
}

func (s *QueueService) Delete(ctx context.Context, guildID, name string) (string, error) {
	res, err := s.core.Registry.Delete(ctx, guildID, name)
	if err != nil {
		if msg, ok := s.rejection(err, name); ok {
			return msg, nil
		}
		return "", err
	}
	if res.Warning != nil {
		return fmt.Sprintf("⚠️ Cola **%s** cerrada (%d miembros fuera), pero el rol no se pudo borrar todavía. Queda marcada para reintento: %v", res.Queue.Name, res.Revoked, res.Warning), nil
	}
	return fmt.Sprintf("✅ Cola **%s** borrada (%d miembros fuera).", res.Queue.Name, res.Revoked), nil
}

func (s *QueueService) List(ctx context.Context, guildID string) (string, error) {
	qs, err := s.core.Registry.List(ctx, guildID)
	if err != nil {
		return "", err
	}
	if len(qs) == 0 {
		return "ℹ️ No hay colas. Un admin puede crear una con `/queue create`.", nil
	}
	var b strings.Builder
	b.WriteString("📋 **Colas**\n")
	for i, q := range qs {
		home := "canal de quien usa el comando"
		if q.HomeChannelID != "" {
			home = "<#" + q.HomeChannelID + ">"
		}
		fmt.Fprintf(&b, "%d) **%s** — <@&%s> · avisos: %s\n", i+1, q.Name, q.Handle.ID, home)
	}
	return b.String(), nil
}

func (s *QueueService) SetHome(ctx context.Context, guildID, name, channelID string) (string, error) {
	q, err := s.core.Registry.SetHome(ctx, guildID, name, channelID)
	if err != nil {
		if msg, ok := s.rejection(err, name); ok {
			return msg, nil
		}
		return "", err
	}
	return fmt.Sprintf("✅ Los avisos de **%s** van a <#%s>.", q.Name, channelID), nil
}

func (s *QueueService) SetTime(ctx context.Context, guildID string, mins int) (string, error) {
	st, err := s.core.Registry.SetDefaultDuration(ctx, guildID, mins)
	if err != nil {
		if msg, ok := s.rejection(err, ""); ok {
			return msg, nil
		}
		return "", err
	}
	return fmt.Sprintf("✅ Duración por defecto: **%d** minutos (las membresías actuales no cambian).", st.DefaultMinutes), nil
}

func (s *QueueService) Join(ctx context.Context, c Caller, name string, mins int) (string, error) {
	res, err := s.core.Ledger.Join(ctx, c, name, mins)
	if err != nil {
		if msg, ok := s.rejection(err, name); ok {
			return msg, nil
		}
		return "", err
	}
	until := res.Membership.ExpiresAt.Unix()
	if res.Refreshed {
		return fmt.Sprintf("🔁 Seguís en **%s**, ahora hasta <t:%d:t> (<t:%d:R>).%s", res.Queue.Name, until, until, warnSuffix(res.Warning)), nil
	}
	return fmt.Sprintf("✅ Te uniste a **%s** hasta <t:%d:t> (<t:%d:R>).%s", res.Queue.Name, until, until, warnSuffix(res.Warning)), nil
}

func (s *QueueService) Leave(ctx context.Context, c Caller, name string) (string, error) {
	res, err := s.core.Ledger.Leave(ctx, c, name)
	if err != nil {
		if msg, ok := s.rejection(err, name); ok {
			return msg, nil
		}
		return "", err
	}
	return fmt.Sprintf("👋 Saliste de **%s**.%s", res.Queue.Name, warnSuffix(res.Warning)), nil
}

func (s *QueueService) Kick(ctx context.Context, guildID, name, memberID string) (string, error) {
	res, err := s.core.Ledger.Kick(ctx, guildID, name, memberID)
	if errors.Is(err, domain.ErrNotMember) {
		return fmt.Sprintf("ℹ️ <@%s> no estaba en **%s**.", memberID, name), nil
	}
	if err != nil {
		if msg, ok := s.rejection(err, name); ok {
			return msg, nil
		}
		return "", err
	}
	return fmt.Sprintf("✅ <@%s> fuera de **%s**.%s", memberID, res.Queue.Name, warnSuffix(res.Warning)), nil
}

func (s *QueueService) Who(ctx context.Context, guildID, name string) (string, error) {
	q, members, err := s.core.Ledger.List(ctx, guildID, name)
	if err != nil {
		if msg, ok := s.rejection(err, name); ok {
			return msg, nil
		}
		return "", err
	}
	if len(members) == 0 {
		return fmt.Sprintf("ℹ️ **%s** está vacía.", q.Name), nil
	}
	var b strings.Builder
	fmt.Fprintf(&b, "🎮 **%s** (%d)\n", q.Name, len(members))
	for i, m := range members {
		fmt.Fprintf(&b, "%d) <@%s> — queda %s\n", i+1, m.MemberID, fmtRemain(m.Remaining))
	}
	return b.String(), nil
}

func (s *QueueService) Challenge(ctx context.Context, c Caller, name, targetID string) (string, error) {
	q, err := s.core.Broker.Challenge(ctx, c, name, targetID)
	if errors.Is(err, domain.ErrNotMember) {
		return fmt.Sprintf("❌ Los dos tienen que estar en **%s** para desafiar.", name), nil
	}
	if err != nil {
		if msg, ok := s.rejection(err, name); ok {
			return msg, nil
		}
		return "", err
	}
	return fmt.Sprintf("⚔️ Desafío enviado a <@%s> en **%s**.", targetID, q.Name), nil
}

// Attention lista el trabajo de handles que falló de forma permanente.
func (s *QueueService) Attention(ctx context.Context, guildID string) (string, error) {
	ops, err := s.core.Pending.ListAttention(ctx, guildID, 20)
	if err != nil {
		return "", err
	}
	if len(ops) == 0 {
		return "✅ Nada pendiente de revisión.", nil
	}
	var b strings.Builder
	b.WriteString("🛠️ **Requiere revisión manual**\n")
	for _, op := range ops {
		who := ""
		if op.MemberID != "" {
			who = " <@" + op.MemberID + ">"
		}
		fmt.Fprintf(&b, "• `%s` rol <@&%s>%s — %d intentos — %s\n", op.Kind, op.HandleID, who, op.Attempts, op.LastError)
	}
	return b.String(), nil
}

func (s *QueueService) History(ctx context.Context, guildID, name string) (string, error) {
	q, err := s.core.Registry.Resolve(ctx, guildID, name)
	if err != nil {
		if msg, ok := s.rejection(err, name); ok {
			return msg, nil
		}
		return "", err
	}
	evs, err := s.core.Events.Recent(ctx, guildID, q.ID, 15)
	if err != nil {
		return "", err
	}
	if len(evs) == 0 {
		return fmt.Sprintf("ℹ️ Sin actividad en **%s**.", q.Name), nil
	}
	var b strings.Builder
	fmt.Fprintf(&b, "🕘 **%s**\n", q.Name)
	for _, ev := range evs {
		who := ""
		if ev.MemberID != "" {
			who = " <@" + ev.MemberID + ">"
		}
		fmt.Fprintf(&b, "<t:%d:R> `%s`%s %s\n", ev.At.Unix(), ev.Kind, who, ev.Detail)
	}
	return b.String(), nil
}

func fmtRemain(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	s := int(d.Seconds())
	if s >= 3600 {
		return fmt.Sprintf("%dh%02dm", s/3600, (s%3600)/60)
	}
	return fmt.Sprintf("%02d:%02d", s/60, s%60)
}
