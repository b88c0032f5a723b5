package token

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/SezarMAB/clinicx-session/internal/observability/logger"
	"github.com/SezarMAB/clinicx-session/internal/storage"
	"go.uber.org/zap"
)

// Claves de persistencia. El refresh token y el id_token van en entradas
// separadas del blob principal para que Clear() pueda purgar las tres
// independientemente de lo que el Token en memoria haya round-tripeado.
const (
	keyToken        = "session:token"
	keyRefreshToken = "session:refresh_token"
	keyIDToken      = "session:id_token"
)

// TokenData es el record con el que se reemplaza el token actual.
// Viene de la respuesta del token endpoint o de la rehidratación.
type TokenData struct {
	AccessToken  string
	TokenType    string
	ExpiresIn    int64 // offset en segundos; si está, manda sobre ExpiresAt
	ExpiresAt    int64 // epoch seconds (rehidratación)
	RefreshToken string
	IDToken      string
}

// Snapshot es lo que ven los suscriptores: el token actual, o ausencia.
type Snapshot struct {
	Token Token
	OK    bool
}

// persistedToken es el blob JSON principal.
type persistedToken struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresAt   int64  `json:"exp,omitempty"`
}

// Store es la única fuente escribible del token actual. Persiste, notifica
// cambios (multicast caliente, sin replay) y arma el timer de refresh.
type Store struct {
	storage storage.Client
	log     *zap.Logger

	mu      sync.Mutex
	cur     Token
	has     bool
	idToken string

	subs    map[uint64]chan Snapshot
	nextSub uint64

	refreshCh chan struct{}
	timer     *time.Timer
}

// NewStore crea el store y rehidrata el token persistido si existe.
// Un blob ausente o corrupto arranca sin token, nunca con error.
func NewStore(ctx context.Context, st storage.Client) *Store {
	s := &Store{
		storage:   st,
		log:       logger.Named("token.store"),
		subs:      make(map[uint64]chan Snapshot),
		refreshCh: make(chan struct{}, 1),
	}
	s.rehydrate(ctx)
	return s
}

// Current retorna el token actual, si hay uno.
func (s *Store) Current() (Token, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cur, s.has
}

// IDToken retorna el id_token persistido junto al token actual ("" si no hay).
// El cliente del provider lo usa como id_token_hint en el logout.
func (s *Store) IDToken() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.idToken
}

// Set reemplaza el token de forma wholesale: calcula exp desde ExpiresIn si
// viene, persiste blob + side channels, notifica y rearma el timer. Todo bajo
// el mismo lock: ningún observador ve una notificación de un token que aún no
// reemplazó al anterior.
//
// Fallas de persistencia se loguean y no interrumpen (el token en memoria es
// la verdad operativa).
func (s *Store) Set(ctx context.Context, data TokenData) {
	tok := Token{
		AccessToken:  data.AccessToken,
		RefreshToken: data.RefreshToken,
		TokenType:    data.TokenType,
	}
	if tok.TokenType == "" {
		tok.TokenType = "bearer"
	}
	switch {
	case data.ExpiresIn > 0:
		tok.ExpiresAt = now().Unix() + data.ExpiresIn
	case data.ExpiresAt > 0:
		tok.ExpiresAt = data.ExpiresAt
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.cur = tok
	s.has = true
	s.idToken = data.IDToken

	s.persistLocked(ctx, data.IDToken)
	s.notifyLocked(Snapshot{Token: tok, OK: true})
	s.rearmLocked()
}

// Clear elimina el token persistido y los side channels, y notifica token
// ausente. Desarma el timer (sin token no hay refresh que programar).
func (s *Store) Clear(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cur = Token{}
	s.has = false
	s.idToken = ""

	for _, k := range []string{keyToken, keyRefreshToken, keyIDToken} {
		if err := s.storage.Remove(ctx, k); err != nil {
			s.log.Warn("remove failed", logger.Key(k), logger.Err(err))
		}
	}

	s.notifyLocked(Snapshot{})
	s.rearmLocked()
}

// Subscribe registra un observador de cambios. Multicast caliente: solo se
// ven cambios posteriores a la suscripción. El cancel devuelto desregistra.
func (s *Store) Subscribe() (<-chan Snapshot, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextSub
	s.nextSub++
	ch := make(chan Snapshot, 8)
	s.subs[id] = ch

	cancel := func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if c, ok := s.subs[id]; ok {
			delete(s.subs, id)
			close(c)
		}
	}
	return ch, cancel
}

// RefreshDue retorna el canal que emite cuando el timer de refresh dispara.
func (s *Store) RefreshDue() <-chan struct{} {
	return s.refreshCh
}

// Close desarma el timer. No toca lo persistido.
func (s *Store) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

func (s *Store) rehydrate(ctx context.Context) {
	raw, err := s.storage.Get(ctx, keyToken)
	if err != nil {
		if !storage.IsNotFound(err) {
			s.log.Warn("token read failed", logger.Err(err))
		}
		return
	}

	var pt persistedToken
	if err := json.Unmarshal([]byte(raw), &pt); err != nil {
		s.log.Warn("corrupt token blob, ignoring", logger.Err(err))
		return
	}
	if pt.AccessToken == "" {
		return
	}

	tok := Token{
		AccessToken: pt.AccessToken,
		TokenType:   pt.TokenType,
		ExpiresAt:   pt.ExpiresAt,
	}
	if tok.TokenType == "" {
		tok.TokenType = "bearer"
	}
	if rt, err := s.storage.Get(ctx, keyRefreshToken); err == nil {
		tok.RefreshToken = rt
	}
	if idt, err := s.storage.Get(ctx, keyIDToken); err == nil {
		s.idToken = idt
	}

	s.mu.Lock()
	s.cur = tok
	s.has = true
	s.rearmLocked()
	s.mu.Unlock()

	s.log.Debug("token rehydrated", logger.Bool("valid", tok.Valid()))
}

// persistLocked escribe blob principal y side channels. Llamar con s.mu.
func (s *Store) persistLocked(ctx context.Context, idToken string) {
	blob, _ := json.Marshal(persistedToken{
		AccessToken: s.cur.AccessToken,
		TokenType:   s.cur.TokenType,
		ExpiresAt:   s.cur.ExpiresAt,
	})
	if err := s.storage.Set(ctx, keyToken, string(blob), 0); err != nil {
		s.log.Warn("token persist failed", logger.Err(err))
	}

	if s.cur.RefreshToken != "" {
		if err := s.storage.Set(ctx, keyRefreshToken, s.cur.RefreshToken, 0); err != nil {
			s.log.Warn("refresh token persist failed", logger.Err(err))
		}
	} else {
		_ = s.storage.Remove(ctx, keyRefreshToken)
	}

	if idToken != "" {
		if err := s.storage.Set(ctx, keyIDToken, idToken, 0); err != nil {
			s.log.Warn("id token persist failed", logger.Err(err))
		}
	} else {
		_ = s.storage.Remove(ctx, keyIDToken)
	}
}

// notifyLocked publica el snapshot a todos los suscriptores sin bloquear:
// un suscriptor lento pierde notificaciones intermedias, no frena al resto.
func (s *Store) notifyLocked(snap Snapshot) {
	for _, ch := range s.subs {
		select {
		case ch <- snap:
		default:
		}
	}
}

// rearmLocked cancela el timer pendiente y, si corresponde, programa uno
// nuevo. Cancel+reschedule es una sola operación bajo s.mu: no hay ventana
// de doble disparo.
func (s *Store) rearmLocked() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	if !s.has || !s.cur.NeedsRefresh() {
		return
	}
	delay := time.Duration(s.cur.RefreshIn()) * time.Second
	s.timer = time.AfterFunc(delay, func() {
		select {
		case s.refreshCh <- struct{}{}:
		default:
		}
	})
}
