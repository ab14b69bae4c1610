package telehealth

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/Yostina-hub/git-import-whys-sub001/internal/platform/db"
)

const observeTimeout = 5 * time.Second

// ScopeFunc binds ctx to a clinic's schema; release undoes it.
type ScopeFunc func(ctx context.Context, clinicID string) (scoped context.Context, release func(), err error)

// PoolScope scopes through a dedicated pooled connection.
func PoolScope(pool *pgxpool.Pool) ScopeFunc {
	return func(ctx context.Context, clinicID string) (context.Context, func(), error) {
		return db.ScopedConn(ctx, pool, clinicID)
	}
}

// RoomObserver moves sessions through their lifecycle as participants join
// and leave signaling rooms. Relay callbacks carry no request context, so it
// opens its own clinic scope per event.
type RoomObserver struct {
	svc    *Service
	scope  ScopeFunc
	logger zerolog.Logger
}

func NewRoomObserver(svc *Service, scope ScopeFunc, logger zerolog.Logger) *RoomObserver {
	return &RoomObserver{svc: svc, scope: scope, logger: logger.With().Str("component", "telehealth-rooms").Logger()}
}

func (o *RoomObserver) PeerJoined(clinicID, roomID, peerID string, peers int) {
	o.apply(clinicID, roomID, peerID, peers)
}

func (o *RoomObserver) PeerLeft(clinicID, roomID, peerID string, peers int) {
	o.apply(clinicID, roomID, peerID, peers)
}

func (o *RoomObserver) apply(clinicID, roomID, peerID string, peers int) {
	ctx, cancel := context.WithTimeout(context.Background(), observeTimeout)
	defer cancel()

	log := o.logger.With().Str("clinic", clinicID).Str("room", roomID).Str("peer", peerID).Int("peers", peers).Logger()
	ctx, release, err := o.scope(ctx, clinicID)
	if err != nil {
		log.Error().Err(err).Msg("scope clinic for room change")
		return
	}
	defer release()

	if err := o.svc.RoomChanged(ctx, roomID, peers); err != nil {
		log.Warn().Err(err).Msg("apply room change")
	}
}
