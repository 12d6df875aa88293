package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	router "github.com/dkeye/Stage/internal/adapters/http"
	"github.com/dkeye/Stage/internal/adapters/ws"
	"github.com/dkeye/Stage/internal/app"
	"github.com/dkeye/Stage/internal/config"
	"github.com/dkeye/Stage/internal/core"
	"github.com/dkeye/Stage/internal/domain"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Initialize zerolog global logger early so config.Load can use it.
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	// Human-friendly output for terminal; in production you may want JSON only.
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Error().Err(err).Msg("failed to load config")
	}

	session := cfg.Session
	if session == "" {
		session = uuid.NewString()
	}
	channel := domain.ChannelName(cfg.Channel)

	dir := app.NewRoomDirectory()
	dir.AddChannel(domain.Channel{Name: channel, Session: session})
	for _, name := range []string{cfg.WaitingRoom, cfg.GarageRoom, cfg.RequirementsRoom} {
		if err := dir.AddRoom(domain.Room{Name: domain.RoomName(name), Channel: channel}); err != nil {
			log.Error().Err(err).Str("room", name).Msg("room setup")
		}
	}

	reg := app.NewRegistry()
	codec := app.NewTokenCodec(cfg.Secret, cfg.TokenTTL)

	playerRouter := app.NewRouter("player", reg, dir)
	adminRouter := app.NewRouter("admin", reg, dir)
	playerEvents := core.NewEmitter()
	adminEvents := core.NewEmitter()

	playerServer := app.NewServer(app.ServerOptions{
		Name:                "player",
		Policy:              app.PlayerPolicy(),
		Channel:             channel,
		Codec:               codec,
		AuthEnabled:         cfg.Player.AuthEnabled,
		Reconnect:           cfg.Player.Reconnect,
		AccessDeniedURL:     cfg.AccessDeniedURL,
		DefaultRoom:         domain.RoomName(cfg.WaitingRoom),
		RequirementsRoom:    domain.RoomName(cfg.RequirementsRoom),
		RequirementsEnabled: cfg.RequirementsEnabled,
	}, reg, dir, playerRouter, playerEvents)

	adminServer := app.NewServer(app.ServerOptions{
		Name:            "admin",
		Policy:          app.AdminPolicy(),
		Channel:         channel,
		Codec:           codec,
		AuthEnabled:     cfg.Admin.AuthEnabled,
		Reconnect:       cfg.Admin.Reconnect,
		AccessDeniedURL: cfg.AccessDeniedURL,
		DefaultRoom:     domain.RoomName(cfg.GarageRoom),
	}, reg, dir, adminRouter, adminEvents)

	adminServer.Pair(playerServer)

	playerWS := ws.New(ws.Options{
		Endpoint:   "P",
		ReadLimit:  cfg.ReadLimit,
		SendBuffer: cfg.SendBuffer,
		PingPeriod: cfg.PingPeriod,
		RateLimit:  cfg.Player.RateLimit,
		RateWindow: cfg.RateWindow,
	}, playerServer, playerRouter)
	adminWS := ws.New(ws.Options{
		Endpoint:   "A",
		ReadLimit:  cfg.ReadLimit,
		SendBuffer: cfg.SendBuffer,
		PingPeriod: cfg.PingPeriod,
		RateLimit:  cfg.Admin.RateLimit,
		RateWindow: cfg.RateWindow,
	}, adminServer, adminRouter)

	// Admin game commands reach the player endpoint as one forwarded
	// logical event; obfuscation happens inside the relay.
	adminEvents.On(string(domain.ActionSay)+"."+domain.TargetGameCommand, func(ev core.Event) {
		if err := adminServer.ForwardToPartner(ev.Env, ev.Room, domain.ClientID(ev.Env.From)); err != nil {
			log.Warn().Err(err).Str("module", "main").Msg("game command relay")
		}
	})

	// Player lifecycle is surfaced to the admins monitoring that room
	// and to the garage.
	garage := domain.RoomName(cfg.GarageRoom)
	monitorRooms := func(room domain.RoomName) []domain.RoomName {
		if room == garage {
			return []domain.RoomName{garage}
		}
		return []domain.RoomName{room, garage}
	}
	for _, key := range []string{core.EventConnecting, core.EventReconnecting, core.EventDisconnect} {
		key := key
		playerEvents.On(key, func(ev core.Event) {
			payload, _ := json.Marshal(map[string]any{
				"event":  key,
				"client": ev.Client,
				"room":   ev.Room,
			})
			env := domain.NewEnvelope(domain.ActionSay, domain.TargetPList, domain.ToServer, domain.To(domain.ToRoom))
			env.Session = session
			env.Data = payload
			env.Reliable = true
			for _, room := range monitorRooms(ev.Room) {
				for _, id := range dir.Members(room) {
					rec, ok := reg.Get(id)
					if !ok || !rec.Admin {
						continue
					}
					if err := adminRouter.SendToClient(env, string(id), room, nil); err != nil {
						log.Debug().Err(err).Str("module", "main").Str("admin", string(id)).Msg("monitor notify")
					}
				}
			}
		})
	}

	r := router.SetupRouter(cfg, playerWS, adminWS, dir)
	addr := fmt.Sprintf(":%d", cfg.Port)

	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	go func() {
		log.Info().Str("addr", addr).Str("channel", cfg.Channel).Str("session", session).Msg("Stage server started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("server error")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down")

	// Every connected client gets a last word before the sockets die.
	bye := domain.NewEnvelope(domain.ActionSay, domain.TargetAlert, domain.ToServer, domain.To(domain.ToAll))
	bye.Session = session
	bye.Text = "server is shutting down"
	bye.Reliable = true
	for _, t := range []*ws.Transport{playerWS, adminWS} {
		if err := t.SendAll(bye, ""); err != nil {
			log.Warn().Err(err).Msg("shutdown notice")
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	log.Info().Msg("Server exited gracefully")
}
