package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Stage/internal/adapters/ws"
	"github.com/dkeye/Stage/internal/config"
	"github.com/dkeye/Stage/internal/core"
	"github.com/dkeye/Stage/internal/domain"
)

type roomInfo struct {
	Name        domain.RoomName `json:"name"`
	MemberCount int             `json:"client_count"`
}

type channelInfo struct {
	Name    domain.ChannelName `json:"name"`
	Session string             `json:"session"`
	Rooms   []roomInfo         `json:"rooms"`
}

func SetupRouter(cfg *config.Config, playerWS, adminWS *ws.Transport, dir core.RoomDirectory) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	r.Static("/static", cfg.StaticPath)
	r.GET("/", func(c *gin.Context) {
		c.File(cfg.StaticPath + "/index.html")
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	log.Info().Str("module", "adapters.http").Str("static", cfg.StaticPath).Msg("router setup")

	api := r.Group("/api")

	api.GET("/ws/player", func(c *gin.Context) {
		playerWS.HandleUpgrade(c)
	})
	api.GET("/ws/admin", func(c *gin.Context) {
		adminWS.HandleUpgrade(c)
	})

	api.GET("/channels", func(c *gin.Context) {
		out := make([]channelInfo, 0)
		for _, ch := range dir.Channels() {
			info := channelInfo{Name: ch.Name, Session: ch.Session, Rooms: make([]roomInfo, 0)}
			for _, room := range dir.Rooms(ch.Name) {
				info.Rooms = append(info.Rooms, roomInfo{Name: room, MemberCount: len(dir.Members(room))})
			}
			out = append(out, info)
		}
		c.JSON(http.StatusOK, out)
	})

	api.GET("/rooms", func(c *gin.Context) {
		out := make([]roomInfo, 0)
		for _, ch := range dir.Channels() {
			for _, room := range dir.Rooms(ch.Name) {
				out = append(out, roomInfo{Name: room, MemberCount: len(dir.Members(room))})
			}
		}
		c.JSON(http.StatusOK, out)
	})

	return r
}
