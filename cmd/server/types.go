package main

import (
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/codeloom/collab-server/internal/collab"
	"github.com/codeloom/collab-server/internal/config"
	"github.com/codeloom/collab-server/internal/storage"
	ws "github.com/codeloom/collab-server/internal/websocket"
)

// holds all dependencies and state for the API server
type Server struct {
	db       *pgxpool.Pool
	config   *config.Config
	userRepo *storage.UserRepository

	store   collab.Store
	cache   *storage.DocumentCache
	flusher *storage.Flusher

	hub     *collab.Hub
	tracker *ws.ConnTracker
	router  *gin.Engine
}
