package server

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/zulandar/junction/internal/directory"
	"github.com/zulandar/junction/internal/payment"
	"github.com/zulandar/junction/internal/transport"
)

// maxBodyBytes caps an inbound A2A request body.
const maxBodyBytes = 1 << 20

// registerRoutes sets up all server routes on the Gin router.
func registerRoutes(router *gin.Engine, opts StartOpts) {
	router.POST("/a2a", handleA2A(opts.Receiver))
	router.GET("/health", handleHealth(opts.Receiver))
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	if opts.Events != nil {
		router.GET("/events", handleEvents(opts.Events))
	}

	if opts.Registry != nil {
		router.POST("/register", handleRegister(opts.Registry))
		router.GET("/lookup/:id", handleLookup(opts.Registry))
		router.GET("/list", handleList(opts.Registry))
		router.DELETE("/agents/:id", handleUnregister(opts.Registry))
	}
}

func handleA2A(r Receiver) gin.HandlerFunc {
	return func(c *gin.Context) {
		body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxBodyBytes))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "read body: " + err.Error()})
			return
		}
		msg, err := transport.Decode(body)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		reply := r.Receive(c.Request.Context(), msg)
		status := http.StatusOK
		if payment.IsPaymentRequired(reply) {
			status = http.StatusPaymentRequired
		}
		c.JSON(status, reply)
	}
}

func handleHealth(r Receiver) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "agent_id": r.AgentID()})
	}
}

func handleRegister(dir directory.Directory) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req directory.RegisterRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		err := dir.Register(c.Request.Context(), directory.Entry{
			AgentID:       req.AgentID,
			Address:       req.AgentURL,
			ServiceCharge: req.ServiceCharge,
			DisplayName:   req.AgentName,
		})
		if errors.Is(err, directory.ErrInvalidEntry) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "registered", "agent_id": req.AgentID})
	}
}

func handleLookup(dir directory.Directory) gin.HandlerFunc {
	return func(c *gin.Context) {
		e, ok, err := dir.GetInfo(c.Request.Context(), c.Param("id"))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "agent not found"})
			return
		}
		c.JSON(http.StatusOK, e)
	}
}

func handleList(dir directory.Directory) gin.HandlerFunc {
	return func(c *gin.Context) {
		entries, err := dir.List(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if entries == nil {
			entries = []directory.Entry{}
		}
		c.JSON(http.StatusOK, entries)
	}
}

func handleUnregister(dir directory.Directory) gin.HandlerFunc {
	return func(c *gin.Context) {
		removed, err := dir.Unregister(c.Request.Context(), c.Param("id"))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if !removed {
			c.JSON(http.StatusNotFound, gin.H{"error": "agent not found"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "removed", "agent_id": c.Param("id")})
	}
}
