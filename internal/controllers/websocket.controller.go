package controllers

import (
	"net/http"
	"strconv"
	"sync/atomic"

	"monsoon/internal/errors"
	"monsoon/internal/logger"
	"monsoon/internal/middleware"
	"monsoon/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

// controlMessageSlots leaves room in a client queue for the leading
// subscription messages and control replies next to batches
const controlMessageSlots = 3

var (
	wsLog        = logger.Component("ws")
	nextClientID atomic.Uint64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		// Non-browser clients send no Origin
		return origin == "" || middleware.OriginAllowed(origin, settings.AllowedOrigins)
	},
}

// HandleWebSocket upgrades the connection and registers the client.
// Samples only flow after the client sends a subscribe message.
func HandleWebSocket(c *gin.Context) {
	serverName := "anonymous"

	if settings.AuthEnabled {
		token := middleware.ExtractToken(c)
		if token == "" {
			middleware.GlobalSecurityLogger.LogFailedAuth(c.ClientIP(), "missing token")
			c.JSON(http.StatusUnauthorized, gin.H{"error": "missing token"})
			return
		}

		claims, err := services.ValidateToken(token)
		if err != nil {
			middleware.GlobalSecurityLogger.LogFailedAuth(c.ClientIP(), "invalid token: "+err.Error())
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		serverName = claims.ServerName
	}

	hub := services.GetWebSocketHub()
	if hub == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "websocket hub not running"})
		return
	}

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		wsLog.Warn().Err(err).Str("ip", c.ClientIP()).Msg("Upgrade failed")
		return
	}

	middleware.GlobalSecurityLogger.LogWebSocketConnected(c.ClientIP(), serverName)

	clientID := c.ClientIP() + "-" + serverName + "-" + strconv.FormatUint(nextClientID.Add(1), 10)
	client := services.NewClientConnection(
		clientID,
		ws,
		2*settings.SampleBuffer+controlMessageSlots,
		settings.DeliveryTimeout,
	)

	hub.Register(client)

	go readPump(client, hub, c.ClientIP())
	go writePump(client)
}

// readPump reads messages from the WebSocket client
func readPump(client *services.ClientConnection, hub *services.WebSocketHub, ip string) {
	defer func() {
		hub.Unregister(client.ID)
		client.Conn.Close()
		middleware.GlobalSecurityLogger.LogWebSocketDisconnected(ip, client.ID)
	}()

	for {
		var msg services.WebSocketMessage
		if err := client.Conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				wsLog.Warn().Err(err).Str("client", client.ID).Msg("Read error")
			}
			return
		}

		var reply *services.WebSocketMessage

		switch msg.Type {
		case services.MessageAuth:
			reply = handleAuthMessage(client, ip, msg.Token)

		case services.MessagePing:
			reply = &services.WebSocketMessage{Type: services.MessagePong}

		case services.MessageSubscribe:
			// The capabilities message is queued by Subscribe itself
			if _, err := client.Subscribe(subscriptions()); err != nil {
				reply = errorMessage(err)
				logSubscribeFailure(client.ID, err)
			}

		case services.MessageUnsubscribe:
			reply = &services.WebSocketMessage{Type: services.MessageUnsubscribed}
			if handle := client.Unsubscribe(); handle != nil {
				reply.SubscriptionID = handle.ID()
			}

		case services.MessageSubscribeProcesses:
			// processes_subscribed is queued by SubscribeProcesses itself
			if _, err := client.SubscribeProcesses(subscriptions()); err != nil {
				reply = errorMessage(err)
				logSubscribeFailure(client.ID, err)
			}

		case services.MessageUnsubscribeProcesses:
			reply = &services.WebSocketMessage{Type: services.MessageProcessesUnsubscribed}
			if handle := client.UnsubscribeProcesses(); handle != nil {
				reply.SubscriptionID = handle.ID()
			}

		default:
			wsLog.Debug().Str("client", client.ID).Str("type", msg.Type).Msg("Unknown message type")
			reply = &services.WebSocketMessage{Type: services.MessageError, Error: "unknown message type: " + msg.Type}
		}

		if reply != nil {
			if err := client.Enqueue(*reply); err != nil {
				return
			}
		}
	}
}

func handleAuthMessage(client *services.ClientConnection, ip, token string) *services.WebSocketMessage {
	claims, err := services.ValidateToken(token)
	if err != nil {
		middleware.GlobalSecurityLogger.LogFailedAuth(ip, "websocket auth message: "+err.Error())
		return &services.WebSocketMessage{Type: services.MessageAuthError, Error: "invalid token"}
	}

	wsLog.Info().Str("client", client.ID).Str("server", claims.ServerName).Msg("Client authenticated")
	return &services.WebSocketMessage{
		Type: services.MessageAuthSuccess,
		Data: gin.H{"server": claims.ServerName},
	}
}

func errorMessage(err error) *services.WebSocketMessage {
	msg := &services.WebSocketMessage{Type: services.MessageError, Error: err.Error()}
	if coded, ok := err.(errors.Error); ok {
		msg.Data = gin.H{"code": coded.Code()}
	}
	return msg
}

func logSubscribeFailure(clientID string, err error) {
	if coded, ok := err.(errors.Error); ok {
		wsLog.ErrorWithCode(coded).Str("client", clientID).Msg("Subscribe failed")
		return
	}
	wsLog.Error().Err(err).Str("client", clientID).Msg("Subscribe failed")
}

// writePump writes messages to the WebSocket client
func writePump(client *services.ClientConnection) {
	defer client.Conn.Close()

	for {
		select {
		case msg := <-client.Send:
			if err := client.Conn.WriteJSON(msg); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					wsLog.Warn().Err(err).Str("client", client.ID).Msg("Write error")
				}
				// Unblocks any tick waiting to enqueue
				client.Shutdown()
				return
			}

		case <-client.Closed():
			// Flush what is already queued, e.g. a shutdown notice
			for {
				select {
				case msg := <-client.Send:
					_ = client.Conn.WriteJSON(msg)
				default:
					_ = client.Conn.WriteMessage(websocket.CloseMessage, []byte{})
					return
				}
			}
		}
	}
}

// HandleTokenStatus checks a token from the Authorization header or the
// token query parameter
func HandleTokenStatus(c *gin.Context) {
	token := middleware.ExtractToken(c)
	if token == "" {
		middleware.GlobalSecurityLogger.LogFailedAuth(c.ClientIP(), "missing token in header or query")
		c.JSON(http.StatusBadRequest, gin.H{"error": "token required in Authorization header or query parameter"})
		return
	}

	claims, err := services.ValidateToken(token)
	if err != nil {
		middleware.GlobalSecurityLogger.LogFailedAuth(c.ClientIP(), "invalid token: "+err.Error())
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"valid":      true,
		"server":     claims.ServerName,
		"expires_at": claims.ExpiresAt.Time,
		"issued_at":  claims.IssuedAt.Time,
	})
}
