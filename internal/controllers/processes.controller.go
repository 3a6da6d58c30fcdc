package controllers

import (
	"net/http"
	"strconv"
	"time"

	"monsoon/internal/errors"
	"monsoon/internal/middleware"
	"monsoon/internal/services"

	"github.com/gin-gonic/gin"
)

// GetProcesses lists host processes busiest first. ?limit=N keeps the
// first N; totals cover every process.
func GetProcesses(c *gin.Context) {
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			respondError(c, errors.New().WithMessage(errors.ErrInvalidArgument, "limit must be a non-negative integer"))
			return
		}
		limit = n
	}

	list, err := subscriptions().Processes()
	if err != nil {
		respondError(c, err)
		return
	}

	totalCPU := 0.0
	for _, p := range list {
		totalCPU += p.CPUUsage
	}

	c.JSON(http.StatusOK, gin.H{
		"processes":       services.LimitProcesses(list, limit),
		"total":           len(list),
		"total_cpu_usage": totalCPU,
		"timestamp":       time.Now(),
	})
}

func KillProcess(c *gin.Context) {
	pid, err := strconv.ParseInt(c.Param("pid"), 10, 32)
	if err != nil {
		respondError(c, errors.New().WithMessage(errors.ErrInvalidArgument, "pid must be an integer"))
		return
	}

	if err := services.KillProcess(int32(pid)); err != nil {
		respondError(c, err)
		return
	}

	serverName := ""
	if claims, ok := c.Get("claims"); ok {
		if cc, ok := claims.(*services.CustomClaims); ok {
			serverName = cc.ServerName
		}
	}
	middleware.GlobalSecurityLogger.LogProcessKilled(c.ClientIP(), serverName, int32(pid))

	c.JSON(http.StatusOK, gin.H{"pid": pid, "killed": true})
}
