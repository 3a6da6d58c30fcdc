package controllers

import (
	"net/http"

	"monsoon/internal/errors"
	"monsoon/internal/services"

	"github.com/gin-gonic/gin"
)

func GetCapabilities(c *gin.Context) {
	caps, err := subscriptions().Capabilities()
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, caps)
}

// GetFeatures lists every flag the decoder knows and those this
// processor reports
func GetFeatures(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"catalog":  services.FeatureCatalog(),
		"detected": subscriptions().Features(),
	})
}

func GetMemory(c *gin.Context) {
	memory, err := services.GetCachedMemory()
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, memory)
}

func GetSystem(c *gin.Context) {
	info, err := services.GetCachedHostInfo()
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, info)
}

func GetHealth(c *gin.Context) {
	clients := 0
	if hub := services.GetWebSocketHub(); hub != nil {
		clients = hub.ClientCount()
	}
	c.JSON(http.StatusOK, gin.H{
		"status":          "ok",
		"clients":         clients,
		"sampling_period": subscriptions().SamplingPeriod().String(),
	})
}

func respondError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	body := gin.H{"error": err.Error()}

	if coded, ok := err.(errors.Error); ok {
		body["code"] = coded.Code()
		switch coded.Code() {
		case errors.ErrCounterInit, errors.ErrUnavailable, errors.ErrCollectProcesses:
			status = http.StatusServiceUnavailable
		case errors.ErrUnauthorized:
			status = http.StatusUnauthorized
		case errors.ErrInvalidArgument:
			status = http.StatusBadRequest
		case errors.ErrProcessNotFound:
			status = http.StatusNotFound
		}
	}

	c.JSON(status, body)
}
