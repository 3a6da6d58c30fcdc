package controllers

import (
	"time"

	"monsoon/internal/services"
)

// Settings configures the HTTP and WebSocket handlers
type Settings struct {
	AuthEnabled     bool
	AllowedOrigins  []string
	SampleBuffer    int
	DeliveryTimeout time.Duration
	// Subscriptions defaults to the shared controller when nil.
	Subscriptions *services.SubscriptionController
}

var settings = Settings{
	AuthEnabled:  true,
	SampleBuffer: 1,
}

// Configure replaces the handler settings. Call before serving.
func Configure(s Settings) {
	settings = s
}

func subscriptions() *services.SubscriptionController {
	if settings.Subscriptions != nil {
		return settings.Subscriptions
	}
	return services.GetSubscriptionController()
}
