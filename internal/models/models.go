// Package models holds the wire types shared by the gateway, the hub and its clients.
package models

import (
	"encoding/json"
	"time"
)

// Message is an opaque, already validated JSON document. Any JSON value kind
// is allowed; producers decide the shape.
type Message = json.RawMessage

// Envelope is what every subscriber receives for one broadcast, and the body
// of the internal hub protocol's POST /broadcast.
type Envelope struct {
	Data     Message           `json:"data"`
	Metadata map[string]string `json:"metadata"`
}

// Metadata keys with a stable meaning.
const (
	MetadataTopic = "topic"
)

// Coordinates is a geocoded location attached to messages carrying an address.
type Coordinates struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Subscriber tokens
type TokenRequest struct {
	Subscriber string `json:"subscriber"`
}

type TokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Hub status
type SessionSummary struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Transport   string    `json:"transport"`
	ConnectedAt time.Time `json:"connectedAt"`
}

type HubStatusResponse struct {
	Name     string           `json:"name"`
	Sessions int              `json:"sessions"`
	Members  []SessionSummary `json:"members"`
}

// Error response
type ErrorResponse struct {
	Error string `json:"error"`
}
