package config

import (
	"strings"

	"github.com/pion/webrtc/v4"
	"github.com/pitabwire/frame/config"
)

// WorkerConfig holds per-process worker runtime settings: how many
// sans-I/O workers to host, and the tick cadence each one runs at
// (spec §4.5).
type WorkerConfig struct {
	config.ConfigurationDefault
	WorkerCount      int `envDefault:"4"  env:"WORKER_COUNT"`
	WallClockTickMs  int `envDefault:"10" env:"WORKER_TICK_MS"`
	LogicalStepMs    int `envDefault:"1"  env:"WORKER_LOGICAL_STEP_MS"`
	MaxRoomsPerNode  int `envDefault:"100" env:"MAX_ROOMS_PER_NODE"`
	OutputBufferSize int `envDefault:"1024" env:"WORKER_OUTPUT_BUFFER"`
}

// ClusterConfig holds the overlay pub/sub connection settings (spec §6).
type ClusterConfig struct {
	config.ConfigurationDefault
	NodeID              uint32 `envDefault:"1"                  env:"NODE_ID"`
	AppID               string `envDefault:"default"            env:"APP_ID"`
	OverlayURL          string `envDefault:"nats://127.0.0.1:4222" env:"OVERLAY_URL"`
	OverlaySubjectRoot  string `envDefault:"mediafabric"        env:"OVERLAY_SUBJECT_ROOT"`
	ReconnectInitialMs  int    `envDefault:"200"                env:"OVERLAY_RECONNECT_INITIAL_MS"`
	ReconnectMaxMs      int    `envDefault:"10000"              env:"OVERLAY_RECONNECT_MAX_MS"`
	CBFailThreshold     uint32 `envDefault:"5"                  env:"OVERLAY_CB_FAILURE_THRESHOLD"`
	CBResetTimeoutSec   int    `envDefault:"30"                 env:"OVERLAY_CB_RESET_TIMEOUT_SEC"`
}

// TransportConfig holds the WebRTC/ICE settings endpoints are created
// with (spec §6 "Transport").
type TransportConfig struct {
	config.ConfigurationDefault
	STUNServers  string `envDefault:"stun:stun.l.google.com:19302" env:"STUN_SERVERS"`
	TURNServers  string `envDefault:""                              env:"TURN_SERVERS"`
	TURNUsername string `envDefault:""                              env:"TURN_USERNAME"`
	TURNPassword string `envDefault:""                              env:"TURN_PASSWORD"`
}

// WebRTCConfig builds a webrtc.Configuration from the STUN/TURN settings.
func (c *TransportConfig) WebRTCConfig() webrtc.Configuration {
	return buildWebRTCConfig(c.STUNServers, c.TURNServers, c.TURNUsername, c.TURNPassword)
}

// buildWebRTCConfig creates a webrtc.Configuration from STUN/TURN server strings.
func buildWebRTCConfig(stunServers, turnServers, turnUsername, turnPassword string) webrtc.Configuration {
	var iceServers []webrtc.ICEServer
	if stunServers != "" {
		iceServers = append(iceServers, webrtc.ICEServer{
			URLs: strings.Split(stunServers, ","),
		})
	}
	if turnServers != "" {
		iceServers = append(iceServers, webrtc.ICEServer{
			URLs:           strings.Split(turnServers, ","),
			Username:       turnUsername,
			Credential:     turnPassword,
			CredentialType: webrtc.ICECredentialTypePassword,
		})
	}
	return webrtc.Configuration{ICEServers: iceServers}
}

// MediaWorkerConfig combines every config facet the mediaworker binary
// needs into one embeddable struct, scoped to this service's three
// concerns.
type MediaWorkerConfig struct {
	WorkerConfig
	ClusterConfig
	TransportConfig
}
