package config

import "time"

// Buffer and queue sizing.
const (
	DefaultStreamBufferSize   = 8192
	DefaultDatagramBufferSize = 4096
	DefaultMaxClients         = 256

	// per session on the server
	DefaultSessionDatagramIn = 64
	DefaultSessionStreamOut  = 32
	DefaultSessionStreamIn   = 64

	// shared server pools, multiplied by the number of clients
	DefaultServerStreamPoolFactor   = 16
	DefaultServerDatagramPoolFactor = 8

	DefaultClientStreamPool    = 768
	DefaultClientStreamOut     = 256
	DefaultClientStreamIn      = 512
	DefaultClientDatagramPool  = 128
	DefaultWorkers             = 8
	DefaultAcceptQueue         = 16
	DefaultDatagramReadsPerRun = 64
)

// Timing.
const (
	DefaultPollTimeout      = 16 * time.Millisecond
	DefaultReceiveTimeout   = 5 * time.Second
	DefaultStuckSendTimeout = 3000 * time.Millisecond
	DefaultConnectTimeout   = 3000 * time.Millisecond
	DefaultPingInterval     = 1000 * time.Millisecond
	DefaultEpochInterval    = 10 * time.Second
	DefaultReconnectDelay   = 2 * time.Second
)
