// Package config loads runtime configuration from the environment,
// following the teacher's getEnv/getInt/getDuration idiom.
package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config is the application's full runtime configuration.
type Config struct {
	Server    ServerConfig
	WebSocket WebSocketConfig
	Room      RoomConfig
	Pipeline  PipelineConfig
	AWS       AWSConfig
	CORS      CORSConfig
}

// ServerConfig configures the HTTP/WebSocket listener.
type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// WebSocketConfig configures per-connection transport behavior.
type WebSocketConfig struct {
	ReadBufferSize      int
	WriteBufferSize     int
	HandshakeTimeout    time.Duration
	WriteTimeout        time.Duration
	IdleConnectionTimeout time.Duration
	SendQueueSize       int
}

// RoomConfig configures room admission and lifecycle limits (spec §6).
type RoomConfig struct {
	MaxParticipantsPerRoom int
	MaxRooms                int
	RoomTimeoutSeconds      int
	UtteranceHardCapSeconds int
}

// PipelineConfig configures the serialized ASR+Translate stage.
type PipelineConfig struct {
	Permits          int
	UtteranceDeadline time.Duration
}

// AWSConfig carries the credentials/region passed through to the ASR and
// Translate collaborators; opaque to everything above the pipeline.
type AWSConfig struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string
}

// CORSConfig configures the Fiber CORS middleware guarding the HTTP
// surface in front of the WebSocket upgrade.
type CORSConfig struct {
	AllowOrigins string
	AllowHeaders string
}

// Load reads configuration from environment variables, applying the
// documented defaults from spec §6.
func Load() *Config {
	if err := godotenv.Load(); err != nil {
		log.Println("[config] no .env file found, using process environment")
	}

	return &Config{
		Server: ServerConfig{
			Port:         getEnv("PORT", ":8080"),
			ReadTimeout:  getDuration("READ_TIMEOUT", 10*time.Second),
			WriteTimeout: getDuration("WRITE_TIMEOUT", 10*time.Second),
			IdleTimeout:  getDuration("IDLE_TIMEOUT", 120*time.Second),
		},
		WebSocket: WebSocketConfig{
			ReadBufferSize:        getInt("WS_READ_BUFFER_SIZE", 16*1024),
			WriteBufferSize:       getInt("WS_WRITE_BUFFER_SIZE", 16*1024),
			HandshakeTimeout:      getDuration("WS_HANDSHAKE_TIMEOUT", 10*time.Second),
			WriteTimeout:          getDuration("WS_WRITE_TIMEOUT", 5*time.Second),
			IdleConnectionTimeout: getDuration("WS_IDLE_CONNECTION_TIMEOUT", 60*time.Second),
			SendQueueSize:         getInt("WS_SEND_QUEUE_SIZE", 64),
		},
		Room: RoomConfig{
			MaxParticipantsPerRoom: getInt("MAX_PARTICIPANTS_PER_ROOM", 10),
			MaxRooms:                getInt("MAX_ROOMS", 100),
			RoomTimeoutSeconds:      getInt("ROOM_TIMEOUT_SECONDS", 3600),
			UtteranceHardCapSeconds: getInt("UTTERANCE_HARD_CAP_SECONDS", 30),
		},
		Pipeline: PipelineConfig{
			Permits:           getInt("PIPELINE_PERMITS", 1),
			UtteranceDeadline: getDuration("UTTERANCE_DEADLINE_MS", 8*time.Second),
		},
		AWS: AWSConfig{
			Region:          getEnv("AWS_REGION", "us-east-1"),
			AccessKeyID:     getEnv("AWS_ACCESS_KEY_ID", ""),
			SecretAccessKey: getEnv("AWS_SECRET_ACCESS_KEY", ""),
		},
		CORS: CORSConfig{
			AllowOrigins: getEnv("CORS_ALLOW_ORIGINS", "*"),
			AllowHeaders: getEnv("CORS_ALLOW_HEADERS", "Origin, Content-Type, Accept"),
		},
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
		log.Printf("[config] invalid int for %s=%q, using default %d", key, value, defaultValue)
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if !strings.ContainsAny(value, "smh") {
			if millis, err := strconv.Atoi(value); err == nil {
				return time.Duration(millis) * time.Millisecond
			}
		}
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
		log.Printf("[config] invalid duration for %s=%q, using default %v", key, value, defaultValue)
	}
	return defaultValue
}
