package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// TokenStoreOff disables the credential cache when used as TOKEN_STORE_PATH.
const TokenStoreOff = "off"

type Config struct {
	AppEnv   string
	LogLevel slog.Level

	BLEAdapter     string
	RuuviMAC       string
	RuuviCompanyID uint16 // 0 = any
	ScanDuration   time.Duration
	ScanInterval   time.Duration // 0 = single cycle

	ParticleAPIURL       string
	ParticleToken        string
	ParticleUsername     string
	ParticlePassword     string
	ParticleEventName    string
	ParticleEventPrivate bool
	ParticleTimeout      time.Duration

	TokenStorePath string // empty when disabled

	MQTTBroker      string // empty disables the mirror
	MQTTPort        int
	MQTTClientID    string
	MQTTTopicPrefix string

	LocalSensorEnabled bool
	BME280Address      uint16
	SensorPollInterval time.Duration
	LocalSensorName    string

	InspectMAC string
}

func LoadFromEnv() (Config, error) {
	appEnv := env("APP_ENV", "dev")
	switch appEnv {
	case "dev", "prod":
	default:
		return Config{}, fmt.Errorf("invalid APP_ENV %q (allowed: dev, prod)", appEnv)
	}

	level, err := parseLogLevel(env("LOG_LEVEL", "info"))
	if err != nil {
		return Config{}, err
	}

	var companyID uint64
	if s := env("RUUVI_COMPANY_ID", ""); s != "" {
		companyID, err = strconv.ParseUint(s, 0, 16)
		if err != nil {
			return Config{}, fmt.Errorf("invalid RUUVI_COMPANY_ID %q: %w", s, err)
		}
	}

	scanDuration, err := durationEnv("SCAN_DURATION", "10s")
	if err != nil {
		return Config{}, err
	}
	if scanDuration <= 0 {
		return Config{}, fmt.Errorf("SCAN_DURATION must be positive, got %v", scanDuration)
	}

	scanInterval, err := durationEnv("SCAN_INTERVAL", "0s")
	if err != nil {
		return Config{}, err
	}
	if scanInterval < 0 {
		return Config{}, fmt.Errorf("SCAN_INTERVAL must not be negative, got %v", scanInterval)
	}

	eventName := env("PARTICLE_EVENT_NAME", "ruuvi_data")

	eventPrivate, err := boolEnv("PARTICLE_EVENT_PRIVATE", "true")
	if err != nil {
		return Config{}, err
	}

	particleTimeout, err := durationEnv("PARTICLE_TIMEOUT", "10s")
	if err != nil {
		return Config{}, err
	}
	if particleTimeout <= 0 {
		return Config{}, fmt.Errorf("PARTICLE_TIMEOUT must be positive, got %v", particleTimeout)
	}

	tokenStorePath := env("TOKEN_STORE_PATH", "data/ruuvi-gateway.db")
	if strings.EqualFold(tokenStorePath, TokenStoreOff) {
		tokenStorePath = ""
	}

	mqttPortStr := env("MQTT_PORT", "1883")
	mqttPort, err := strconv.Atoi(mqttPortStr)
	if err != nil {
		return Config{}, fmt.Errorf("invalid MQTT_PORT %q: %w", mqttPortStr, err)
	}
	if mqttPort <= 0 || mqttPort > 65535 {
		return Config{}, fmt.Errorf("MQTT_PORT out of range: %d", mqttPort)
	}

	localSensor, err := boolEnv("LOCAL_SENSOR_ENABLED", "false")
	if err != nil {
		return Config{}, err
	}

	bme280AddressStr := env("BME280_ADDRESS", "0x76")
	bme280Address, err := strconv.ParseUint(bme280AddressStr, 0, 16)
	if err != nil {
		return Config{}, fmt.Errorf("invalid BME280_ADDRESS %q: %w", bme280AddressStr, err)
	}

	sensorPollInterval, err := durationEnv("SENSOR_POLL_INTERVAL", "30s")
	if err != nil {
		return Config{}, err
	}
	if sensorPollInterval <= 0 {
		return Config{}, fmt.Errorf("SENSOR_POLL_INTERVAL must be positive, got %v", sensorPollInterval)
	}

	return Config{
		AppEnv:   appEnv,
		LogLevel: level,

		BLEAdapter:     env("BLE_ADAPTER", "hci0"),
		RuuviMAC:       env("RUUVI_MAC", ""),
		RuuviCompanyID: uint16(companyID),
		ScanDuration:   scanDuration,
		ScanInterval:   scanInterval,

		ParticleAPIURL:       env("PARTICLE_API_URL", "https://api.particle.io"),
		ParticleToken:        env("PARTICLE_TOKEN", ""),
		ParticleUsername:     env("PARTICLE_USERNAME", ""),
		ParticlePassword:     os.Getenv("PARTICLE_PASSWORD"),
		ParticleEventName:    eventName,
		ParticleEventPrivate: eventPrivate,
		ParticleTimeout:      particleTimeout,

		TokenStorePath: tokenStorePath,

		MQTTBroker:      env("MQTT_BROKER", ""),
		MQTTPort:        mqttPort,
		MQTTClientID:    env("MQTT_CLIENT_ID", "ruuvi-gateway"),
		MQTTTopicPrefix: strings.Trim(env("MQTT_TOPIC_PREFIX", "ruuvi"), "/"),

		LocalSensorEnabled: localSensor,
		BME280Address:      uint16(bme280Address),
		SensorPollInterval: sensorPollInterval,
		LocalSensorName:    env("LOCAL_SENSOR_NAME", "gateway"),

		InspectMAC: env("INSPECT_MAC", ""),
	}, nil
}

// HasLogin reports whether a username and password are both configured.
func (c Config) HasLogin() bool {
	return c.ParticleUsername != "" && c.ParticlePassword != ""
}

// CheckCredentials rejects configurations that can never obtain an access
// token. A token store alone is accepted; whether it holds an entry is only
// known at startup.
func (c Config) CheckCredentials() error {
	if (c.ParticleUsername == "") != (c.ParticlePassword == "") {
		return errors.New("PARTICLE_USERNAME and PARTICLE_PASSWORD must be set together")
	}
	if c.ParticleToken == "" && !c.HasLogin() && c.TokenStorePath == "" {
		return errors.New("no Particle credentials: set PARTICLE_TOKEN, PARTICLE_USERNAME/PARTICLE_PASSWORD or TOKEN_STORE_PATH")
	}
	return nil
}

func env(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func durationEnv(key, def string) (time.Duration, error) {
	s := env(key, def)
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, s, err)
	}
	return d, nil
}

func boolEnv(key, def string) (bool, error) {
	s := env(key, def)
	b, err := strconv.ParseBool(s)
	if err != nil {
		return false, fmt.Errorf("invalid %s %q: %w", key, s, err)
	}
	return b, nil
}

func parseLogLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid LOG_LEVEL %q (allowed: debug, info, warn, error)", s)
	}
}
