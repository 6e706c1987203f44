package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/glossalabs/glossa-core/internal/lang"
)

type TelemetryConfig struct {
	LogLevel       string `yaml:"log_level"`
	OTLPEndpoint   string `yaml:"otlp_endpoint"`
	OTLPInsecure   bool   `yaml:"otlp_insecure"`
	PrometheusBind string `yaml:"prometheus_bind"`
}

type HTTPConfig struct {
	Bind string `yaml:"bind"`
	Port int    `yaml:"port"`
}

type Config struct {
	RuntimeName string           `yaml:"runtime_name"`
	Environment string           `yaml:"environment"`
	HTTP        HTTPConfig       `yaml:"http"`
	Telemetry   TelemetryConfig  `yaml:"telemetry"`
	Bus         BusConfig        `yaml:"bus"`
	Audio       AudioConfig      `yaml:"audio"`
	Rooms       RoomsConfig      `yaml:"rooms"`
	STT         STTConfig        `yaml:"stt"`
	Translate   TranslateConfig  `yaml:"translate"`
	TTS         TTSConfig        `yaml:"tts"`
	EventStore  EventStoreConfig `yaml:"event_store"`
	Lipsync     LipsyncConfig    `yaml:"lipsync"`
}

type BusConfig struct {
	Enabled        bool     `yaml:"enabled"`
	Embedded       bool     `yaml:"embedded"`
	Port           int      `yaml:"port"`
	StoreDir       string   `yaml:"store_dir"`
	Servers        []string `yaml:"servers"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	Token          string   `yaml:"token"`
	TLSInsecure    bool     `yaml:"tls_insecure"`
	ConnectTimeout int      `yaml:"connect_timeout_ms"`
}

// AudioConfig holds the VAD and segment validation knobs. Frame layout
// itself (16 kHz mono 16-bit, 20 ms frames) is fixed in protocol.
type AudioConfig struct {
	RMSThreshold      float64 `yaml:"rms_threshold"`
	PreRollMS         int     `yaml:"pre_roll_ms"`
	StartFrames       int     `yaml:"start_frames"`
	EndFrames         int     `yaml:"end_frames"`
	SilenceFinalizeMS int     `yaml:"silence_finalize_ms"`
	MaxSegmentMS      int     `yaml:"max_segment_ms"`
	MaxWords          int     `yaml:"max_words"`
	WordSplitGapMS    int     `yaml:"word_split_gap_ms"`

	MinSegmentMS    int     `yaml:"min_segment_ms"`
	MinVoicedFrames int     `yaml:"min_voiced_frames"`
	MinVoicedRatio  float64 `yaml:"min_voiced_ratio"`
	PeakFactor      float64 `yaml:"peak_factor"`
	AverageFactor   float64 `yaml:"average_factor"`

	SegmentQueueSize   int `yaml:"segment_queue_size"`
	SegmentEnqueueWait int `yaml:"segment_enqueue_wait_ms"`
}

type RoomsConfig struct {
	DefaultRoom     string `yaml:"default_room"`
	DefaultLanguage string `yaml:"default_language"`
}

type STTConfig struct {
	Mode    string `yaml:"mode"`
	Command string `yaml:"command"`
}

type TranslateConfig struct {
	Mode      string `yaml:"mode"`
	Command   string `yaml:"command"`
	Endpoint  string `yaml:"endpoint"`
	CacheSize int    `yaml:"cache_size"`
}

type TTSConfig struct {
	Mode       string `yaml:"mode"`
	Command    string `yaml:"command"`
	SampleRate int    `yaml:"sample_rate"`
}

type EventStoreConfig struct {
	Path          string `yaml:"path"`
	RetentionMode string `yaml:"retention_mode"`
	RetentionDays int    `yaml:"retention_days"`
	MaxRooms      int    `yaml:"max_rooms"`
	VacuumOnStart bool   `yaml:"vacuum_on_start"`
}

type LipsyncConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Endpoint string `yaml:"endpoint"`
}

func Default() Config {
	return Config{
		RuntimeName: "glossa-runtime",
		Environment: "development",
		HTTP: HTTPConfig{
			Bind: "0.0.0.0",
			Port: 8080,
		},
		Telemetry: TelemetryConfig{
			LogLevel:       "info",
			OTLPEndpoint:   "",
			OTLPInsecure:   true,
			PrometheusBind: ":9091",
		},
		Bus: BusConfig{
			Enabled:        true,
			Embedded:       true,
			Port:           4222,
			StoreDir:       "./data/nats",
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
		},
		Audio: AudioConfig{
			RMSThreshold:      500,
			PreRollMS:         300,
			StartFrames:       3,
			EndFrames:         5,
			SilenceFinalizeMS: 300,
			MaxSegmentMS:      5000,
			MaxWords:          24,
			WordSplitGapMS:    100,

			MinSegmentMS:    200,
			MinVoicedFrames: 5,
			MinVoicedRatio:  0.15,
			PeakFactor:      1.5,
			AverageFactor:   0.6,

			SegmentQueueSize:   8,
			SegmentEnqueueWait: 500,
		},
		Rooms: RoomsConfig{
			DefaultRoom:     "lecture-hall",
			DefaultLanguage: lang.Default,
		},
		STT: STTConfig{
			Mode: "mock",
		},
		Translate: TranslateConfig{
			Mode:      "mock",
			CacheSize: 256,
		},
		TTS: TTSConfig{
			Mode:       "mock",
			SampleRate: 22050,
		},
		EventStore: EventStoreConfig{
			Path:          "./data/glossa-events.db",
			RetentionMode: "session",
			RetentionDays: 30,
			MaxRooms:      10000,
		},
		Lipsync: LipsyncConfig{
			Enabled:  false,
			Endpoint: "http://localhost:9700",
		},
	}
}

func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return cfg, fmt.Errorf("config file not found: %w", err)
			}
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	overrideString(&cfg.RuntimeName, "GLOSSA_RUNTIME_NAME")
	overrideString(&cfg.Environment, "GLOSSA_RUNTIME_ENVIRONMENT")
	overrideString(&cfg.HTTP.Bind, "GLOSSA_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "GLOSSA_HTTP_PORT")
	overrideString(&cfg.Telemetry.LogLevel, "GLOSSA_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "GLOSSA_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "GLOSSA_TELEMETRY_OTLP_INSECURE")
	overrideString(&cfg.Telemetry.PrometheusBind, "GLOSSA_TELEMETRY_PROMETHEUS_BIND")
	overrideBool(&cfg.Bus.Enabled, "GLOSSA_BUS_ENABLED")
	overrideBool(&cfg.Bus.Embedded, "GLOSSA_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "GLOSSA_BUS_PORT")
	overrideString(&cfg.Bus.StoreDir, "GLOSSA_BUS_STORE_DIR")
	overrideStringSlice(&cfg.Bus.Servers, "GLOSSA_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "GLOSSA_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "GLOSSA_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "GLOSSA_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "GLOSSA_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "GLOSSA_BUS_CONNECT_TIMEOUT_MS")
	overrideFloat(&cfg.Audio.RMSThreshold, "GLOSSA_AUDIO_RMS_THRESHOLD")
	overrideInt(&cfg.Audio.PreRollMS, "GLOSSA_AUDIO_PRE_ROLL_MS")
	overrideInt(&cfg.Audio.StartFrames, "GLOSSA_AUDIO_START_FRAMES")
	overrideInt(&cfg.Audio.EndFrames, "GLOSSA_AUDIO_END_FRAMES")
	overrideInt(&cfg.Audio.SilenceFinalizeMS, "GLOSSA_AUDIO_SILENCE_FINALIZE_MS")
	overrideInt(&cfg.Audio.MaxSegmentMS, "GLOSSA_AUDIO_MAX_SEGMENT_MS")
	overrideInt(&cfg.Audio.MaxWords, "GLOSSA_AUDIO_MAX_WORDS")
	overrideInt(&cfg.Audio.WordSplitGapMS, "GLOSSA_AUDIO_WORD_SPLIT_GAP_MS")
	overrideInt(&cfg.Audio.MinSegmentMS, "GLOSSA_AUDIO_MIN_SEGMENT_MS")
	overrideInt(&cfg.Audio.MinVoicedFrames, "GLOSSA_AUDIO_MIN_VOICED_FRAMES")
	overrideFloat(&cfg.Audio.MinVoicedRatio, "GLOSSA_AUDIO_MIN_VOICED_RATIO")
	overrideFloat(&cfg.Audio.PeakFactor, "GLOSSA_AUDIO_PEAK_FACTOR")
	overrideFloat(&cfg.Audio.AverageFactor, "GLOSSA_AUDIO_AVERAGE_FACTOR")
	overrideInt(&cfg.Audio.SegmentQueueSize, "GLOSSA_AUDIO_SEGMENT_QUEUE_SIZE")
	overrideInt(&cfg.Audio.SegmentEnqueueWait, "GLOSSA_AUDIO_SEGMENT_ENQUEUE_WAIT_MS")
	overrideString(&cfg.Rooms.DefaultRoom, "GLOSSA_ROOMS_DEFAULT_ROOM")
	overrideString(&cfg.Rooms.DefaultLanguage, "GLOSSA_ROOMS_DEFAULT_LANGUAGE")
	overrideString(&cfg.STT.Mode, "GLOSSA_STT_MODE")
	overrideString(&cfg.STT.Command, "GLOSSA_STT_COMMAND")
	overrideString(&cfg.Translate.Mode, "GLOSSA_TRANSLATE_MODE")
	overrideString(&cfg.Translate.Command, "GLOSSA_TRANSLATE_COMMAND")
	overrideString(&cfg.Translate.Endpoint, "GLOSSA_TRANSLATE_ENDPOINT")
	overrideInt(&cfg.Translate.CacheSize, "GLOSSA_TRANSLATE_CACHE_SIZE")
	overrideString(&cfg.TTS.Mode, "GLOSSA_TTS_MODE")
	overrideString(&cfg.TTS.Command, "GLOSSA_TTS_COMMAND")
	overrideInt(&cfg.TTS.SampleRate, "GLOSSA_TTS_SAMPLE_RATE")
	overrideString(&cfg.EventStore.Path, "GLOSSA_EVENT_STORE_PATH")
	overrideString(&cfg.EventStore.RetentionMode, "GLOSSA_EVENT_STORE_RETENTION_MODE")
	overrideInt(&cfg.EventStore.RetentionDays, "GLOSSA_EVENT_STORE_RETENTION_DAYS")
	overrideInt(&cfg.EventStore.MaxRooms, "GLOSSA_EVENT_STORE_MAX_ROOMS")
	overrideBool(&cfg.EventStore.VacuumOnStart, "GLOSSA_EVENT_STORE_VACUUM_ON_START")
	overrideBool(&cfg.Lipsync.Enabled, "GLOSSA_LIPSYNC_ENABLED")
	overrideString(&cfg.Lipsync.Endpoint, "GLOSSA_LIPSYNC_ENDPOINT")
}

func overrideString(target *string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok && strings.TrimSpace(value) != "" {
		*target = value
	}
}

func overrideInt(target *int, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.Atoi(value); err == nil {
			*target = parsed
		}
	}
}

func overrideBool(target *bool, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseBool(value); err == nil {
			*target = parsed
		}
	}
}

func overrideStringSlice(target *[]string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		parts := strings.Split(value, ",")
		var trimmed []string
		for _, p := range parts {
			if s := strings.TrimSpace(p); s != "" {
				trimmed = append(trimmed, s)
			}
		}
		if len(trimmed) > 0 {
			*target = trimmed
		}
	}
}

func overrideFloat(target *float64, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			*target = parsed
		}
	}
}

func validate(cfg Config) error {
	if cfg.RuntimeName == "" {
		return errors.New("runtime_name must not be empty")
	}
	if cfg.HTTP.Port <= 0 || cfg.HTTP.Port > 65535 {
		return errors.New("http.port must be between 1 and 65535")
	}
	if cfg.Bus.Enabled {
		if cfg.Bus.Embedded {
			if cfg.Bus.Port <= 0 || cfg.Bus.Port > 65535 {
				return errors.New("bus.port must be between 1 and 65535 when embedded mode is enabled")
			}
		} else if len(cfg.Bus.Servers) == 0 {
			return errors.New("bus.servers must not be empty when embedded mode is disabled")
		}
	}
	if cfg.Audio.RMSThreshold <= 0 {
		return errors.New("audio.rms_threshold must be positive")
	}
	if cfg.Audio.PreRollMS < 0 {
		return errors.New("audio.pre_roll_ms must be >= 0")
	}
	if cfg.Audio.StartFrames <= 0 {
		return errors.New("audio.start_frames must be >= 1")
	}
	if cfg.Audio.EndFrames <= 0 {
		return errors.New("audio.end_frames must be >= 1")
	}
	if cfg.Audio.MaxSegmentMS <= cfg.Audio.MinSegmentMS {
		return errors.New("audio.max_segment_ms must exceed audio.min_segment_ms")
	}
	if cfg.Audio.MinVoicedRatio < 0 || cfg.Audio.MinVoicedRatio > 1 {
		return errors.New("audio.min_voiced_ratio must be within [0, 1]")
	}
	if cfg.Audio.SegmentQueueSize <= 0 {
		return errors.New("audio.segment_queue_size must be >= 1")
	}
	if cfg.Rooms.DefaultRoom == "" {
		return errors.New("rooms.default_room must not be empty")
	}
	if !lang.Supported(cfg.Rooms.DefaultLanguage) {
		return fmt.Errorf("rooms.default_language: %w", lang.ErrUnsupported{Code: cfg.Rooms.DefaultLanguage})
	}
	switch cfg.STT.Mode {
	case "mock", "exec":
	default:
		return errors.New("stt.mode must be one of mock|exec")
	}
	if cfg.STT.Mode == "exec" && cfg.STT.Command == "" {
		return errors.New("stt.command must be set when mode=exec")
	}
	switch cfg.Translate.Mode {
	case "mock", "exec", "http":
	default:
		return errors.New("translate.mode must be one of mock|exec|http")
	}
	if cfg.Translate.Mode == "exec" && cfg.Translate.Command == "" {
		return errors.New("translate.command must be set when mode=exec")
	}
	if cfg.Translate.Mode == "http" && cfg.Translate.Endpoint == "" {
		return errors.New("translate.endpoint must be set when mode=http")
	}
	if cfg.Translate.CacheSize < 0 {
		return errors.New("translate.cache_size must be >= 0")
	}
	switch cfg.TTS.Mode {
	case "mock", "exec":
	default:
		return errors.New("tts.mode must be one of mock|exec")
	}
	if cfg.TTS.Mode == "exec" && cfg.TTS.Command == "" {
		return errors.New("tts.command must be set when mode=exec")
	}
	if cfg.TTS.SampleRate <= 0 {
		return errors.New("tts.sample_rate must be positive")
	}
	if cfg.EventStore.Path == "" {
		return errors.New("event_store.path must not be empty")
	}
	switch cfg.EventStore.RetentionMode {
	case "ephemeral", "session", "persistent":
		// ok
	default:
		return errors.New("event_store.retention_mode must be one of ephemeral|session|persistent")
	}
	if cfg.EventStore.RetentionDays < 0 {
		return errors.New("event_store.retention_days must be >= 0")
	}
	if cfg.Telemetry.PrometheusBind == "" {
		return errors.New("telemetry.prometheus_bind must not be empty")
	}
	if cfg.Lipsync.Enabled && cfg.Lipsync.Endpoint == "" {
		return errors.New("lipsync.endpoint must be set when lipsync is enabled")
	}
	return nil
}
