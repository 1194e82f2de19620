package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

type DBConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	Name     string `mapstructure:"name"`
	PoolSize int    `mapstructure:"pool_size"`
}

func (d DBConfig) DSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=Local",
		d.Username, d.Password, d.Host, d.Port, d.Name)
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret"`
}

// STTConfig selects and credentials the transcription provider adapters.
type STTConfig struct {
	Provider             string `mapstructure:"provider"` // deepgram | soniox | whisperx | speechmatics
	DeepgramAPIKey       string `mapstructure:"deepgram_api_key"`
	SonioxAPIKey         string `mapstructure:"soniox_api_key"`
	SpeechmaticsAPIKey   string `mapstructure:"speechmatics_api_key"`
	WhisperXURL          string `mapstructure:"whisperx_url"`
	ReconnectMaxAttempts int    `mapstructure:"reconnect_max_attempts"`
	ReconnectBufferSecs  int    `mapstructure:"reconnect_buffer_seconds"`
	DegradedModeEnabled  bool   `mapstructure:"degraded_mode_enabled"`
}

// PipelineConfig holds the per-session tunables for decode, VAD,
// conversation assembly and fan-out.
type PipelineConfig struct {
	SampleRate             int  `mapstructure:"sample_rate"`
	SilenceCloseSeconds    int  `mapstructure:"silence_close_seconds"`
	MaxConversationSeconds int  `mapstructure:"max_conversation_seconds"`
	MaxSegments            int  `mapstructure:"max_segments"`
	MinWords               int  `mapstructure:"min_words"`
	VADEnabled             bool `mapstructure:"vad_enabled"`
	VADAggressiveness      int  `mapstructure:"vad_aggressiveness"` // 0-3
	DropSilence            bool `mapstructure:"drop_silence"`
	SubscriberQueueCap     int  `mapstructure:"subscriber_queue_capacity"`
	SubscriberBlockSecs    int  `mapstructure:"subscriber_block_timeout_seconds"`
	TeardownDeadlineSecs   int  `mapstructure:"teardown_deadline_seconds"`
	SessionSoftTimeoutSecs int  `mapstructure:"session_soft_timeout_seconds"`
}

// FanoutSubscriber registers one integration endpoint on a fan-out
// channel; every session builds a webhook sink from it.
type FanoutSubscriber struct {
	ID       string `mapstructure:"id"`
	Channel  string `mapstructure:"channel"` // audio_bytes | transcript | conversation
	URL      string `mapstructure:"url"`
	Policy   string `mapstructure:"policy"` // drop_oldest | drop_newest | block
	QueueCap int    `mapstructure:"queue_capacity"`
}

type FanoutConfig struct {
	Subscribers []FanoutSubscriber `mapstructure:"subscribers"`
}

type TranslationConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	TargetLanguage string `mapstructure:"target_language"`
}

type StructuringConfig struct {
	OpenAIAPIKey   string `mapstructure:"open_ai_api_key"`
	Model          string `mapstructure:"model"`
	CallTimeoutSec int    `mapstructure:"call_timeout_seconds"`
	MaxAttempts    int    `mapstructure:"max_attempts"`
}

type Settings struct {
	DB          DBConfig          `mapstructure:"database"`
	Redis       RedisConfig       `mapstructure:"redis"`
	Auth        AuthConfig        `mapstructure:"auth"`
	STT         STTConfig         `mapstructure:"stt"`
	Pipeline    PipelineConfig    `mapstructure:"pipeline"`
	Fanout      FanoutConfig      `mapstructure:"fanout"`
	Translation TranslationConfig `mapstructure:"translation"`
	Structuring StructuringConfig `mapstructure:"structuring"`
	Env         string            `mapstructure:"env"`
	Debug       bool              `mapstructure:"debug"`
}

// Defaults applied where the config file leaves a knob unset.
func setDefaults() {
	viper.SetDefault("pipeline.sample_rate", 16000)
	viper.SetDefault("pipeline.silence_close_seconds", 120)
	viper.SetDefault("pipeline.max_conversation_seconds", 7200)
	viper.SetDefault("pipeline.max_segments", 2000)
	viper.SetDefault("pipeline.min_words", 10)
	viper.SetDefault("pipeline.vad_enabled", true)
	viper.SetDefault("pipeline.vad_aggressiveness", 1)
	viper.SetDefault("pipeline.subscriber_queue_capacity", 64)
	viper.SetDefault("pipeline.subscriber_block_timeout_seconds", 2)
	viper.SetDefault("pipeline.teardown_deadline_seconds", 10)
	viper.SetDefault("pipeline.session_soft_timeout_seconds", 420)
	viper.SetDefault("stt.provider", "deepgram")
	viper.SetDefault("stt.reconnect_max_attempts", 6)
	viper.SetDefault("stt.reconnect_buffer_seconds", 10)
	viper.SetDefault("structuring.model", "gpt-4o-mini")
	viper.SetDefault("structuring.call_timeout_seconds", 60)
	viper.SetDefault("structuring.max_attempts", 3)
}

func Load() (*Settings, error) {
	viper.SetConfigName("config_" + genEnv())
	viper.AddConfigPath(".")
	viper.SetConfigType("yaml")
	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var settings Settings
	if err := viper.Unmarshal(&settings); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &settings, nil
}

func genEnv() string {
	env := viper.GetString("ENV")
	if env == "" {
		return "dev"
	}
	return env
}

// Convenience duration accessors; the yaml surface stays integral seconds.

func (p PipelineConfig) SilenceClose() time.Duration {
	return time.Duration(p.SilenceCloseSeconds) * time.Second
}

func (p PipelineConfig) MaxConversation() time.Duration {
	return time.Duration(p.MaxConversationSeconds) * time.Second
}

func (p PipelineConfig) SubscriberBlockTimeout() time.Duration {
	return time.Duration(p.SubscriberBlockSecs) * time.Second
}

func (p PipelineConfig) TeardownDeadline() time.Duration {
	return time.Duration(p.TeardownDeadlineSecs) * time.Second
}

func (p PipelineConfig) SessionSoftTimeout() time.Duration {
	return time.Duration(p.SessionSoftTimeoutSecs) * time.Second
}

func (s STTConfig) ReconnectBuffer() time.Duration {
	return time.Duration(s.ReconnectBufferSecs) * time.Second
}
