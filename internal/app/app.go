package app

import (
	"context"
	"errors"
	"time"

	"github.com/go-redis/redis"
	"gorm.io/gorm"

	"github.com/auriclabs/auric/internal/config"
	"github.com/auriclabs/auric/internal/domains/conversation"
	"github.com/auriclabs/auric/internal/domains/user"
	"github.com/auriclabs/auric/internal/pipeline/translate"
	convoRepo "github.com/auriclabs/auric/internal/repository/conversation"
	userRepo "github.com/auriclabs/auric/internal/repository/user"
	"github.com/auriclabs/auric/internal/server"
	"github.com/auriclabs/auric/internal/session"
	"github.com/auriclabs/auric/internal/structuring"
	"github.com/auriclabs/auric/pkg/Logger"
	"github.com/auriclabs/auric/pkg/stt"
)

// App represents the application with all its dependencies
type App struct {
	Config *config.Settings
	Logger *Logger.Logger
	DB     *gorm.DB
	RC     *redis.Client

	Provider stt.Provider
	// repos
	ConversationRepo conversation.ConversationRepository
	SpeechProfiles   userRepo.SpeechProfileRepository
	ServerDeps       server.Dependencies
}

// NewApp creates a new application instance with all dependencies properly wired
func NewApp(cfg *config.Settings, logger *Logger.Logger, db *gorm.DB, rc *redis.Client) (*App, error) {
	app := &App{
		Config: cfg,
		Logger: logger,
		DB:     db,
		RC:     rc,
	}

	if err := app.setupDependencies(); err != nil {
		return nil, err
	}

	return app, nil
}

// setupDependencies initializes all application dependencies
func (a *App) setupDependencies() error {
	// 1. repositories
	a.ConversationRepo = convoRepo.NewGormConversationRepo(a.DB, a.RC)
	a.SpeechProfiles = userRepo.NewGormSpeechProfileRepo(a.DB)

	// 2. STT provider adapter
	provider, err := stt.NewProvider(a.Config.STT, a.Logger)
	if err != nil {
		return err
	}
	a.Provider = provider

	// JWT settings from config
	jwtSecret := a.Config.Auth.JWTSecret
	if jwtSecret == "" {
		jwtSecret = "default-secret-key-change-in-production"
		a.Logger.Warn("JWT secret not configured, using default (not secure for production)")
	}
	userService := user.NewService(jwtSecret, a.Logger)

	// 3. conversation close path: persistence + structuring
	structurer := structuring.NewOpenAI(a.Config.Structuring.OpenAIAPIKey, structuring.Config{
		Model:    a.Config.Structuring.Model,
		Timeout:  time.Duration(a.Config.Structuring.CallTimeoutSec) * time.Second,
		Attempts: a.Config.Structuring.MaxAttempts,
	}, a.Logger)
	conversationService := conversation.NewService(a.ConversationRepo, structurer, a.Logger)

	// 4. translation backend, shared redis cache
	var translator translate.Backend
	if a.Config.Translation.Enabled {
		translator = translate.NewOpenAIBackend(a.Config.Structuring.OpenAIAPIKey, a.Config.Structuring.Model)
	}
	translateCache := translate.NewRedisCache(a.RC)

	a.ServerDeps = server.Dependencies{
		Settings:            a.Config,
		Logger:              a.Logger,
		UserService:         userService,
		ConversationService: conversationService,
		SpeechProfiles:      a.SpeechProfiles,
		SessionFactory:      a.sessionFactory(conversationService, translator, translateCache),
	}
	return nil
}

// sessionFactory closes over the shared services; each listen socket
// gets its own pipeline session with the uid's speech profile loaded.
func (a *App) sessionFactory(
	conversations conversation.ConversationService,
	translator translate.Backend,
	translateCache translate.Cache,
) func(ctx context.Context, cfg session.Config) (*session.Session, error) {
	return func(ctx context.Context, cfg session.Config) (*session.Session, error) {
		profileKey := cfg.UID
		if cfg.SpeechProfileID != "" {
			// shared devices can score against a named enrollment
			profileKey = cfg.SpeechProfileID
		}
		var profile []float32
		embedding, err := a.SpeechProfiles.Get(ctx, profileKey)
		switch {
		case err == nil:
			profile = embedding
		case errors.Is(err, userRepo.ErrNoProfile):
			// unenrolled: segments stay speaker-attributed only
		default:
			a.Logger.Warnf("loading speech profile %s: %v", profileKey, err)
		}

		return session.New(cfg, session.Deps{
			Provider:       a.Provider,
			Conversations:  conversations,
			Translator:     translator,
			TranslateCache: translateCache,
			Profile:        profile,
			Logger:         a.Logger,
		})
	}
}

// GetServerDependencies returns the server dependencies
func (a *App) GetServerDependencies() server.Dependencies {
	return a.ServerDeps
}
