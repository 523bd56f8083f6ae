package main

import (
	"database/sql"
	"log"

	"firebase.google.com/go/messaging"
	"github.com/redis/go-redis/v9"

	"arendoBack/internal/config"
	"arendoBack/internal/escrow/lock"
	"arendoBack/internal/handlers"
	"arendoBack/internal/repositories"
	"arendoBack/internal/services"
	"arendoBack/utils"
)

type application struct {
	cfg      config.Config
	errorLog *log.Logger
	infoLog  *log.Logger
	db       *sql.DB

	wsManager *WebSocketManager

	bookingRepo       *repositories.BookingRepository
	settlementService *services.SettlementService

	bookingHandler      *handlers.BookingHandler
	confirmationHandler *handlers.ReturnConfirmationHandler
	damageFeeHandler    *handlers.DamageFeeHandler
	settlementHandler   *handlers.SettlementHandler
	deviceTokenHandler  *handlers.DeviceTokenHandler
}

func initializeApp(cfg config.Config, db *sql.DB, rdb *redis.Client, msgClient *messaging.Client, errorLog, infoLog *log.Logger) *application {
	// Repositories
	bookingRepo := &repositories.BookingRepository{DB: db}
	confirmationRepo := &repositories.ReturnConfirmationRepository{DB: db}
	feeRepo := &repositories.DamageFeeRepository{DB: db}
	tokenRepo := &repositories.DeviceTokenRepository{DB: db}

	// Escrow chain gateway
	chainService, err := services.NewEscrowChainService(services.EscrowChainConfig{
		BaseURL:      cfg.Chain.BaseURL,
		APIKey:       cfg.Chain.APIKey,
		TerminalID:   cfg.Chain.TerminalID,
		PollInterval: cfg.Chain.PollInterval.Std(),
		WaitTimeout:  cfg.Chain.WaitTimeout.Std(),
	})
	if err != nil {
		errorLog.Fatalf("escrow chain gateway: %v", err)
	}

	storage := &utils.S3Storage{
		AccessKey: cfg.Storage.AccessKey,
		SecretKey: cfg.Storage.SecretKey,
		Bucket:    cfg.Storage.Bucket,
		Region:    cfg.Storage.Region,
		Endpoint:  cfg.Storage.Endpoint,
		PublicURL: cfg.Storage.PublicURL,
	}

	wsManager := NewWebSocketManager()
	pushService := &services.PushService{Client: msgClient, Tokens: tokenRepo, ErrorLog: errorLog}
	guard := lock.NewSettlementLock(rdb, cfg.Chain.WaitTimeout.Std())

	// Services
	bookingService := &services.BookingService{
		BookingRepo:      bookingRepo,
		ConfirmationRepo: confirmationRepo,
		FeeRepo:          feeRepo,
		Chain:            chainService,
		Uploader:         storage,
		Events:           wsManager,
	}
	confirmationService := &services.ReturnConfirmationService{
		Bookings:      bookingRepo,
		Confirmations: confirmationRepo,
		Events:        wsManager,
		Push:          pushService,
	}
	damageFeeService := &services.DamageFeeService{
		Bookings:      bookingRepo,
		Confirmations: confirmationRepo,
		Proposals:     feeRepo,
	}
	settlementService := &services.SettlementService{
		Bookings:      bookingRepo,
		Confirmations: confirmationRepo,
		Proposals:     feeRepo,
		Chain:         chainService,
		Guard:         guard,
		Events:        wsManager,
		Push:          pushService,
		ErrorLog:      errorLog,
	}

	return &application{
		cfg:               cfg,
		errorLog:          errorLog,
		infoLog:           infoLog,
		db:                db,
		wsManager:         wsManager,
		bookingRepo:       bookingRepo,
		settlementService: settlementService,

		bookingHandler:      &handlers.BookingHandler{Service: bookingService},
		confirmationHandler: &handlers.ReturnConfirmationHandler{Service: confirmationService},
		damageFeeHandler:    &handlers.DamageFeeHandler{Service: damageFeeService},
		settlementHandler:   &handlers.SettlementHandler{Service: settlementService},
		deviceTokenHandler:  &handlers.DeviceTokenHandler{Repo: tokenRepo},
	}
}

func openDB(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		log.Printf("Failed to open DB: %v", err)
		return nil, err
	}
	if err = db.Ping(); err != nil {
		log.Printf("Failed to ping DB: %v", err)
		return nil, err
	}
	db.SetMaxIdleConns(35)
	log.Println("Successfully connected to database")
	return db, nil
}
