package main

import (
	"context"
	"log"
	"os"

	"cloud.google.com/go/firestore"
	fbapp "firebase.google.com/go/v4"
	"github.com/labstack/echo/v4"
	echomiddleware "github.com/labstack/echo/v4/middleware"
	"google.golang.org/api/option"

	"gigchat/internal/adapter/api"
	"gigchat/internal/adapter/api/handler"
	apimiddleware "gigchat/internal/adapter/api/middleware"
	"gigchat/internal/adapter/api/router"
	"gigchat/internal/adapter/repository"
	"gigchat/internal/infrastructure/firebase"
	"gigchat/internal/infrastructure/storage"
	"gigchat/internal/infrastructure/websocket"
	"gigchat/internal/usecase"
	"gigchat/pkg/config"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	ctx := context.Background()

	var opt option.ClientOption

	serviceAccountJSON := os.Getenv("FIREBASE_SERVICE_ACCOUNT_JSON")
	serviceAccountPath := os.Getenv("FIREBASE_SERVICE_ACCOUNT_PATH")
	if serviceAccountJSON != "" {
		log.Printf("Using Firebase service account from environment variable")
		opt = option.WithCredentialsJSON([]byte(serviceAccountJSON))
	} else if serviceAccountPath != "" {
		log.Printf("Using Firebase service account from file: %s", serviceAccountPath)
		opt = option.WithCredentialsFile(serviceAccountPath)
	} else {
		log.Fatalf("Set FIREBASE_SERVICE_ACCOUNT_JSON or FIREBASE_SERVICE_ACCOUNT_PATH")
	}

	firebaseApp, err := fbapp.NewApp(ctx, &fbapp.Config{ProjectID: cfg.FirebaseProject}, opt)
	if err != nil {
		log.Fatalf("Failed to initialize Firebase: %v", err)
	}

	authClient, err := firebaseApp.Auth(ctx)
	if err != nil {
		log.Fatalf("Failed to initialize Firebase Auth: %v", err)
	}

	firestoreClient, err := firestore.NewClient(ctx, cfg.FirebaseProject, opt)
	if err != nil {
		log.Fatalf("Failed to create Firestore client: %v", err)
	}
	defer firestoreClient.Close()

	storageClient, err := storage.NewCloudStorageClient(ctx, cfg.StorageBucket, serviceAccountPath)
	if err != nil {
		log.Fatalf("Failed to initialize Cloud Storage: %v", err)
	}
	defer storageClient.Close()

	messageRepo := repository.NewFirestoreMessageRepository(firestoreClient)
	conversationRepo := repository.NewFirestoreConversationRepository(firestoreClient)
	typingRepo := repository.NewFirestoreTypingRepository(firestoreClient)
	presenceRepo := repository.NewFirestorePresenceRepository(firestoreClient)

	messagingUseCase := usecase.NewMessagingUseCase(messageRepo, conversationRepo, cfg.MessagePageSize)
	typingUseCase := usecase.NewTypingUseCase(typingRepo, cfg.TypingIdleTimeout, cfg.TypingCoalesce, cfg.TypingStaleAfter)
	defer typingUseCase.Shutdown()
	presenceUseCase := usecase.NewPresenceUseCase(presenceRepo, cfg.PresenceStaleAfter)
	attachmentUseCase := usecase.NewAttachmentUseCase(storageClient, cfg.MaxAttachmentSize)

	wsManager := websocket.NewManager()
	wsManager.Start(ctx)

	handler.Setup(messagingUseCase, typingUseCase, presenceUseCase, attachmentUseCase, wsManager)

	e := echo.New()

	e.Use(echomiddleware.Logger())
	e.Use(echomiddleware.Recover())
	e.Use(echomiddleware.CORS())

	e.Validator = api.NewValidator()

	sessionVerifier := firebase.NewAuthClient(authClient)
	authMiddleware := apimiddleware.NewAuthMiddleware(sessionVerifier)

	router.Setup(e, authMiddleware)

	log.Printf("Starting messaging sync gateway on port %s", cfg.ServerPort)
	if err := e.Start(":" + cfg.ServerPort); err != nil {
		log.Fatalf("Server stopped: %v", err)
	}
}
