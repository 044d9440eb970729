package main

import (
	"crypto/tls"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/MicahParks/keyfunc"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"fieldtask-api/api"
	"fieldtask-api/audit"
	"fieldtask-api/domain"
	"fieldtask-api/notify"
	"fieldtask-api/storage"
	"fieldtask-api/verifier"
)

func main() {
	if dbg, err := strconv.ParseBool(os.Getenv("DEBUG")); err == nil && dbg {
		log.SetLevel(log.DebugLevel)
	}
	logger := log.New()
	logger.SetLevel(log.GetLevel())

	connStr := os.Getenv("STORAGE_CONNECTION_STRING")
	tasksTableName := os.Getenv("TASKS_TABLE")
	proofContainer := os.Getenv("PROOF_CONTAINER")
	if connStr == "" || tasksTableName == "" || proofContainer == "" {
		log.Fatal("missing storage config")
	}
	store, err := storage.New(connStr, tasksTableName)
	if err != nil {
		log.Fatalf("storage: %v", err)
	}
	blobs, err := storage.NewBlobStore(connStr, proofContainer)
	if err != nil {
		log.Fatalf("blob storage: %v", err)
	}

	var auditor *audit.Recorder
	if queueName := os.Getenv("AUDIT_QUEUE"); queueName != "" {
		ledger, err := storage.NewLedger(connStr, queueName)
		if err != nil {
			log.Fatalf("audit ledger: %v", err)
		}
		auditor = audit.NewRecorder(ledger, logger)
	} else {
		logger.Warn("AUDIT_QUEUE not set, lifecycle events will not be recorded")
		auditor = audit.NewRecorder(nil, logger)
	}

	redisConn := os.Getenv("REDIS_CONNECTION_STRING")
	if redisConn == "" {
		log.Fatal("missing redis config")
	}
	redisOpts, err := redis.ParseURL(redisConn)
	if err != nil {
		parts := strings.Split(redisConn, ",")
		redisOpts = &redis.Options{Addr: parts[0]}
		for _, p := range parts[1:] {
			kv := strings.SplitN(p, "=", 2)
			if len(kv) != 2 {
				continue
			}
			switch strings.ToLower(kv[0]) {
			case "password":
				redisOpts.Password = kv[1]
			case "ssl":
				if strings.ToLower(kv[1]) == "true" {
					redisOpts.TLSConfig = &tls.Config{}
				}
			}
		}
	}
	rc := redis.NewClient(redisOpts)

	dedupeTTL := 24 * time.Hour
	if v := os.Getenv("DEDUPER_TTL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			log.Fatalf("invalid DEDUPER_TTL: %v", err)
		}
		dedupeTTL = d
	}
	deduper := api.NewRedisDeduper(rc, dedupeTTL)

	cacheTTL := 5 * time.Minute
	if v := os.Getenv("CACHE_TTL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d < 0 {
			log.Fatalf("invalid CACHE_TTL: %v", err)
		}
		cacheTTL = d
	}
	repo := storage.NewCache(store, rc, cacheTTL)

	verifierURL := os.Getenv("VERIFIER_URL")
	if verifierURL == "" {
		log.Fatal("missing verifier config")
	}
	verifyTimeout := domain.DefaultVerifyTimeout
	if v := os.Getenv("VERIFIER_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			log.Fatalf("invalid VERIFIER_TIMEOUT: %v", err)
		}
		verifyTimeout = d
	}
	verifierClient := verifier.New(verifierURL, os.Getenv("VERIFIER_API_KEY"), verifyTimeout, logger)
	verification := domain.NewVerificationOrchestrator(verifierClient, verifyTimeout, logger)

	pushEndpoint := os.Getenv("PUSH_ENDPOINT")
	if pushEndpoint == "" {
		logger.Warn("PUSH_ENDPOINT not set, push notifications disabled")
	}
	notifier := notify.New(pushEndpoint, os.Getenv("PUSH_API_KEY"), logger)

	testMode := os.Getenv("AUTH_TEST_MODE") == "1"
	var auth *api.Auth
	if testMode {
		auth = api.NewAuth(nil, "", "")
	} else {
		jwtAudience := os.Getenv("AUTH_AUDIENCE")
		authDomain := os.Getenv("AUTH_DOMAIN")
		if jwtAudience == "" || authDomain == "" {
			log.Fatal("missing auth config")
		}
		jwksURL := fmt.Sprintf("https://%s/.well-known/jwks.json", authDomain)
		jwks, err := keyfunc.Get(jwksURL, keyfunc.Options{})
		if err != nil {
			log.Fatalf("jwks: %v", err)
		}
		auth = api.NewAuth(jwks, jwtAudience, "https://"+authDomain+"/")
	}

	effects := api.NewEffects(logger)
	defer effects.Shutdown()

	lifecycle := domain.NewLifecycle(repo, domain.NewProofCapture(blobs), verification, auditor, notifier, effects, logger)

	e := echo.New()
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization, "Idempotency-Key"},
	}))
	e.Use(api.GzipRequestMiddleware())

	api.Register(e, lifecycle, auth, deduper, logger)

	listenAddr := ":8080"
	if val, ok := os.LookupEnv("FUNCTIONS_CUSTOMHANDLER_PORT"); ok {
		listenAddr = ":" + val
	}

	e.Logger.Fatal(e.Start(listenAddr))
}
