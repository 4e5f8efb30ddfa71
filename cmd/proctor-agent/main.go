package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/kdimtricp/vproctor/internal/agentapi"
	"github.com/kdimtricp/vproctor/internal/ai"
	"github.com/kdimtricp/vproctor/internal/browserhost"
	"github.com/kdimtricp/vproctor/internal/collector"
	"github.com/kdimtricp/vproctor/internal/debugoverlay"
	"github.com/kdimtricp/vproctor/internal/onboarding"
	"github.com/kdimtricp/vproctor/internal/recorder"
	"github.com/kdimtricp/vproctor/internal/scanner"
	"github.com/kdimtricp/vproctor/internal/session"
)

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getbool(key string) bool {
	v, err := strconv.ParseBool(os.Getenv(key))
	return err == nil && v
}

func main() {
	examURL := os.Getenv("PROCTOR_EXAM_URL")
	if examURL == "" {
		log.Fatal("PROCTOR_EXAM_URL is required")
	}
	assessmentID := os.Getenv("PROCTOR_ASSESSMENT_ID")
	userID := os.Getenv("PROCTOR_USER_ID")
	if assessmentID == "" || userID == "" {
		log.Fatal("PROCTOR_ASSESSMENT_ID and PROCTOR_USER_ID are required")
	}

	backendURL := getenv("PROCTOR_BACKEND_URL", "http://localhost:8080")
	agentAddr := getenv("AGENT_ADDR", "127.0.0.1:7878")
	debug := debugoverlay.Enabled(getbool("PROCTOR_DEBUG"), examURL)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	aiConfig := ai.NewConfig()
	aiConfig.GoogleVisionKey = os.Getenv("GOOGLE_VISION_API_KEY")
	aiConfig.OpenAIAPIKey = os.Getenv("OPENAI_API_KEY")

	model, err := ai.NewFaceModel(aiConfig)
	if err != nil {
		log.Fatal("Failed to initialize face detection:", err)
	}
	engine := ai.NewEngine(model, aiConfig)
	go func() {
		if err := engine.LoadModel(ctx); err != nil {
			log.Printf("Warning: face model preload failed, will retry on first capture: %v", err)
		}
	}()
	matcher := ai.NewIdentityMatcher(aiConfig)

	signatures := scanner.DefaultSignatures()
	if path := os.Getenv("PROCTOR_SIGNATURES"); path != "" {
		signatures, err = scanner.LoadSignatures(path)
		if err != nil {
			log.Fatal("Failed to load signatures:", err)
		}
		log.Printf("Loaded signature overlay from %s", path)
	}

	hostConfig := browserhost.DefaultConfig(examURL)
	hostConfig.ExecPath = os.Getenv("CHROME_PATH")
	hostConfig.UserDataDir = os.Getenv("CHROME_PROFILE")
	hostConfig.Kiosk = !getbool("PROCTOR_NO_KIOSK")

	host, err := browserhost.Launch(ctx, hostConfig)
	if err != nil {
		log.Fatal("Failed to launch browser:", err)
	}
	defer host.Close()

	mediaConfig := browserhost.DefaultMediaConfig()
	mediaConfig.Camera.InputFormat = getenv("CAMERA_FORMAT", mediaConfig.Camera.InputFormat)
	mediaConfig.Camera.Device = getenv("CAMERA_DEVICE", mediaConfig.Camera.Device)
	mediaConfig.Screen.InputFormat = getenv("SCREEN_FORMAT", mediaConfig.Screen.InputFormat)
	mediaConfig.Screen.Device = getenv("SCREEN_DEVICE", mediaConfig.Screen.Device)
	devices := browserhost.NewMediaDevices(mediaConfig)

	client := collector.NewClient(collector.NewConfig(backendURL, os.Getenv("PROCTOR_TOKEN")))
	pingCtx, cancelPing := context.WithTimeout(ctx, 5*time.Second)
	if err := client.Ping(pingCtx); err != nil {
		log.Printf("Warning: collector %s unreachable, events stay local until it answers: %v", backendURL, err)
	}
	cancelPing()

	rec := recorder.New(client, recorder.DefaultConfig(assessmentID, userID))

	sessionConfig := session.DefaultConfig()
	if debug {
		sessionConfig.Monitor.Interval = time.Second
	}
	sess := session.New(host, rec, engine, matcher, sessionConfig)

	onboardingConfig := onboarding.DefaultConfig()
	onboardingConfig.BlockHighRisk = getbool("PROCTOR_BLOCK_HIGH_RISK")
	ctrl := onboarding.NewController(devices, host, engine, sess.Start, onboardingConfig).
		WithScanner(scanner.New(host, signatures, scanner.DefaultConfig())).
		WithEmit(rec.Emit)

	go func() {
		if _, err := ctrl.ScanEnvironment(ctx); err != nil {
			log.Printf("Initial environment scan failed: %v", err)
		}
	}()

	srv := &http.Server{
		Addr: agentAddr,
		Handler: agentapi.NewRouter(&agentapi.Agent{
			Onboarding: ctrl,
			Session:    sess,
			Overlay:    debugoverlay.New(rec, host, debug),
		}),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Printf("Agent listening on %s", agentAddr)
		log.Printf("Assessment %s, user %s, collector %s", assessmentID, userID, backendURL)
		if debug {
			log.Printf("Debug overlay enabled at http://%s/debug", agentAddr)
		}
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal(err)
		}
	}()

	<-ctx.Done()
	log.Printf("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	ctrl.Abandon()
	if err := sess.Stop(shutdownCtx); err != nil {
		log.Printf("Session stop: %v", err)
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Agent server shutdown: %v", err)
	}
}
