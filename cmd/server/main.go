package main

import (
	"flag"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"bianzi/internal/httpapi"
	"bianzi/internal/llm"
	"bianzi/internal/service"
	"bianzi/internal/store"
	"bianzi/internal/wordbank"
)

func main() {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("load .env failed: %v", err)
	}

	addr := resolveListenAddr()
	storeEngine := strings.ToLower(envOrDefault("BIANZI_STORE", store.EngineSQLite))
	dataFile := envOrDefault("BIANZI_DATA_FILE", defaultDataFile(storeEngine))

	st, err := store.NewByEngine(storeEngine, dataFile)
	if err != nil {
		log.Fatalf("init store failed: %v", err)
	}
	if closer, ok := st.(io.Closer); ok {
		defer func() {
			if err := closer.Close(); err != nil {
				log.Printf("store close failed: %v", err)
			}
		}()
	}

	banks := wordbank.NewLoader(envOrDefault("BIANZI_WORDBANK_DIR", "data/wordbank"), st)
	svc := service.New(st, banks)
	if llmClient := initLLMClientFromEnv(); llmClient != nil {
		svc.SetLLMClient(llmClient)
		log.Printf("llm integration enabled")
	} else {
		log.Printf("llm integration disabled, using bundled word banks only")
	}
	handler := httpapi.NewHandler(svc)
	router := httpapi.NewRouter(handler)

	server := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	log.Printf("bianzi backend listening on %s", addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("server failed: %v", err)
	}
}

func resolveListenAddr() string {
	defaultHost, defaultPort := parseListenAddr(envOrDefault("BIANZI_ADDR", ":8080"))
	if defaultPort <= 0 {
		defaultPort = 8080
	}

	defaultHost = strings.TrimSpace(envOrDefault("BIANZI_HOST", defaultHost))
	defaultPort = parseEnvInt("BIANZI_PORT", defaultPort)

	host := flag.String("host", defaultHost, "server listen host, e.g. 0.0.0.0")
	port := flag.Int("port", defaultPort, "server listen port, e.g. 8080")
	flag.Parse()

	return joinListenAddr(strings.TrimSpace(*host), *port)
}

func parseListenAddr(addr string) (string, int) {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return "", 0
	}
	if strings.HasPrefix(addr, ":") {
		return "", parseEnvIntValue(strings.TrimPrefix(addr, ":"), 0)
	}
	if host, port, err := net.SplitHostPort(addr); err == nil {
		return host, parseEnvIntValue(port, 0)
	}
	if portOnly := parseEnvIntValue(addr, 0); portOnly > 0 {
		return "", portOnly
	}
	return addr, 0
}

func joinListenAddr(host string, port int) string {
	if port <= 0 {
		port = 8080
	}
	if host == "" {
		return fmt.Sprintf(":%d", port)
	}
	return net.JoinHostPort(host, strconv.Itoa(port))
}

func defaultDataFile(storeEngine string) string {
	switch storeEngine {
	case store.EngineJSON:
		return "data/bianzi.json"
	default:
		return "data/bianzi.db"
	}
}

func envOrDefault(key string, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}

func initLLMClientFromEnv() *llm.Client {
	apiKey := strings.TrimSpace(os.Getenv("BIANZI_DASHSCOPE_API_KEY"))
	if apiKey == "" {
		log.Printf("llm key missing: BIANZI_DASHSCOPE_API_KEY is empty")
		return nil
	}

	cfg := llm.Config{
		BaseURL:             envOrDefault("BIANZI_LLM_BASE_URL", "https://dashscope.aliyuncs.com"),
		APIKey:              apiKey,
		ChatModel:           envOrDefault("BIANZI_LLM_MODEL", "qwen-plus"),
		AppID:               envOrDefault("BIANZI_LLM_APP_ID", "4"),
		PlatformID:          envOrDefault("BIANZI_LLM_PLATFORM_ID", "5"),
		Timeout:             time.Duration(parseEnvInt("BIANZI_LLM_TIMEOUT_SECONDS", 20)) * time.Second,
		ImageBaseURL:        envOrDefault("BIANZI_IMAGE_API_BASE_URL", ""),
		ImageAPIKey:         firstNonEmpty(os.Getenv("BIANZI_IMAGE_API_KEY"), apiKey),
		ImageModel:          envOrDefault("BIANZI_IMAGE_MODEL", "wan2.6-image"),
		ImageResponseFormat: envOrDefault("BIANZI_IMAGE_RESPONSE_FORMAT", "url"),
		VoiceBaseURL:        envOrDefault("BIANZI_TTS_API_BASE_URL", ""),
		VoiceAPIKey:         firstNonEmpty(os.Getenv("BIANZI_TTS_API_KEY"), apiKey),
		VoiceID:             envOrDefault("BIANZI_TTS_VOICE_ID", "Cherry"),
		VoiceModelID:        envOrDefault("BIANZI_TTS_MODEL_ID", "qwen3-tts-flash"),
		VoiceLangCode:       envOrDefault("BIANZI_TTS_LANGUAGE_CODE", "Chinese"),
		VoiceFormat:         envOrDefault("BIANZI_TTS_OUTPUT_FORMAT", "wav"),
		TTSProfilePath:      envOrDefault("BIANZI_TTS_PROFILE_FILE", "config/tts_voice_profiles.json"),
		COSSecretID:         os.Getenv("BIANZI_COS_SECRET_ID"),
		COSSecretKey:        os.Getenv("BIANZI_COS_SECRET_KEY"),
		COSRegion:           envOrDefault("BIANZI_COS_REGION", "ap-hongkong"),
		COSBucketName:       os.Getenv("BIANZI_COS_BUCKET_NAME"),
		COSPublicDomain:     envOrDefault("BIANZI_COS_PUBLIC_DOMAIN", ""),
	}
	log.Printf(
		"llm init config: base=%s model=%s timeout=%s key_meta={%s} image_base=%s voice_base=%s",
		cfg.BaseURL,
		cfg.ChatModel,
		cfg.Timeout.String(),
		safeKeyMeta(cfg.APIKey),
		cfg.ImageBaseURL,
		cfg.VoiceBaseURL,
	)

	client, err := llm.NewClient(cfg)
	if err != nil {
		log.Printf("init llm client failed: %v", err)
		return nil
	}
	return client
}

func parseEnvInt(key string, fallback int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	return parseEnvIntValue(raw, fallback)
}

func parseEnvIntValue(raw string, fallback int) int {
	value, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return fallback
	}
	return value
}

func safeKeyMeta(key string) string {
	trimmed := strings.TrimSpace(key)
	if trimmed == "" {
		return "empty=true"
	}
	hasQuotes := (strings.HasPrefix(trimmed, "\"") && strings.HasSuffix(trimmed, "\"")) ||
		(strings.HasPrefix(trimmed, "'") && strings.HasSuffix(trimmed, "'"))
	return fmt.Sprintf(
		"empty=false,len=%d,starts_with_sk=%t,has_quotes=%t,has_whitespace=%t",
		len(trimmed),
		strings.HasPrefix(trimmed, "sk-"),
		hasQuotes,
		strings.Contains(trimmed, " "),
	)
}
