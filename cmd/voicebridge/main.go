// voicebridge: real-time telephony audio bridge
// Terminates AudioSocket TCP call legs and connects them to an AI voice
// backend, cloud realtime or a local STT/LLM/TTS pipeline.
package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/teslashibe/go-voicebridge/internal/config"
	"github.com/teslashibe/go-voicebridge/internal/log"
	"github.com/teslashibe/go-voicebridge/pkg/agentcfg"
	"github.com/teslashibe/go-voicebridge/pkg/audioio"
	"github.com/teslashibe/go-voicebridge/pkg/backend"
	"github.com/teslashibe/go-voicebridge/pkg/backend/localpipe"
	"github.com/teslashibe/go-voicebridge/pkg/backend/openairt"
	"github.com/teslashibe/go-voicebridge/pkg/calllog"
	"github.com/teslashibe/go-voicebridge/pkg/llm"
	"github.com/teslashibe/go-voicebridge/pkg/session"
	"github.com/teslashibe/go-voicebridge/pkg/stt"
	"github.com/teslashibe/go-voicebridge/pkg/tools"
	"github.com/teslashibe/go-voicebridge/pkg/tts"
	"github.com/teslashibe/go-voicebridge/pkg/web"
)

var (
	version    = "1.0.0"
	listenAddr = flag.String("listen", ":9092", "Telephony TCP listen address")
	apiAddr    = flag.String("api", ":8080", "Operational HTTP listen address")
	logLevel   = flag.String("log-level", "info", "Log level (debug, info, warn, error)")
)

func main() {
	flag.Parse()

	log.Init(config.Env("LOG_LEVEL", *logLevel))
	logger := log.With("component", "main")

	fmt.Println()
	fmt.Println("voicebridge v" + version)
	fmt.Println()

	wireRate := config.EnvInt("WIRE_SAMPLE_RATE", session.DefaultWireRate)
	// 20ms of mono PCM16 per outbound frame.
	frameBytes := wireRate * 2 / 50

	registry, err := buildRegistry()
	if err != nil {
		logger.Error("tool registry failed", "error", err)
		os.Exit(1)
	}
	dispatcher := tools.NewDispatcher(registry)

	resolver := buildResolver()
	sink := buildSink()
	defer sink.Close()

	synth := buildTTS("")
	factory := buildFactory(registry, synth, wireRate, frameBytes)

	manager, err := session.NewManager(
		session.WithResolver(resolver),
		session.WithFactory(factory),
		session.WithDispatcher(dispatcher),
		session.WithSink(sink),
		session.WithFallback(fallbackSynth(synth, wireRate)),
		session.WithMaxSessions(config.EnvInt("MAX_SESSIONS", session.DefaultMaxSessions)),
		session.WithIdleTimeout(config.EnvDuration("IDLE_TIMEOUT", session.DefaultIdleTimeout)),
		session.WithWireRate(wireRate),
		session.WithLogger(log.L()),
	)
	if err != nil {
		logger.Error("session manager failed", "error", err)
		os.Exit(1)
	}

	ln, err := net.Listen("tcp", *listenAddr)
	if err != nil {
		logger.Error("telephony listener failed", "addr", *listenAddr, "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	serveDone := make(chan error, 1)
	go func() {
		serveDone <- manager.Serve(ctx, ln)
	}()

	api := web.NewServer(manager, *apiAddr)
	go func() {
		if err := api.Start(); err != nil {
			logger.Error("api server failed", "error", err)
		}
	}()

	logger.Info("bridge up",
		"telephony", *listenAddr,
		"api", *apiAddr,
		"wire_rate", wireRate,
		"tools", registry.Names(),
	)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
		logger.Info("shutting down")
	case err := <-serveDone:
		if err != nil {
			logger.Error("telephony server failed", "error", err)
		}
	}

	cancel()
	api.Shutdown()

	select {
	case <-serveDone:
	case <-time.After(10 * time.Second):
		logger.Warn("sessions did not drain in time")
	}
	logger.Info("goodbye")
}

// buildRegistry assembles the built-in tools offered to agents.
func buildRegistry() (*tools.Registry, error) {
	return tools.NewRegistry(
		tools.Tool{
			Name:        "get_time",
			Description: "Get the current date and time",
			Handler: func(ctx context.Context, args map[string]interface{}) (string, error) {
				now := time.Now()
				return fmt.Sprintf(`{"time":%q,"weekday":%q}`,
					now.Format(time.RFC3339), now.Weekday()), nil
			},
		},
	)
}

// buildResolver picks the agent config source: an HTTP control plane
// when AGENT_API_URL is set, otherwise a static agent from environment.
func buildResolver() agentcfg.Resolver {
	if base := os.Getenv("AGENT_API_URL"); base != "" {
		return agentcfg.NewHTTPResolver(base,
			agentcfg.WithToken(os.Getenv("AGENT_API_TOKEN")),
		)
	}

	provider := config.Env("BACKEND_PROVIDER", backend.ProviderOpenAIRealtime)
	return &agentcfg.Static{Config: agentcfg.AgentConfig{
		AgentID:         "default",
		Provider:        provider,
		Model:           os.Getenv("MODEL"),
		Voice:           config.Env("VOICE", "alloy"),
		SystemPrompt:    config.Env("SYSTEM_PROMPT", "You are a friendly phone assistant. Keep answers short."),
		Greeting:        os.Getenv("GREETING"),
		FallbackMessage: config.Env("FALLBACK_MESSAGE", "Sorry, I am having trouble right now. Please call back later."),
	}}
}

// buildSink wires call logging: a webhook when configured, otherwise
// the structured log.
func buildSink() calllog.Sink {
	if url := os.Getenv("CALLLOG_WEBHOOK_URL"); url != "" {
		return calllog.NewWebhookSink(url,
			calllog.WithWebhookToken(os.Getenv("CALLLOG_WEBHOOK_TOKEN")),
		)
	}
	return calllog.NewSlogSink(nil)
}

// buildTTS assembles the synthesis chain for the local pipeline and
// fallback messages: ElevenLabs first when a key is present, OpenAI
// behind it. An empty voice falls back to the environment defaults.
// Preset names resolve to ElevenLabs voice IDs; raw IDs pass through.
func buildTTS(voice string) tts.Provider {
	var providers []tts.Provider

	if key := os.Getenv("ELEVENLABS_API_KEY"); key != "" {
		elevenVoice := voice
		if elevenVoice == "" {
			elevenVoice = config.Env("ELEVENLABS_VOICE", tts.DefaultElevenLabsVoice)
		}
		if p, err := tts.NewElevenLabs(
			tts.WithAPIKey(key),
			tts.WithVoice(tts.ResolveElevenLabsVoice(elevenVoice)),
		); err == nil {
			providers = append(providers, p)
		} else {
			log.Warn("elevenlabs tts unavailable", "error", err)
		}
	}

	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		opts := []tts.Option{tts.WithAPIKey(key)}
		if voice != "" && !tts.IsElevenLabsPreset(voice) {
			opts = append(opts, tts.WithVoice(voice))
		}
		if p, err := tts.NewOpenAI(opts...); err == nil {
			providers = append(providers, p)
		} else {
			log.Warn("openai tts unavailable", "error", err)
		}
	}

	switch len(providers) {
	case 0:
		return nil
	case 1:
		return providers[0]
	default:
		chain, err := tts.NewChain(providers...)
		if err != nil {
			log.Warn("tts chain unavailable", "error", err)
			return providers[0]
		}
		return chain
	}
}

// buildFactory maps a resolved agent config to a backend connector.
func buildFactory(registry *tools.Registry, defaultSynth tts.Provider, wireRate, frameBytes int) session.ConnectorFactory {
	return func(ctx context.Context, agent *agentcfg.AgentConfig) (backend.Connector, error) {
		schemas := registry.Schemas(agent.ToolNames)

		switch agent.Provider {
		case backend.ProviderOpenAIRealtime:
			return openairt.New(
				openairt.WithAPIKey(os.Getenv("OPENAI_API_KEY")),
				openairt.WithModel(agent.Model),
				openairt.WithVoice(agent.Voice),
				openairt.WithInstructions(agent.SystemPrompt),
				openairt.WithTemperature(agent.Temperature),
				openairt.WithToolSchemas(schemas),
				openairt.WithWireRate(wireRate),
				openairt.WithFrameBytes(frameBytes),
				openairt.WithLogger(log.L()),
			)

		case backend.ProviderLocalPipeline:
			if defaultSynth == nil {
				return nil, fmt.Errorf("local pipeline needs a TTS provider key")
			}
			synth := defaultSynth
			if agent.Voice != "" {
				if p := buildTTS(agent.Voice); p != nil {
					synth = p
				}
			}
			whisper, err := stt.NewWhisper(stt.WithAPIKey(os.Getenv("OPENAI_API_KEY")))
			if err != nil {
				return nil, fmt.Errorf("stt: %w", err)
			}
			llmOpts := []llm.Option{
				llm.WithAPIKey(os.Getenv("OPENAI_API_KEY")),
				llm.WithModel(config.Env("LLM_MODEL", "gpt-4o-mini")),
			}
			if base := os.Getenv("LLM_BASE_URL"); base != "" {
				llmOpts = append(llmOpts, llm.WithBaseURL(base))
			}
			chat, err := llm.NewClient(llmOpts...)
			if err != nil {
				return nil, fmt.Errorf("llm: %w", err)
			}
			return localpipe.New(
				localpipe.WithSTT(whisper),
				localpipe.WithLLM(chat),
				localpipe.WithTTS(synth),
				localpipe.WithSystemPrompt(agent.SystemPrompt),
				localpipe.WithGreeting(agent.Greeting),
				localpipe.WithTemperature(agent.Temperature),
				localpipe.WithToolSchemas(schemas),
				localpipe.WithWireRate(wireRate),
				localpipe.WithFrameBytes(frameBytes),
				localpipe.WithLogger(log.L()),
			)

		default:
			return nil, fmt.Errorf("unknown backend provider %q", agent.Provider)
		}
	}
}

// fallbackSynth turns the TTS chain into the session fallback hook,
// resampling down to the wire rate.
func fallbackSynth(synth tts.Provider, wireRate int) session.FallbackSynth {
	if synth == nil {
		return nil
	}
	return func(ctx context.Context, text string) ([]byte, error) {
		result, err := synth.Synthesize(ctx, text)
		if err != nil {
			return nil, err
		}
		rate := result.Format.SampleRate
		if rate <= 0 {
			rate = tts.SampleRateFromEncoding(result.Format.Encoding)
		}
		return audioio.ResampleBytes(result.Audio, rate, wireRate), nil
	}
}
