package config

// Default returns the canonical runtime configuration used when no file is present.
func Default() Config {
	return Config{
		Listener: ListenerConfig{Backend: "auto"},
		Worker:   WorkerConfig{CancelGraceMS: 2000},
		Audio: AudioConfig{
			Input:    "default",
			Fallback: "default",
			Format:   "flac",
		},
		Processing: ProcessingConfig{
			BaseURL:   "https://api.openai.com/v1",
			APIKeyEnv: "OPENAI_API_KEY",
			STTModel:  "whisper-1",
			LLMModel:  "gpt-4o-mini",
			TimeoutMS: 60000,
		},
		Output: OutputConfig{
			PasteDelay: defaultPasteDelay,
		},
		Instructions: InstructionsConfig{Watch: true},
		Feed:         FeedConfig{Addr: "127.0.0.1:7077"},
		History:      HistoryConfig{Enable: true},
		Log:          LogConfig{Level: "info"},
	}
}
