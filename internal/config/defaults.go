package config

func Defaults() *Config {
	return &Config{
		General: GeneralConfig{
			LogLevel:              "info",
			MaxConcurrentMessages: 5,
			BusBufferSize:         100,
		},
		Backend: BackendConfig{
			URL: "http://127.0.0.1:8000/query",
		},
		Identity: IdentityConfig{
			AuthorityHost: "https://login.microsoftonline.com",
			GraphScope:    "https://graph.microsoft.com/.default",
			BotScope:      "https://api.botframework.com/.default",
		},
		Attachments: AttachmentsConfig{
			MaxSizeBytes: 50 * 1024 * 1024,
		},
		Timeouts: TimeoutsConfig{
			TokenSeconds:      15,
			DownloadSeconds:   60,
			ExtractionSeconds: 30,
			BackendSeconds:    120,
			ReplySeconds:      15,
		},
		Channels: ChannelsConfig{
			Bot: BotConfig{
				Enabled:       true,
				Host:          "0.0.0.0",
				Port:          3978,
				Path:          "/api/messages",
				ConnectorAuth: true,
			},
			Telegram: TelegramConfig{
				Enabled: false,
			},
			CLI: CLIConfig{
				Enabled: false,
			},
		},
		Audit: AuditConfig{
			Enabled: false,
			DBPath:  "~/.relaybot/audit.db",
		},
		Metrics: MetricsConfig{
			Enabled:  false,
			Endpoint: "/metrics",
		},
	}
}
