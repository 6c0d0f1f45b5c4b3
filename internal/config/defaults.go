package config

func Defaults() *Config {
	return &Config{
		General: GeneralConfig{
			LogLevel: "info",
		},
		Registry: RegistryConfig{
			Driver: "json",
			Path:   "accounts/accounts.json",
		},
		Routes: RoutesConfig{
			ReloadEverySeconds: 5,
			SyncEverySeconds:   30,
			Watch:              false,
		},
		Defaults: DefaultsConfig{
			Mode: "FORWARD",
		},
		Telegram: TelegramConfig{
			PollTimeout: 30,
		},
		Commands: CommandsConfig{
			Enabled: true,
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Addr:    "127.0.0.1:9464",
		},
	}
}
