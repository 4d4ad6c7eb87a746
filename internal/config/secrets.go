package config

import "maps"

const redacted = "***"

// Redacted returns a copy of c that is safe to log.
func (c *Config) Redacted() Config {
	out := *c

	redact(&out.Wallet.PrivateKey)
	redact(&out.Wallet.KeyPassword)
	redact(&out.Wallet.APIKey)
	redact(&out.Wallet.APISecret)
	redact(&out.Wallet.APIPassphrase)
	redact(&out.Postgres.DSN)
	redact(&out.Postgres.Password)
	redact(&out.Redis.Password)
	redact(&out.S3.AccessKey)
	redact(&out.S3.SecretKey)
	redact(&out.Notify.TelegramToken)
	redact(&out.Notify.DiscordWebhookURL)
	redact(&out.Server.Token)

	// Detach reference fields from the original.
	out.Notify.Events = append([]string(nil), c.Notify.Events...)
	out.Server.CORSOrigins = append([]string(nil), c.Server.CORSOrigins...)
	out.Presign.SizeMultipliers = append([]float64(nil), c.Presign.SizeMultipliers...)
	out.Ladder.Params = maps.Clone(c.Ladder.Params)
	return out
}

func redact(s *string) {
	if *s != "" {
		*s = redacted
	}
}
