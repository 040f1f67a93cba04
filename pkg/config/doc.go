// Package config loads daemon configuration from the environment.
//
// A .env file in the working directory is applied first when present;
// real environment variables always win. Every knob has a usable default
// so a bare `hexclaw run` starts in a degraded-but-functional mode:
// no Telegram means no operator channel, no REDIS_URL means the response
// cache becomes a no-op, no API keys means the router synthesizes error
// strings instead of calling models.
//
// Validate distinguishes hard misconfiguration (nonsensical numerics,
// a bot token without an allowlisted chat) from absent optional
// subsystems, which merely degrade.
package config
