package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	flags "github.com/jessevdk/go-flags"
)

// fileConfig is the layout of the --config file. Every key is optional.
type fileConfig struct {
	Listen struct {
		Bind        string  `toml:"bind"`
		WS          string  `toml:"ws"`
		Interval    string  `toml:"interval"`
		Rate        float64 `toml:"rate"`
		Burst       int     `toml:"burst"`
		StatusCache string  `toml:"status_cache"`
		AllowOrigin string  `toml:"allow_origin"`
	} `toml:"listen"`

	Connect struct {
		URL          string `toml:"url"`
		WS           string `toml:"ws"`
		Store        string `toml:"store"`
		DataDir      string `toml:"datadir"`
		OutboxLimit  int    `toml:"outbox_limit"`
		ConnectData  string `toml:"connect_data"`
		Timeout      string `toml:"timeout"`
		PendingLimit int    `toml:"pending_limit"`
		MaxAttempts  int    `toml:"max_attempts"`
	} `toml:"connect"`
}

// flagSet reports whether the option was given on the command line.
type flagSet func(command, long string) bool

func parserFlagSet(parser *flags.Parser) flagSet {
	return func(command, long string) bool {
		cmd := parser.Command.Find(command)
		if cmd == nil {
			return false
		}
		opt := cmd.FindOptionByLongName(long)
		return opt != nil && opt.IsSet() && !opt.IsSetDefault()
	}
}

func loadConfig(path string, parser *flags.Parser, options *Options) error {
	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return err
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, k := range undecoded {
			keys = append(keys, k.String())
		}
		return fmt.Errorf("unknown config keys: %s", strings.Join(keys, ", "))
	}
	return applyConfig(raw, meta, parserFlagSet(parser), options)
}

// applyConfig copies the values defined in the config file into options,
// except where a flag was given explicitly.
func applyConfig(raw fileConfig, meta toml.MetaData, isSet flagSet, options *Options) error {
	use := func(section, key, long string) bool {
		return meta.IsDefined(section, key) && !isSet(section, long)
	}
	duration := func(section, key, value string, dst *time.Duration) error {
		d, err := time.ParseDuration(strings.TrimSpace(value))
		if err != nil {
			return fmt.Errorf("parse %s.%s: %w", section, key, err)
		}
		*dst = d
		return nil
	}
	choice := func(section, key, value string, dst *string, choices ...string) error {
		for _, c := range choices {
			if value == c {
				*dst = value
				return nil
			}
		}
		return fmt.Errorf("invalid %s.%s: %q (expected one of: %s)", section, key, value, strings.Join(choices, ", "))
	}

	l := &options.Listen
	if use("listen", "bind", "bind") {
		l.Bind = strings.TrimSpace(raw.Listen.Bind)
	}
	if use("listen", "ws", "ws") {
		if err := choice("listen", "ws", raw.Listen.WS, &l.WS, "gorilla", "gobwas"); err != nil {
			return err
		}
	}
	if use("listen", "interval", "interval") {
		if err := duration("listen", "interval", raw.Listen.Interval, &l.Interval); err != nil {
			return err
		}
	}
	if use("listen", "rate", "rate") {
		l.Rate = raw.Listen.Rate
	}
	if use("listen", "burst", "burst") {
		l.Burst = raw.Listen.Burst
	}
	if use("listen", "status_cache", "status-cache") {
		if err := duration("listen", "status_cache", raw.Listen.StatusCache, &l.StatusCache); err != nil {
			return err
		}
	}
	if use("listen", "allow_origin", "allow-origin") {
		l.AllowOrigin = raw.Listen.AllowOrigin
	}

	c := &options.Connect
	if meta.IsDefined("connect", "url") && c.Args.URL == "" {
		c.Args.URL = strings.TrimSpace(raw.Connect.URL)
	}
	if use("connect", "ws", "ws") {
		if err := choice("connect", "ws", raw.Connect.WS, &c.WS, "gorilla", "gobwas"); err != nil {
			return err
		}
	}
	if use("connect", "store", "store") {
		if err := choice("connect", "store", raw.Connect.Store, &c.Store, "memory", "persist"); err != nil {
			return err
		}
	}
	if use("connect", "datadir", "datadir") {
		c.DataDir = raw.Connect.DataDir
	}
	if use("connect", "outbox_limit", "outbox-limit") {
		c.OutboxLimit = raw.Connect.OutboxLimit
	}
	if use("connect", "connect_data", "connect-data") {
		c.ConnectData = raw.Connect.ConnectData
	}
	if use("connect", "timeout", "timeout") {
		if err := duration("connect", "timeout", raw.Connect.Timeout, &c.Timeout); err != nil {
			return err
		}
	}
	if use("connect", "pending_limit", "pending-limit") {
		c.PendingLimit = raw.Connect.PendingLimit
	}
	if use("connect", "max_attempts", "max-attempts") {
		c.MaxAttempts = raw.Connect.MaxAttempts
	}
	return nil
}
