package main

import (
	"fmt"
	"strings"

	"scribeline/internal/config"
)

// commandContext resolves shared CLI state lazily: the config file is
// only read when a command needs a value the flags did not supply.
type commandContext struct {
	addrFlag   *string
	tokenFlag  *string
	configFlag *string

	cfg *config.Config
}

func newCommandContext(addrFlag, tokenFlag, configFlag *string) *commandContext {
	return &commandContext{
		addrFlag:   addrFlag,
		tokenFlag:  tokenFlag,
		configFlag: configFlag,
	}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	if c.cfg != nil {
		return c.cfg, nil
	}
	cfg, _, _, err := config.Load(c.flagValue(c.configFlag))
	if err != nil {
		return nil, err
	}
	c.cfg = cfg
	return cfg, nil
}

func (c *commandContext) client() (*apiClient, error) {
	addr := c.flagValue(c.addrFlag)
	token := c.flagValue(c.tokenFlag)
	if addr == "" || token == "" {
		cfg, err := c.ensureConfig()
		if err != nil {
			return nil, err
		}
		if addr == "" {
			addr = cfg.Paths.APIBind
		}
		if token == "" {
			token = cfg.Paths.APIToken
		}
	}
	if addr == "" {
		return nil, fmt.Errorf("daemon API address is not configured")
	}
	return newAPIClient(addr, token), nil
}

func (c *commandContext) flagValue(flag *string) string {
	if flag == nil {
		return ""
	}
	return strings.TrimSpace(*flag)
}
