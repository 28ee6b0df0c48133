package config

import (
	"strconv"

	"chainsyncd/internal/syncerrors"
)

// Validate enforces the startup invariants of spec.md §7: missing DB
// credentials or no configured peers (when the nodes table cannot be
// trusted yet, e.g. first boot) is a fatal ConfigError.
func (c *Config) Validate(hasConfiguredPeers bool) error {
	if c.DB.Host == "" || c.DB.Database == "" || c.DB.Username == "" {
		return syncerrors.New(syncerrors.KindConfig, "missing database credentials (DB_HOST/DB_DATABASE/DB_USERNAME)", nil)
	}
	if !hasConfiguredPeers && len(c.NetworkNodes) == 0 {
		return syncerrors.New(syncerrors.KindConfig, "no peers configured: nodes table empty and NETWORK_NODES unset", nil)
	}
	return nil
}

// DSN renders the MySQL data source name for github.com/go-sql-driver/mysql.
func (c *Config) DSN() string {
	port := c.DB.Port
	if port == 0 {
		port = 3306
	}
	return c.DB.Username + ":" + c.DB.Password + "@tcp(" + c.DB.Host + ":" + strconv.Itoa(port) + ")/" + c.DB.Database + "?parseTime=true"
}
