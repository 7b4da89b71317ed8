package mongoutil

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"PCounter/tools/errs"

	"go.mongodb.org/mongo-driver/mongo"
)

const (
	defaultMaxPoolSize = 100
	defaultMaxRetry    = 3
)

// ValidateAndSetDefaults 校验必填项，补默认连接池和重试次数；未给 Uri 时由 Address 拼出
func (c *Config) ValidateAndSetDefaults() error {
	switch {
	case c.Uri == "" && len(c.Address) == 0:
		return errs.ErrArgs.WrapMsg("mongo uri or address required")
	case c.Database == "":
		return errs.ErrArgs.WrapMsg("mongo database required")
	}
	if c.MaxPoolSize <= 0 {
		c.MaxPoolSize = defaultMaxPoolSize
	}
	if c.MaxRetry <= 0 {
		c.MaxRetry = defaultMaxRetry
	}
	if c.Uri != "" {
		return nil
	}
	authSource := c.AuthSource
	if authSource == "" {
		authSource = c.Database
	}
	c.Uri = buildMongoURI(c, authSource)
	return nil
}

func buildMongoURI(config *Config, authSource string) string {
	credentials := ""
	if config.Username != "" && config.Password != "" {
		credentials = fmt.Sprintf("%s:%s@", config.Username, config.Password)
	}

	return fmt.Sprintf(
		"mongodb://%s%s/%s?authSource=%s&maxPoolSize=%d",
		credentials,
		strings.Join(config.Address, ","),
		config.Database,
		authSource,
		config.MaxPoolSize,
	)
}

// shouldRetry determines whether an error should trigger a retry.
// 13 Unauthorized / 18 AuthenticationFailed are never retried.
func shouldRetry(ctx context.Context, err error) bool {
	select {
	case <-ctx.Done():
		return false
	default:
		var cmdErr mongo.CommandError
		if errors.As(err, &cmdErr) {
			return cmdErr.Code != 13 && cmdErr.Code != 18
		}
		return true
	}
}
