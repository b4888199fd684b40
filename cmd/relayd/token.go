package main

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/tokmz/relay/pkg/auth"
	"github.com/tokmz/relay/pkg/config"
)

// issueToken 按配置中的密钥签发令牌并输出到 stdout
func issueToken(_ context.Context, cmd *cli.Command) error {
	settings, _, err := config.Load(cmd.String("config"))
	if err != nil {
		return err
	}

	kind := auth.Kind(cmd.String("kind"))
	switch kind {
	case auth.KindAccess, auth.KindRefresh, auth.KindWebsocket:
	default:
		return fmt.Errorf("unknown token kind %q", kind)
	}

	tokens, err := auth.New(settings.Auth.Secret, auth.WithSettings(settings.Auth))
	if err != nil {
		return err
	}
	token, err := tokens.Issue(auth.Claims{
		UserID: cmd.String("user"),
		Roles:  cmd.StringSlice("role"),
	}, kind, cmd.Duration("ttl"))
	if err != nil {
		return err
	}

	_, err = fmt.Fprintln(cmd.Root().Writer, token)
	return err
}

// checkConfig 加载并校验配置
func checkConfig(_ context.Context, cmd *cli.Command) error {
	settings, c, err := config.Load(cmd.String("config"))
	if err != nil {
		return err
	}
	defer c.Close()

	if _, err := auth.New(settings.Auth.Secret, auth.WithSettings(settings.Auth)); err != nil {
		return err
	}
	source := c.ConfigFileUsed()
	if source == "" {
		source = "defaults and environment"
	}
	_, err = fmt.Fprintf(cmd.Root().Writer, "configuration ok (%s)\n", source)
	return err
}
