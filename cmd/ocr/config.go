// config.go - Reading and changing the configuration

package main

import (
	"encoding/json"
	"fmt"

	"github.com/bosocmputer/glm_ocr_desk/configs"
	apperrors "github.com/bosocmputer/glm_ocr_desk/internal/errors"
	"github.com/spf13/cobra"
)

func (c *cli) configCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show or change settings",
	}
	cmd.AddCommand(c.configGetCommand(), c.configSetCommand(), c.configResetCommand(), c.configPathCommand())
	return cmd
}

// loadStore opens only the configuration; no model or history is touched.
func (c *cli) loadStore() (*configs.Store, error) {
	configs.LoadEnv()
	store, warning, err := configs.Load(c.configPath)
	if err != nil {
		return nil, err
	}
	if warning != nil {
		fmt.Fprintf(c.stderr, "Warning: %v\n", warning)
	}
	return store, nil
}

func (c *cli) configGetCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "get [path]",
		Short: "Print the whole configuration or one dotted path",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := c.loadStore()
			if err != nil {
				return err
			}
			if len(args) == 0 {
				return c.printJSON(store.AllSettings())
			}
			value := store.Get(args[0], nil)
			if value == nil {
				return apperrors.NewInvalidArgumentError("no configuration value at " + args[0])
			}
			return c.printJSON(value)
		},
	}
}

func (c *cli) configSetCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "set <path> <value>",
		Short: "Set a dotted path and save the configuration",
		Long:  "Set a dotted path and save. The value is parsed as JSON when possible (numbers, booleans, lists), otherwise taken as a string.",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := c.loadStore()
			if err != nil {
				return err
			}
			if err := store.Set(args[0], parseValue(args[1])); err != nil {
				return err
			}
			if _, err := store.Settings(); err != nil {
				return err
			}
			if err := store.Save(); err != nil {
				return err
			}
			fmt.Fprintf(c.stderr, "Saved %s to %s\n", args[0], store.Path())
			return nil
		},
	}
}

func (c *cli) configResetCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "reset",
		Short: "Restore the defaults and save them",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := c.loadStore()
			if err != nil {
				return err
			}
			store.Reset()
			return store.Save()
		},
	}
}

func (c *cli) configPathCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Print the configuration file location",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := c.loadStore()
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(c.stdout, store.Path())
			return err
		},
	}
}

func parseValue(s string) any {
	var v any
	if err := json.Unmarshal([]byte(s), &v); err == nil {
		return v
	}
	return s
}
