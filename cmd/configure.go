/*
Copyright © 2023 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"errors"
	"fmt"
	"path/filepath"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/dashcrypt/cryptgen/internal/conf"
	"github.com/dashcrypt/cryptgen/internal/tui"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// configCmd represents the config command
var configCmd = &cobra.Command{
	Use:   "configure",
	Short: "Configure key server profiles",
	Long: `Edit a profile of $HOME/.cryptgen/config in a form, or print the
configuration with --print.

Profile values can be overridden with CRYPTGEN_<FIELD> environment
variables, for example CRYPTGEN_CLIENTSECRET.`,
	RunE: configure,
}

func init() {
	rootCmd.AddCommand(configCmd)

	configCmd.Flags().Bool("print", false, "print the configuration instead of editing it")
	configCmd.Flags().String("format", "yaml", "output format of --print: yaml or toml")
}

func configure(cmd *cobra.Command, args []string) error {
	show, err := cmd.Flags().GetBool("print")
	if err != nil {
		return err
	}
	if show {
		format, err := cmd.Flags().GetString("format")
		if err != nil {
			return err
		}
		out, err := conf.Export(viper.GetViper(), format)
		if err != nil {
			return err
		}
		_, err = cmd.OutOrStdout().Write(out)
		return err
	}

	existing, err := activeProfile()
	if err != nil && !errors.Is(err, conf.ErrUnknownProfile) {
		return err
	}

	p := tea.NewProgram(tui.InitialModel(profileName, existing))
	m, err := p.Run()
	if err != nil {
		return fmt.Errorf("the tea is rotten: %w", err)
	}
	// Assert the final tea.Model to our local model and print the choice.
	model, ok := m.(tui.Model)
	if !ok {
		return errors.New("can't assert tui model")
	}
	if model.Quit {
		fmt.Fprintln(cmd.ErrOrStderr(), "Not saving configuration...")
		return nil
	}

	name, profile := model.Profile(existing)
	path, err := configPath()
	if err != nil {
		return err
	}
	if err := conf.Save(viper.GetViper(), name, profile, path); err != nil {
		return err
	}
	fmt.Fprintln(cmd.ErrOrStderr(), "Config saved!", path)
	return nil
}

func configPath() (string, error) {
	if cfgFile != "" {
		return cfgFile, nil
	}
	if used := viper.ConfigFileUsed(); used != "" {
		return used, nil
	}
	dir, err := conf.Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, conf.FileName), nil
}
