package main

import (
	"fmt"

	"github.com/skalibog/perpbot/internal/config"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v2"
)

var settingsCmd = &cobra.Command{
	Use:   "settings",
	Short: "Торговые настройки",
}

var settingsShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Показать действующие настройки",
	RunE: func(cmd *cobra.Command, args []string) error {
		settings, err := config.NewStore(cfg.SettingsPath).Load()
		if err != nil {
			return err
		}
		data, err := yaml.Marshal(settings)
		if err != nil {
			return fmt.Errorf("ошибка сериализации настроек: %w", err)
		}
		_, err = cmd.OutOrStdout().Write(data)
		return err
	},
}

var settingsInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Записать настройки по умолчанию",
	RunE: func(cmd *cobra.Command, args []string) error {
		store := config.NewStore(cfg.SettingsPath)
		if err := store.Save(config.DefaultSettings()); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Настройки по умолчанию записаны в %s\n", store.Path())
		return nil
	},
}

func init() {
	settingsCmd.AddCommand(settingsShowCmd, settingsInitCmd)
	rootCmd.AddCommand(settingsCmd)
}
