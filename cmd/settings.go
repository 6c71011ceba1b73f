package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Tiliavir/stampclock/internal/model"
)

var (
	setRounding        string
	setRolloverDay     int
	setRolloverHour    int
	setLanguage        string
	setAutoBackup      bool
	setBackupFrequency string
)

var settingsCmd = &cobra.Command{
	Use:   "settings",
	Short: "Show or change your preferences",
	Args:  cobra.NoArgs,
	RunE:  runSettingsShow,
}

var settingsShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show preferences",
	Args:  cobra.NoArgs,
	RunE:  runSettingsShow,
}

var settingsSetCmd = &cobra.Command{
	Use:   "set",
	Short: "Change preferences",
	Args:  cobra.NoArgs,
	RunE:  runSettingsSet,
}

func init() {
	f := settingsSetCmd.Flags()
	f.StringVar(&setRounding, "rounding", "", "Rounding: none, 5, 10 or 15")
	f.IntVar(&setRolloverDay, "rollover-day", 1, "Day of month a period starts (1-31)")
	f.IntVar(&setRolloverHour, "rollover-hour", 0, "Hour a period starts (0-23)")
	f.StringVar(&setLanguage, "language", "", "Language: da or en")
	f.BoolVar(&setAutoBackup, "auto-backup", false, "Enable automatic backups")
	f.StringVar(&setBackupFrequency, "backup-frequency", "", "Backup frequency: daily, weekly or monthly")
	settingsCmd.AddCommand(settingsShowCmd, settingsSetCmd)
}

func printSettings(s model.Settings) {
	fmt.Printf("Rounding:       %s\n", s.Rounding)
	fmt.Printf("Rollover:       day %d, %02d:00\n", s.RolloverDay, s.RolloverHour)
	fmt.Printf("Language:       %s\n", s.Language)
	fmt.Printf("Auto backup:    %t (%s)\n", s.AutoBackup, s.BackupFrequency)
}

func runSettingsShow(cmd *cobra.Command, args []string) error {
	return withApp(func(ctx context.Context, a *app) error {
		s, err := a.tracker.Settings(ctx)
		if err != nil {
			return err
		}
		printSettings(s)
		return nil
	})
}

func runSettingsSet(cmd *cobra.Command, args []string) error {
	var patch model.SettingsPatch
	flags := cmd.Flags()
	if flags.Changed("rounding") {
		r, err := model.ParseRounding(setRounding)
		if err != nil {
			return err
		}
		patch.Rounding = &r
	}
	if flags.Changed("rollover-day") {
		patch.RolloverDay = &setRolloverDay
	}
	if flags.Changed("rollover-hour") {
		patch.RolloverHour = &setRolloverHour
	}
	if flags.Changed("language") {
		patch.Language = &setLanguage
	}
	if flags.Changed("auto-backup") {
		patch.AutoBackup = &setAutoBackup
	}
	if flags.Changed("backup-frequency") {
		patch.BackupFrequency = &setBackupFrequency
	}
	if patch == (model.SettingsPatch{}) {
		return fmt.Errorf("nothing to change: see 'stamp settings set --help'")
	}

	return withApp(func(ctx context.Context, a *app) error {
		s, err := a.tracker.UpdateSettings(ctx, patch)
		if err != nil {
			return err
		}
		printSettings(s)
		return nil
	})
}
