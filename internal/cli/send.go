package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"gpuwatch/internal/app"
	"gpuwatch/internal/config"
	"gpuwatch/internal/notifier"
	logx "gpuwatch/pkg/logx"
)

func newSendCmd() *cobra.Command {
	var title, body, job string
	cmd := &cobra.Command{
		Use:   "send",
		Short: "Send a test notification to every recipient",
		Long: "Send a test notification to every recipient.\n\n" +
			"With --job, run one monitor job (poll, reset_limit, heartbeat) once instead.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if job != "" {
				return runJobOnce(cmd, job)
			}
			cfg, err := config.NewConfigManager(configPath(cmd)).Load()
			if err != nil {
				return err
			}
			d, err := app.OpenDispatcher(cfg, nil, nil, logx.NewConsole("info"))
			if err != nil {
				return err
			}
			failed := 0
			for _, o := range d.SendToAll(cmd.Context(), notifier.NewNotification(title, body)) {
				status := "ok"
				if !o.OK() {
					status = o.Err.Error()
					failed++
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%d attempt(s)\t%s\n", notifier.MaskKey(o.Recipient), o.Attempts, status)
			}
			if failed > 0 {
				return errors.New("some recipients were not reached")
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&title, "title", "gpuwatch", "notification title")
	cmd.Flags().StringVar(&body, "body", "hello", "notification body")
	cmd.Flags().StringVar(&job, "job", "", "run a monitor job once instead of a test notification")
	return cmd
}

func runJobOnce(cmd *cobra.Command, job string) error {
	a, err := app.NewApp(configPath(cmd), app.WithLogger(logx.NewConsole("info")))
	if err != nil {
		return err
	}
	if err := a.RunJob(cmd.Context(), job); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "job %s: ok\n", job)
	return nil
}
