package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/alfredjeanlab/panelsync/internal/events"
	"github.com/alfredjeanlab/panelsync/internal/model"
	"github.com/alfredjeanlab/panelsync/internal/notify"
	"github.com/alfredjeanlab/panelsync/internal/ui"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Run the pollers until interrupted, printing every update",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		out := cmd.OutOrStdout()
		for _, topic := range []string{
			events.TopicSettingsChanged,
			events.TopicNotificationsUpdated,
			events.TopicDashboardUpdated,
			events.TopicSessionEnded,
		} {
			unsub := panel.Bus.Subscribe(topic, func(_ context.Context, payload any) error {
				return printEvent(out, topic, payload)
			})
			defer unsub()
		}

		if err := panel.Start(ctx); err != nil {
			return err
		}
		<-ctx.Done()
		return nil
	},
}

type eventLine struct {
	Time    time.Time `json:"time"`
	Topic   string    `json:"topic"`
	Payload any       `json:"payload,omitempty"`
}

func printEvent(w io.Writer, topic string, payload any) error {
	now := time.Now()
	if jsonOutput {
		return printJSON(w, eventLine{Time: now, Topic: topic, Payload: payload})
	}

	stamp := ui.RenderMuted(now.Format(time.TimeOnly))
	switch p := payload.(type) {
	case model.Settings:
		fmt.Fprintf(w, "%s %s refresh=%ds notifications=%s auto-refresh=%s\n", stamp,
			ui.RenderAccent("settings"), p.RefreshIntervalSeconds,
			ui.RenderOnOff(p.NotificationsEnabled), ui.RenderOnOff(p.AutoRefreshEnabled))
	case notify.Snapshot:
		fmt.Fprintf(w, "%s %s %d items %s\n", stamp, ui.RenderAccent("notifications"),
			len(p.Items), ui.UnreadBadge(p.UnreadCount))
	case model.DashboardSnapshot:
		fmt.Fprintf(w, "%s %s %d users, %d active\n", stamp, ui.RenderAccent("dashboard"),
			p.Stats.TotalUsers, p.Stats.ActiveUsers)
	default:
		fmt.Fprintf(w, "%s %s\n", stamp, ui.RenderWarn(topic))
	}
	return nil
}
