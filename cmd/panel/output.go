package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/alfredjeanlab/panelsync/internal/model"
	"github.com/alfredjeanlab/panelsync/internal/notify"
	"github.com/alfredjeanlab/panelsync/internal/poller"
	"github.com/alfredjeanlab/panelsync/internal/ui"
)

func printJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling JSON: %w", err)
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

func printSettings(w io.Writer, s model.Settings) {
	fmt.Fprintf(w, "System name:      %s\n", s.SystemName)
	fmt.Fprintf(w, "API endpoint:     %s\n", s.APIEndpoint)
	fmt.Fprintf(w, "Refresh interval: %ds\n", s.RefreshIntervalSeconds)
	fmt.Fprintf(w, "Notifications:    %s\n", ui.RenderOnOff(s.NotificationsEnabled))
	fmt.Fprintf(w, "Auto refresh:     %s\n", ui.RenderOnOff(s.AutoRefreshEnabled))
}

func printNotifications(w io.Writer, snap notify.Snapshot) {
	fmt.Fprintf(w, "Notifications %s\n", ui.UnreadBadge(snap.UnreadCount))
	if len(snap.Items) == 0 {
		fmt.Fprintln(w, ui.RenderMuted("  none"))
		return
	}
	width := ui.TerminalWidth(100)
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tCREATED\tTITLE\tCONTENT")
	for _, n := range snap.Items {
		id := strconv.FormatInt(n.ID, 10)
		if !n.Read {
			id = ui.RenderAccent("*" + id)
		}
		created := ""
		if !n.CreatedAt.IsZero() {
			created = n.CreatedAt.Format("2006-01-02 15:04")
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", id, created, n.Title, ui.Truncate(n.Content, width/2))
	}
	tw.Flush()
}

func printDashboard(w io.Writer, snap model.DashboardSnapshot) {
	s := snap.Stats
	fmt.Fprintf(w, "Users: %d total, %s active, %s inactive, %d new today\n",
		s.TotalUsers, ui.RenderOK(strconv.Itoa(s.ActiveUsers)),
		ui.RenderMuted(strconv.Itoa(s.InactiveUsers)), s.TodayNewUsers)

	if len(snap.RoleDistribution) > 0 {
		fmt.Fprintln(w, "\nRoles:")
		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		for _, r := range snap.RoleDistribution {
			fmt.Fprintf(tw, "  %s\t%d\n", r.Name, r.Value)
		}
		tw.Flush()
	}
	if len(snap.UserGrowth) > 0 {
		fmt.Fprintln(w, "\nGrowth:")
		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		for _, g := range snap.UserGrowth {
			fmt.Fprintf(tw, "  %s\t%d\n", g.Date, g.Users)
		}
		tw.Flush()
	}
}

func printTasks(w io.Writer, tasks []poller.TaskStatus) {
	if len(tasks) == 0 {
		fmt.Fprintln(w, ui.RenderMuted("no tasks"))
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TASK\tSTATE\tINTERVAL\tRUNS\tNEXT\tLAST ERROR")
	for _, t := range tasks {
		next := "-"
		if !t.NextRunAt.IsZero() {
			next = t.NextRunAt.Format(time.TimeOnly)
		}
		lastErr := ""
		if t.LastError != nil {
			lastErr = ui.RenderError(t.LastError.Error())
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\t%s\n",
			t.Name, ui.RenderTaskState(t.State.String()), t.Interval, t.Runs, next, lastErr)
	}
	tw.Flush()
}
